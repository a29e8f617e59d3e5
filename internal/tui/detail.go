package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/sessions"
)

// DetailModel shows one session. It polls only while mounted: Mount starts
// the poller and Unmount stops it.
type DetailModel struct {
	detail *sessions.Detail
	api    client.API
	keys   keyMap
}

func NewDetail(api client.API, id string, opts sessions.DetailOptions) *DetailModel {
	return &DetailModel{
		detail: sessions.NewDetail(api, id, opts),
		api:    api,
		keys:   newKeyMap(),
	}
}

func (m *DetailModel) Mount(ctx context.Context) {
	m.detail.Start(ctx)
}

func (m *DetailModel) Unmount() {
	m.detail.Stop()
}

func (m *DetailModel) SessionID() string {
	return m.detail.SessionID()
}

// HandleKey reports whether the user asked to leave the view.
func (m *DetailModel) HandleKey(msg tea.KeyMsg) (closed bool) {
	switch {
	case key.Matches(msg, m.keys.back):
		return true
	case key.Matches(msg, m.keys.refresh):
		m.detail.Refresh()
	}
	return false
}

func (m *DetailModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Session detail"))
	b.WriteString("\n\n")
	b.WriteString(RenderSession(m.detail.Snapshot(), m.api.AbsoluteURL))
	if updated := m.detail.Updated(); !updated.IsZero() {
		b.WriteString("\n\n" + mutedStyle.Render("updated "+humanize.Time(updated)))
	}
	b.WriteString("\n\n")
	b.WriteString(helpLine(m.keys.refresh, m.keys.back, m.keys.quit))
	return b.String()
}
