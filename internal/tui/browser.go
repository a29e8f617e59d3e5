package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/sessions"
)

// BrowserModel lists sessions and opens a detail view for the one under the
// cursor. The list keeps polling while a detail is open.
type BrowserModel struct {
	ctx     context.Context
	api     client.API
	browser *sessions.Browser
	changes Signal
	logger  *slog.Logger

	keys      keyMap
	help      help.Model
	filter    textinput.Model
	filtering bool

	detail *DetailModel
}

// NewBrowser wires a sessions browser to changes. ideas may be nil.
func NewBrowser(ctx context.Context, api client.API, ideas sessions.IdeaSource, changes Signal, logger *slog.Logger) *BrowserModel {
	filter := textinput.New()
	filter.Prompt = "/ "
	filter.Placeholder = "filter by id"
	filter.Width = 40

	return &BrowserModel{
		ctx: ctx,
		api: api,
		browser: sessions.NewBrowser(api, sessions.BrowserOptions{
			Ideas:    ideas,
			Logger:   logger,
			OnChange: changes.Notify,
		}),
		changes: changes,
		logger:  logger,
		keys:    newKeyMap(),
		help:    help.New(),
		filter:  filter,
	}
}

func (m *BrowserModel) Init() tea.Cmd {
	m.browser.Start(m.ctx)
	return m.changes.wait()
}

// Close stops every poller the model started.
func (m *BrowserModel) Close() {
	m.closeDetail()
	m.browser.Stop()
}

func (m *BrowserModel) openDetail(id string) {
	m.closeDetail()
	m.detail = NewDetail(m.api, id, sessions.DetailOptions{
		Logger:   m.logger,
		OnChange: m.changes.Notify,
	})
	m.detail.Mount(m.ctx)
}

func (m *BrowserModel) closeDetail() {
	if m.detail != nil {
		m.detail.Unmount()
		m.detail = nil
	}
}

func (m *BrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changedMsg:
		return m, m.changes.wait()
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *BrowserModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.Close()
		return m, tea.Quit
	}

	if m.detail != nil {
		if key.Matches(msg, m.keys.quit) {
			m.Close()
			return m, tea.Quit
		}
		if m.detail.HandleKey(msg) {
			m.closeDetail()
		}
		return m, nil
	}

	if m.filtering {
		switch msg.Type {
		case tea.KeyEnter, tea.KeyEsc:
			m.filtering = false
			m.filter.Blur()
			if msg.Type == tea.KeyEsc {
				m.filter.SetValue("")
				m.browser.SetFilter("")
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.browser.SetFilter(m.filter.Value())
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		m.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.up):
		m.browser.Move(-1)
	case key.Matches(msg, m.keys.down):
		m.browser.Move(1)
	case key.Matches(msg, m.keys.filter):
		m.filtering = true
		m.filter.Focus()
		return m, textinput.Blink
	case key.Matches(msg, m.keys.refresh):
		m.browser.Refresh()
	case key.Matches(msg, m.keys.enter):
		if id, ok := m.browser.Selected(); ok {
			m.openDetail(id)
		}
	}
	return m, nil
}

func (m *BrowserModel) View() string {
	if m.detail != nil {
		return m.detail.View()
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Sessions"))
	b.WriteString("\n\n")
	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View() + "\n\n")
	}

	if !m.browser.Loaded() {
		b.WriteString(mutedStyle.Render("loading…"))
	} else {
		b.WriteString(renderEntries(m.browser.Visible(), m.browser.Cursor()))
	}

	b.WriteString("\n\n")
	b.WriteString(m.help.View(helpKeys{m.keys.up, m.keys.down, m.keys.enter, m.keys.filter, m.keys.refresh, m.keys.quit}))
	return b.String()
}

func renderEntries(entries []sessions.Entry, cursor int) string {
	if len(entries) == 0 {
		return mutedStyle.Render("no sessions")
	}
	var b strings.Builder
	for i, e := range entries {
		row := e.ID
		if e.Idea != "" {
			row = fmt.Sprintf("%s  %s", e.ID, mutedStyle.Render(e.Idea))
		}
		if i == cursor {
			b.WriteString(selectedStyle.Render("› ") + row)
		} else {
			b.WriteString("  " + row)
		}
		if i < len(entries)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func helpLine(bindings ...key.Binding) string {
	return help.New().View(helpKeys(bindings))
}
