// Package tui renders the wizard, the sessions browser and the session detail
// view with bubbletea. Models never call the API directly from Update; every
// network call runs in a tea.Cmd and reports back as a message.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/reelforge/reelforge/internal/client"
)

// Signal carries "state changed" notifications from pollers and controllers
// into the bubbletea loop. Notifications coalesce.
type Signal chan struct{}

func NewSignal() Signal {
	return make(Signal, 1)
}

// Notify never blocks.
func (s Signal) Notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}

func (s Signal) wait() tea.Cmd {
	return func() tea.Msg {
		<-s
		return changedMsg{}
	}
}

type changedMsg struct{}

type actionMsg struct {
	name string
	err  error
}

type voicesMsg struct {
	voices []client.Voice
	err    error
}

