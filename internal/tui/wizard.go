package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/sessions"
	"github.com/reelforge/reelforge/internal/wizard"
)

// WizardModel is the four-stage wizard. The controller holds all state; the
// model keeps only cursors and widgets.
type WizardModel struct {
	ctx     context.Context
	ctrl    *wizard.Controller
	api     client.API
	changes Signal

	keys     keyMap
	help     help.Model
	idea     textinput.Model
	spinner  spinner.Model
	bar      progressbar.Model
	showHelp bool

	voices      []client.Voice
	voiceCursor int
	status      string
	autoFetched bool
}

// NewWizard builds the wizard view. changes must be the Signal passed as the
// controller's OnChange.
func NewWizard(ctx context.Context, ctrl *wizard.Controller, api client.API, changes Signal) *WizardModel {
	idea := textinput.New()
	idea.Placeholder = "A lighthouse keeper befriends a storm"
	idea.Prompt = "> "
	idea.CharLimit = 500
	idea.Width = 60
	idea.Focus()

	return &WizardModel{
		ctx:     ctx,
		ctrl:    ctrl,
		api:     api,
		changes: changes,
		keys:    newKeyMap(),
		help:    help.New(),
		idea:    idea,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithWidth(40)),
	}
}

func (m *WizardModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.changes.wait(), m.loadVoices(), m.maybeFetchScripts())
}

func (m *WizardModel) loadVoices() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.api.GetVoicesFlat(m.ctx)
		if err != nil {
			return voicesMsg{err: err}
		}
		return voicesMsg{voices: resp.Voices}
	}
}

// maybeFetchScripts refetches candidates once when a restored session has
// none cached.
func (m *WizardModel) maybeFetchScripts() tea.Cmd {
	v := m.ctrl.View()
	if m.autoFetched || v.Stage != wizard.ScriptSelection || v.Scripts != nil || !m.ctrl.CanRegenerate() {
		return nil
	}
	m.autoFetched = true
	return m.action("regenerate", m.ctrl.Regenerate)
}

func (m *WizardModel) action(name string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{name: name, err: fn(m.ctx)}
	}
}

func (m *WizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changedMsg:
		return m, tea.Batch(m.changes.wait(), m.maybeFetchScripts())

	case actionMsg:
		m.status = ""
		if msg.err == nil && msg.name == "run" {
			m.status = "generation started"
		}
		return m, nil

	case voicesMsg:
		if msg.err == nil {
			m.voices = m.voices[:0]
			for _, g := range client.GroupVoices(msg.voices) {
				m.voices = append(m.voices, g.Voices...)
			}
			m.voiceCursor = m.indexOfVoice(m.ctrl.View().Voice)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-20, 10), 80)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *WizardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	v := m.ctrl.View()
	if v.Stage == wizard.IdeaEntry {
		switch msg.Type {
		case tea.KeyEnter:
			idea := m.idea.Value()
			if !m.ctrl.CanCreate(idea) {
				return m, nil
			}
			return m, m.action("create", func(ctx context.Context) error {
				return m.ctrl.Create(ctx, idea)
			})
		case tea.KeyEsc:
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.idea, cmd = m.idea.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.showHelp = !m.showHelp
		return m, nil
	}

	switch v.Stage {
	case wizard.ScriptSelection:
		return m.handleSelectionKey(msg, v)
	case wizard.Configuration:
		return m.handleConfigKey(msg, v)
	case wizard.Progress:
		return m.handleProgressKey(msg)
	}
	return m, nil
}

func (m *WizardModel) handleSelectionKey(msg tea.KeyMsg, v wizard.View) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.up), key.Matches(msg, m.keys.down):
		if v.Scripts == nil || len(v.Scripts.OrderedKeys) == 0 {
			return m, nil
		}
		keys := v.Scripts.OrderedKeys
		i := indexOf(keys, v.Selected)
		if key.Matches(msg, m.keys.up) {
			i = max(i-1, 0)
		} else {
			i = min(i+1, len(keys)-1)
		}
		m.ctrl.Select(keys[i])
	case key.Matches(msg, m.keys.regenerate):
		if m.ctrl.CanRegenerate() {
			return m, m.action("regenerate", m.ctrl.Regenerate)
		}
	case key.Matches(msg, m.keys.enter):
		if m.ctrl.CanContinue() {
			m.ctrl.Continue()
		}
	case key.Matches(msg, m.keys.reset):
		return m, m.resetCmd()
	}
	return m, nil
}

func (m *WizardModel) handleConfigKey(msg tea.KeyMsg, v wizard.View) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.up):
		m.voiceCursor = max(m.voiceCursor-1, 0)
		m.ctrl.SetVoice(m.voiceAt(m.voiceCursor))
	case key.Matches(msg, m.keys.down):
		m.voiceCursor = min(m.voiceCursor+1, len(m.voices))
		m.ctrl.SetVoice(m.voiceAt(m.voiceCursor))
	case key.Matches(msg, m.keys.mode):
		if v.Mode == client.ModeImages {
			m.ctrl.SetMode(client.ModeVideos)
		} else {
			m.ctrl.SetMode(client.ModeImages)
		}
	case key.Matches(msg, m.keys.back):
		m.ctrl.Back()
	case key.Matches(msg, m.keys.enter):
		if m.ctrl.CanRun() {
			return m, m.action("run", m.ctrl.Run)
		}
	}
	return m, nil
}

func (m *WizardModel) handleProgressKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.refresh):
		m.ctrl.RefreshStatus()
	case key.Matches(msg, m.keys.reset):
		return m, m.resetCmd()
	}
	return m, nil
}

func (m *WizardModel) resetCmd() tea.Cmd {
	m.idea.SetValue("")
	m.idea.Focus()
	m.autoFetched = false
	return m.action("reset", m.ctrl.Reset)
}

// voiceAt maps the cursor to a voice name. Position 0 is the server default.
func (m *WizardModel) voiceAt(i int) string {
	if i <= 0 || i > len(m.voices) {
		return ""
	}
	return m.voices[i-1].Name
}

func (m *WizardModel) indexOfVoice(name string) int {
	for i, v := range m.voices {
		if v.Name == name {
			return i + 1
		}
	}
	return 0
}

func indexOf(keys []string, k string) int {
	for i, candidate := range keys {
		if candidate == k {
			return i
		}
	}
	return 0
}

func (m *WizardModel) View() string {
	v := m.ctrl.View()

	var b strings.Builder
	b.WriteString(titleStyle.Render("reelforge"))
	b.WriteString("  ")
	b.WriteString(renderStages(v.Stage))
	b.WriteString("\n\n")

	switch v.Stage {
	case wizard.IdeaEntry:
		b.WriteString(m.viewIdea(v))
	case wizard.ScriptSelection:
		b.WriteString(m.viewScripts(v))
	case wizard.Configuration:
		b.WriteString(m.viewConfig(v))
	case wizard.Progress:
		b.WriteString(m.viewProgress(v))
	}

	if v.Busy {
		b.WriteString("\n\n" + m.spinner.View() + " working…")
	}
	if v.Error != "" {
		b.WriteString("\n\n" + errorStyle.Render(v.Error))
	}
	if m.status != "" {
		b.WriteString("\n" + mutedStyle.Render(m.status))
	}
	b.WriteString("\n\n" + m.helpView(v.Stage))
	return b.String()
}

func renderStages(current wizard.Stage) string {
	stages := []wizard.Stage{wizard.IdeaEntry, wizard.ScriptSelection, wizard.Configuration, wizard.Progress}
	parts := make([]string, len(stages))
	for i, s := range stages {
		label := fmt.Sprintf("%d %s", i+1, s)
		if s == current {
			parts[i] = stageStyle.Render(label)
		} else {
			parts[i] = mutedStyle.Render(label)
		}
	}
	return strings.Join(parts, mutedStyle.Render(" › "))
}

func (m *WizardModel) viewIdea(v wizard.View) string {
	var b strings.Builder
	b.WriteString("What should the video be about?\n")
	b.WriteString(m.idea.View())
	if v.SessionID != "" {
		b.WriteString("\n" + mutedStyle.Render("session "+v.SessionID+" exists; enter retries script generation"))
	}
	return b.String()
}

func (m *WizardModel) viewScripts(v wizard.View) string {
	if v.Scripts == nil {
		return mutedStyle.Render("no candidates loaded for session " + v.SessionID + "; press r to fetch them")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pick a script for %q\n\n", v.Idea)
	for _, k := range v.Scripts.OrderedKeys {
		if k == v.Selected {
			b.WriteString(selectedStyle.Render("● " + k))
		} else {
			b.WriteString("○ " + k)
		}
		b.WriteString("\n")
	}
	if s, ok := v.SelectedScript(); ok {
		b.WriteString("\n" + boxStyle.Render(renderScript(s)))
	}
	return b.String()
}

func (m *WizardModel) viewConfig(v wizard.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Script  %s\n", selectedStyle.Render(v.Selected))
	fmt.Fprintf(&b, "Mode    %s  %s\n\n", v.Mode, mutedStyle.Render("(m to toggle)"))
	b.WriteString("Voice\n")

	rows := []string{"(server default)"}
	for _, voice := range m.voices {
		rows = append(rows, fmt.Sprintf("%-24s %s", voice.Name, mutedStyle.Render(voice.GroupKey())))
	}
	for i, row := range rows {
		if i == m.voiceCursor {
			b.WriteString(selectedStyle.Render("› " + row))
		} else {
			b.WriteString("  " + row)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *WizardModel) viewProgress(v wizard.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", v.SessionID)
	if v.RunMessage != "" {
		b.WriteString(mutedStyle.Render(v.RunMessage) + "\n")
	}
	if v.Status == nil {
		b.WriteString("\n" + m.spinner.View() + " waiting for status…")
		return b.String()
	}

	fmt.Fprintf(&b, "State   %s\n\n", stageStyle.Render(v.Status.State))
	b.WriteString(renderBar(m.bar, v.Segments) + "\n\n")
	b.WriteString(renderSegments(v.Segments) + "\n\n")
	if v.Status.Error != "" {
		b.WriteString(errorStyle.Render("Error: "+v.Status.Error) + "\n")
	}
	b.WriteString(renderArtifact(sessions.PreferredArtifact(v.Status, m.api.AbsoluteURL)))
	return b.String()
}

func (m *WizardModel) helpView(stage wizard.Stage) string {
	var keys helpKeys
	switch stage {
	case wizard.IdeaEntry:
		keys = helpKeys{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "create")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "quit")),
		}
	case wizard.ScriptSelection:
		keys = helpKeys{m.keys.up, m.keys.down, m.keys.regenerate, m.keys.enter, m.keys.reset, m.keys.quit}
	case wizard.Configuration:
		keys = helpKeys{m.keys.up, m.keys.down, m.keys.mode, m.keys.back, m.keys.enter, m.keys.quit}
	case wizard.Progress:
		keys = helpKeys{m.keys.refresh, m.keys.reset, m.keys.quit}
	}
	m.help.ShowAll = m.showHelp
	return m.help.View(keys)
}
