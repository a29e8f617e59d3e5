package wizard

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/logging"
	"github.com/reelforge/reelforge/internal/poller"
	"github.com/reelforge/reelforge/internal/progress"
	"github.com/reelforge/reelforge/internal/store"
)

// StateStore persists the wizard between runs. store.SQLiteRepository
// satisfies it.
type StateStore interface {
	LoadWizardState(ctx context.Context) (*store.WizardState, error)
	SaveWizardState(ctx context.Context, state *store.WizardState) error
	ClearWizardState(ctx context.Context) error
	RecordSession(ctx context.Context, sessionID, idea string) error
}

type Options struct {
	// Store is optional. Without it nothing survives a restart.
	Store  StateStore
	Logger *slog.Logger
	// OnChange is called after every state change, outside any lock.
	OnChange func()
	// PollInterval overrides poller.WizardInterval.
	PollInterval time.Duration
	DefaultVoice string
	DefaultMode  string
}

// View is a consistent copy of the controller state for rendering.
type View struct {
	Stage      Stage
	SessionID  string
	Idea       string
	Scripts    *client.ScriptsResponse
	Selected   string
	Voice      string
	Mode       string
	Error      string
	Busy       bool
	RunMessage string
	Status     *client.Session
	Segments   []progress.Segment
}

// SelectedScript returns the chosen candidate, if any.
func (v View) SelectedScript() (client.Script, bool) {
	return v.Scripts.Script(v.Selected)
}

// Controller owns the wizard state. Actions block on the network and are
// meant to run off the UI loop; at most one runs at a time.
type Controller struct {
	api    client.API
	store  StateStore
	logger *slog.Logger
	notify func()
	status *poller.Poller[*client.Session]

	mu         sync.Mutex
	scope      context.Context
	busy       bool
	sessionID  string
	idea       string
	scripts    *client.ScriptsResponse
	selected   string
	voice      string
	mode       string
	last       Action
	genFailed  bool
	errMsg     string
	runMessage string
	snapshot   *client.Session
}

func NewController(api client.API, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	mode := opts.DefaultMode
	if mode == "" {
		mode = client.ModeVideos
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = poller.WizardInterval
	}

	c := &Controller{
		api:    api,
		store:  opts.Store,
		logger: logging.WithComponent(logger, "wizard"),
		notify: opts.OnChange,
		scope:  context.Background(),
		voice:  opts.DefaultVoice,
		mode:   mode,
		last:   ActionNone,
	}

	c.status = poller.New(poller.Config[*client.Session]{
		Name:     "wizard-progress",
		Interval: interval,
		Fetch:    c.fetchStatus,
		Active:   func() bool { return c.Stage() == Progress },
		OnResult: c.applyStatus,
		Logger:   logger,
	})
	return c
}

// Start restores persisted state and, if the wizard was already running a
// session, resumes polling it. ctx bounds the progress poller.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.scope = ctx
	c.mu.Unlock()

	if c.store != nil {
		saved, err := c.store.LoadWizardState(ctx)
		if err != nil {
			return err
		}
		if saved != nil {
			c.mu.Lock()
			c.sessionID = saved.SessionID
			c.selected = saved.SelectedScript
			if saved.Voice != "" {
				c.voice = saved.Voice
			}
			if saved.Mode != "" {
				c.mode = saved.Mode
			}
			c.last = ParseAction(saved.LastAction)
			c.mu.Unlock()
			c.logger.Info("wizard state restored",
				"session_id", saved.SessionID,
				"stage", c.Stage().String(),
			)
		}
	}

	if c.Stage() == Progress {
		c.status.Start(ctx)
	}
	c.changed()
	return nil
}

// Close stops the progress poller. A fetch already in flight finishes but
// its result is dropped.
func (c *Controller) Close() {
	c.status.Stop()
}

func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stageLocked()
}

func (c *Controller) stageLocked() Stage {
	return InferStage(Facts{
		HasSession: c.sessionID != "",
		HasScripts:     c.scripts != nil,
		LastAction:     c.last,
		GenerateFailed: c.genFailed,
	})
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Stage:      c.stageLocked(),
		SessionID:  c.sessionID,
		Idea:       c.idea,
		Scripts:    c.scripts,
		Selected:   c.selected,
		Voice:      c.voice,
		Mode:       c.mode,
		Error:      c.errMsg,
		Busy:       c.busy,
		RunMessage: c.runMessage,
		Status:     c.snapshot,
	}
	var selected *client.Script
	if s, ok := c.scripts.Script(c.selected); ok {
		selected = &s
	}
	if c.snapshot != nil || selected != nil {
		v.Segments = progress.FromSnapshot(selected, c.snapshot)
	}
	return v
}

// CanCreate reports whether Create would pass its guards for idea.
func (c *Controller) CanCreate(idea string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.busy && strings.TrimSpace(idea) != "" && c.stageLocked() == IdeaEntry
}

func (c *Controller) CanRegenerate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.busy && c.sessionID != "" && c.stageLocked() == ScriptSelection
}

func (c *Controller) CanContinue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.busy && c.stageLocked() == ScriptSelection && c.scripts.HasKey(c.selected)
}

func (c *Controller) CanRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.busy && c.stageLocked() == Configuration && c.sessionID != "" && c.selected != ""
}

// Create starts a session for idea and fetches its candidate scripts, one
// call after the other. If the session was created but generation failed,
// calling Create again retries only the generation for that session and
// keeps the original idea.
func (c *Controller) Create(ctx context.Context, idea string) error {
	idea = strings.TrimSpace(idea)

	c.mu.Lock()
	switch {
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	case idea == "":
		c.mu.Unlock()
		return invalid(ActionCreate, "idea is empty")
	case c.stageLocked() != IdeaEntry:
		c.mu.Unlock()
		return invalid(ActionCreate, "a session is already in progress")
	}
	c.busy = true
	sessionID := c.sessionID
	if sessionID == "" {
		c.idea = idea
	}
	c.mu.Unlock()
	c.changed()

	if sessionID == "" {
		created, err := c.api.CreateSession(ctx, idea)
		if err != nil {
			c.fail(ActionCreate, err)
			return err
		}
		sessionID = created.SessionID

		c.mu.Lock()
		c.sessionID = sessionID
		c.last = ActionCreate
		c.selected = ""
		c.mu.Unlock()
		c.persist(ctx)

		if c.store != nil {
			if err := c.store.RecordSession(ctx, sessionID, idea); err != nil {
				c.logger.Warn("failed to record session", "session_id", sessionID, "error", err)
			}
		}
	}

	scripts, err := c.api.GenerateScripts(ctx, sessionID)
	if err != nil {
		c.mu.Lock()
		c.genFailed = true
		c.mu.Unlock()
		c.fail(ActionCreate, err)
		return err
	}

	c.mu.Lock()
	c.scripts = scripts
	c.selected = DefaultSelection(c.selected, scripts.OrderedKeys)
	c.last = ActionCreate
	c.genFailed = false
	c.errMsg = ""
	c.busy = false
	c.mu.Unlock()

	logging.WithSessionID(c.logger, sessionID).Info("candidates ready", "count", len(scripts.OrderedKeys))
	c.persist(ctx)
	c.changed()
	return nil
}

// Regenerate replaces the candidate scripts wholesale. A selection that is
// not among the new candidates falls back to the first one.
func (c *Controller) Regenerate(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	case c.sessionID == "":
		c.mu.Unlock()
		return invalid(ActionRegenerate, "no session")
	case c.stageLocked() != ScriptSelection:
		c.mu.Unlock()
		return invalid(ActionRegenerate, "scripts can only be regenerated before configuring")
	}
	c.busy = true
	sessionID := c.sessionID
	c.mu.Unlock()
	c.changed()

	scripts, err := c.api.GenerateScripts(ctx, sessionID)
	if err != nil {
		c.fail(ActionRegenerate, err)
		return err
	}

	c.mu.Lock()
	previous := c.selected
	c.scripts = scripts
	c.selected = ReconcileSelection(previous, scripts.OrderedKeys)
	c.last = ActionRegenerate
	c.errMsg = ""
	c.busy = false
	selected := c.selected
	c.mu.Unlock()

	if previous != "" && previous != selected {
		c.logger.Info("selected script no longer offered", "previous", previous, "selected", selected)
	}
	c.persist(ctx)
	c.changed()
	return nil
}

// Select chooses one of the offered candidates.
func (c *Controller) Select(key string) error {
	c.mu.Lock()
	if c.stageLocked() != ScriptSelection {
		c.mu.Unlock()
		return invalid(ActionNone, "scripts are not being selected")
	}
	if !c.scripts.HasKey(key) {
		c.mu.Unlock()
		return invalid(ActionNone, "unknown script "+key)
	}
	c.selected = key
	c.mu.Unlock()

	c.persist(c.scopeContext())
	c.changed()
	return nil
}

// Continue moves from script selection to configuration.
func (c *Controller) Continue() error {
	return c.advance(ActionContinue, ScriptSelection, func() bool {
		return c.scripts.HasKey(c.selected)
	}, "no script selected")
}

// Back returns from configuration to script selection.
func (c *Controller) Back() error {
	return c.advance(ActionBack, Configuration, func() bool { return true }, "")
}

func (c *Controller) advance(action Action, from Stage, guard func() bool, msg string) error {
	c.mu.Lock()
	switch {
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	case c.stageLocked() != from:
		c.mu.Unlock()
		return invalid(action, "not available in stage "+c.stageLocked().String())
	case !guard():
		c.mu.Unlock()
		return invalid(action, msg)
	}
	c.last = action
	c.mu.Unlock()

	c.persist(c.scopeContext())
	c.changed()
	return nil
}

// SetVoice sets the narration voice sent with Run. Empty means server default.
func (c *Controller) SetVoice(voice string) {
	c.mu.Lock()
	c.voice = voice
	c.mu.Unlock()
	c.persist(c.scopeContext())
	c.changed()
}

// SetMode sets the generation mode sent with Run. The value is not checked.
func (c *Controller) SetMode(mode string) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	c.persist(c.scopeContext())
	c.changed()
}

// Run starts generation of the selected script and triggers one status
// refresh right away. Progress is then polled until Reset or Close.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	case c.stageLocked() != Configuration:
		c.mu.Unlock()
		return invalid(ActionRun, "not available in stage "+c.stageLocked().String())
	case c.sessionID == "" || c.selected == "":
		c.mu.Unlock()
		return invalid(ActionRun, "no script selected")
	}
	c.busy = true
	sessionID := c.sessionID
	req := client.RunRequest{ScriptKey: c.selected, Voice: c.voice, Mode: c.mode}
	c.mu.Unlock()
	c.changed()

	resp, err := c.api.RunSession(ctx, sessionID, req)
	if err != nil {
		c.fail(ActionRun, err)
		return err
	}

	c.mu.Lock()
	c.last = ActionRun
	c.runMessage = resp.Message
	c.errMsg = ""
	c.busy = false
	c.snapshot = nil
	scope := c.scope
	c.mu.Unlock()

	logging.WithSessionID(c.logger, sessionID).Info("run started", "script_key", req.ScriptKey, "mode", req.Mode)
	c.persist(ctx)

	if c.status.IsRunning() {
		c.status.RefreshNow()
	} else {
		c.status.Start(scope)
	}
	c.changed()
	return nil
}

// Reset abandons the current session in the wizard and returns to idea
// entry. The session itself keeps running on the server.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	c.status.Stop()

	c.mu.Lock()
	c.sessionID = ""
	c.idea = ""
	c.scripts = nil
	c.selected = ""
	c.last = ActionNone
	c.genFailed = false
	c.errMsg = ""
	c.runMessage = ""
	c.snapshot = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.ClearWizardState(ctx); err != nil {
			c.logger.Warn("failed to clear wizard state", "error", err)
		}
	}
	c.changed()
	return nil
}

// RefreshStatus asks the progress poller for an immediate fetch.
func (c *Controller) RefreshStatus() {
	c.status.RefreshNow()
}

func (c *Controller) fetchStatus(ctx context.Context) (*client.Session, error) {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()
	return c.api.GetSession(ctx, id)
}

func (c *Controller) applyStatus(s *client.Session) {
	c.mu.Lock()
	if s.SessionID != "" && s.SessionID != c.sessionID {
		c.mu.Unlock()
		return
	}
	c.snapshot = s
	c.mu.Unlock()
	c.changed()
}

// fail writes err into the error slot and ends the busy period.
func (c *Controller) fail(action Action, err error) {
	c.mu.Lock()
	c.errMsg = err.Error()
	c.busy = false
	sessionID := c.sessionID
	c.mu.Unlock()

	c.logger.Warn("wizard action failed",
		"action", string(action),
		"session_id", sessionID,
		"network", client.IsNetworkError(err),
		"error", err,
	)
	c.persist(c.scopeContext())
	c.changed()
}

func (c *Controller) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.mu.Lock()
	state := &store.WizardState{
		SessionID:      c.sessionID,
		SelectedScript: c.selected,
		Voice:          c.voice,
		Mode:           c.mode,
		LastAction:     string(c.last),
	}
	c.mu.Unlock()

	if err := c.store.SaveWizardState(context.WithoutCancel(ctx), state); err != nil {
		c.logger.Warn("failed to save wizard state", "error", err)
	}
}

func (c *Controller) scopeContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

func (c *Controller) changed() {
	if c.notify != nil {
		c.notify()
	}
}
