package ui

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
	"github.com/pkg/browser"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/logging"
	"github.com/reelforge/reelforge/internal/progress"
	"github.com/reelforge/reelforge/internal/sessions"
)

//go:embed icon.png
var iconBytes []byte

// Tray follows one session from the system tray.
type Tray struct {
	detail *sessions.Detail
	api    client.API
	logger *slog.Logger

	statusItem   *systray.MenuItem
	progressItem *systray.MenuItem
	openItem     *systray.MenuItem

	mu       sync.Mutex
	ready    bool
	artifact sessions.Artifact

	onOpen func(url string) error
	onQuit func()
}

type TrayConfig struct {
	API       client.API
	SessionID string
	Logger    *slog.Logger
	// OnOpen receives the URL of the preferred video. Defaults to the
	// platform's browser.
	OnOpen func(url string) error
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	onOpen := cfg.OnOpen
	if onOpen == nil {
		onOpen = browser.OpenURL
	}
	t := &Tray{
		api:    cfg.API,
		logger: logger,
		onOpen: onOpen,
		onQuit: cfg.OnQuit,
	}
	t.detail = sessions.NewDetail(cfg.API, cfg.SessionID, sessions.DetailOptions{
		Logger:   cfg.Logger,
		OnChange: t.refresh,
	})
	return t
}

// Run blocks until the tray quits. ctx bounds the status poller.
func (t *Tray) Run(ctx context.Context) {
	systray.Run(func() { t.onReady(ctx) }, t.onExit)
}

func (t *Tray) onReady(ctx context.Context) {
	systray.SetIcon(iconBytes)
	systray.SetTitle("reelforge")
	systray.SetTooltip("reelforge " + t.detail.SessionID())

	t.statusItem = systray.AddMenuItem("Status: loading", "Session state")
	t.statusItem.Disable()

	t.progressItem = systray.AddMenuItem("Segments: -", "Finished segments")
	t.progressItem.Disable()

	systray.AddSeparator()

	t.openItem = systray.AddMenuItem("Open video", "Open the video in the browser")
	t.openItem.Disable()
	refreshItem := systray.AddMenuItem("Refresh", "Fetch the session now")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Stop monitoring")

	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()
	t.detail.Start(ctx)

	go func() {
		for {
			select {
			case <-t.openItem.ClickedCh:
				t.handleOpen()
			case <-refreshItem.ClickedCh:
				t.detail.Refresh()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				t.Quit()
				return
			case <-ctx.Done():
				t.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready", "session_id", t.detail.SessionID())
}

func (t *Tray) onExit() {
	t.detail.Stop()
	if t.onQuit != nil {
		t.onQuit()
	}
	t.logger.Info("system tray exiting")
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}

	s := t.detail.Snapshot()
	labels := Describe(s, t.api.AbsoluteURL)
	t.artifact = labels.Artifact

	systray.SetTitle(labels.Title)
	systray.SetTooltip(labels.Tooltip)
	t.statusItem.SetTitle(labels.Status)
	t.progressItem.SetTitle(labels.Segments)
	if labels.Artifact.Playable() {
		t.openItem.Enable()
	} else {
		t.openItem.Disable()
	}
}

func (t *Tray) handleOpen() {
	t.mu.Lock()
	a := t.artifact
	t.mu.Unlock()
	if !a.Playable() {
		return
	}
	if err := t.onOpen(a.URL); err != nil {
		t.logger.Error("failed to open video", "url", a.URL, "error", err)
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// Labels is what the tray shows for one snapshot.
type Labels struct {
	Title    string
	Tooltip  string
	Status   string
	Segments string
	Artifact sessions.Artifact
}

func Describe(s *client.Session, resolve func(string) string) Labels {
	if s == nil {
		return Labels{
			Title:    "reelforge",
			Tooltip:  "reelforge",
			Status:   "Status: loading",
			Segments: "Segments: -",
			Artifact: sessions.PreferredArtifact(nil, resolve),
		}
	}

	summary := progress.Summarize(progress.FromSnapshot(nil, s))
	l := Labels{
		Title:    fmt.Sprintf("reelforge %d%%", int(summary.Percent()*100)),
		Tooltip:  fmt.Sprintf("%s: %s", s.SessionID, s.State),
		Status:   "Status: " + s.State,
		Segments: fmt.Sprintf("Segments: %d/%d", summary.Done, summary.Total),
		Artifact: sessions.PreferredArtifact(s, resolve),
	}
	if s.Error != "" {
		l.Status = "Status: " + s.State + " (" + s.Error + ")"
	}
	if s.IsCompleted() {
		l.Title = "reelforge ✓"
	}
	return l
}
