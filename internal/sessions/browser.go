// Package sessions lists known sessions and follows a single one. Both views
// poll on their own schedule and share nothing but the API client.
package sessions

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/logging"
	"github.com/reelforge/reelforge/internal/poller"
)

// IdeaSource supplies the ideas of sessions created from this machine.
type IdeaSource interface {
	RecentIdeas(ctx context.Context) (map[string]string, error)
}

type BrowserOptions struct {
	Ideas    IdeaSource
	Logger   *slog.Logger
	Interval time.Duration
	OnChange func()
}

// Entry is one row of the browser.
type Entry struct {
	ID   string
	Idea string
}

type listing struct {
	ids   []string
	ideas map[string]string
}

// Browser keeps the session id list fresh and filters it locally.
type Browser struct {
	api    client.API
	ideas  IdeaSource
	logger *slog.Logger
	notify func()
	list   *poller.Poller[listing]

	mu     sync.Mutex
	ids    []string
	known  map[string]string
	filter string
	cursor int
	loaded bool
}

func NewBrowser(api client.API, opts BrowserOptions) *Browser {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = poller.SessionsInterval
	}

	b := &Browser{
		api:    api,
		ideas:  opts.Ideas,
		logger: logging.WithComponent(logger, "sessions"),
		notify: opts.OnChange,
	}
	b.list = poller.New(poller.Config[listing]{
		Name:     "sessions-list",
		Interval: interval,
		Fetch:    b.fetch,
		OnResult: b.apply,
		Logger:   logger,
	})
	return b
}

// Start mounts the browser: the list is fetched now and then every interval.
func (b *Browser) Start(ctx context.Context) {
	b.list.Start(ctx)
}

// Stop unmounts the browser.
func (b *Browser) Stop() {
	b.list.Stop()
}

func (b *Browser) Refresh() {
	b.list.RefreshNow()
}

func (b *Browser) fetch(ctx context.Context) (listing, error) {
	ids, err := b.api.ListSessions(ctx)
	if err != nil {
		return listing{}, err
	}
	out := listing{ids: ids}
	if b.ideas != nil {
		ideas, err := b.ideas.RecentIdeas(ctx)
		if err != nil {
			b.logger.Warn("failed to load recent ideas", "error", err)
		} else {
			out.ideas = ideas
		}
	}
	return out, nil
}

func (b *Browser) apply(l listing) {
	b.mu.Lock()
	b.ids = l.ids
	if l.ideas != nil {
		b.known = l.ideas
	}
	b.loaded = true
	b.clampLocked()
	b.mu.Unlock()

	if b.notify != nil {
		b.notify()
	}
}

// Loaded reports whether at least one listing has arrived.
func (b *Browser) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

func (b *Browser) SetFilter(query string) {
	b.mu.Lock()
	b.filter = query
	b.cursor = 0
	b.mu.Unlock()
}

func (b *Browser) Filter() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filter
}

// Visible returns the filtered entries in server order.
func (b *Browser) Visible() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visibleLocked()
}

func (b *Browser) visibleLocked() []Entry {
	ids := FilterIDs(b.ids, b.filter)
	out := make([]Entry, len(ids))
	for i, id := range ids {
		out[i] = Entry{ID: id, Idea: b.known[id]}
	}
	return out
}

// Move shifts the cursor by delta, clamped to the visible rows.
func (b *Browser) Move(delta int) {
	b.mu.Lock()
	b.cursor += delta
	b.clampLocked()
	b.mu.Unlock()
}

func (b *Browser) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// Selected returns the session under the cursor.
func (b *Browser) Selected() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	visible := b.visibleLocked()
	if len(visible) == 0 {
		return "", false
	}
	return visible[b.cursor].ID, true
}

func (b *Browser) clampLocked() {
	n := len(FilterIDs(b.ids, b.filter))
	if b.cursor >= n {
		b.cursor = n - 1
	}
	if b.cursor < 0 {
		b.cursor = 0
	}
}

// FilterIDs keeps ids containing query, ignoring case. Whitespace in query
// is matched literally. Order is preserved.
func FilterIDs(ids []string, query string) []string {
	query = strings.ToLower(query)
	if query == "" {
		return append([]string(nil), ids...)
	}
	var out []string
	for _, id := range ids {
		if strings.Contains(strings.ToLower(id), query) {
			out = append(out, id)
		}
	}
	return out
}
