package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/logging"
	"github.com/reelforge/reelforge/internal/poller"
	"github.com/reelforge/reelforge/internal/progress"
)

// IncompleteMessage is shown instead of a video while a session has no
// playable artifact.
const IncompleteMessage = "Video is not complete yet."

type DetailOptions struct {
	Logger   *slog.Logger
	Interval time.Duration
	OnChange func()
}

// Detail follows one session while mounted.
type Detail struct {
	api       client.API
	sessionID string
	notify    func()
	status    *poller.Poller[*client.Session]

	mu       sync.Mutex
	snapshot *client.Session
	updated  time.Time
}

func NewDetail(api client.API, sessionID string, opts DetailOptions) *Detail {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = poller.DetailInterval
	}

	d := &Detail{
		api:       api,
		sessionID: sessionID,
		notify:    opts.OnChange,
	}
	d.status = poller.New(poller.Config[*client.Session]{
		Name:     "session-detail",
		Interval: interval,
		Fetch: func(ctx context.Context) (*client.Session, error) {
			return api.GetSession(ctx, sessionID)
		},
		OnResult: d.apply,
		Logger:   logging.WithSessionID(logger, sessionID),
	})
	return d
}

func (d *Detail) SessionID() string {
	return d.sessionID
}

// Start mounts the view: one fetch now, then one per interval.
func (d *Detail) Start(ctx context.Context) {
	d.status.Start(ctx)
}

// Stop unmounts the view. Late responses are dropped.
func (d *Detail) Stop() {
	d.status.Stop()
}

func (d *Detail) Refresh() {
	d.status.RefreshNow()
}

func (d *Detail) apply(s *client.Session) {
	d.mu.Lock()
	d.snapshot = s
	d.updated = time.Now()
	d.mu.Unlock()
	if d.notify != nil {
		d.notify()
	}
}

// Snapshot is the last successfully fetched state, or nil before the first.
func (d *Detail) Snapshot() *client.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

// Updated is when the last snapshot arrived.
func (d *Detail) Updated() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updated
}

// Artifact is what the detail view should play.
type Artifact struct {
	// Kind is empty when nothing is playable.
	Kind    client.ArtifactKind
	URL     string
	Message string
}

func (a Artifact) Playable() bool {
	return a.Kind != ""
}

// PreferredArtifact prefers the subtitled video. The final video is only
// offered once the session completed, since it exists for a while before
// subtitles are burned in. URLs are resolved with resolve when non-nil.
func PreferredArtifact(s *client.Session, resolve func(string) string) Artifact {
	if resolve == nil {
		resolve = func(u string) string { return u }
	}
	if s == nil {
		return Artifact{Message: IncompleteMessage}
	}
	if s.ArtifactsURLs.Subtitled != "" {
		return Artifact{Kind: client.ArtifactSubtitled, URL: resolve(s.ArtifactsURLs.Subtitled)}
	}
	if s.IsCompleted() && s.ArtifactsURLs.Final != "" {
		return Artifact{Kind: client.ArtifactFinal, URL: resolve(s.ArtifactsURLs.Final)}
	}
	return Artifact{Message: IncompleteMessage}
}

// SegmentRow is one segment with its media, URLs resolved.
type SegmentRow struct {
	progress.Segment
	Images []string
	Videos []string
	Audios []string
}

// SegmentRows lists the segments the server reported, in segment order.
func SegmentRows(s *client.Session, resolve func(string) string) []SegmentRow {
	if s == nil {
		return nil
	}
	if resolve == nil {
		resolve = func(u string) string { return u }
	}

	segments := progress.FromSnapshot(nil, s)
	rows := make([]SegmentRow, len(segments))
	for i, seg := range segments {
		info := s.SegmentsInfo[seg.Key]
		rows[i] = SegmentRow{
			Segment: seg,
			Images:  resolveAll(info.Images, resolve),
			Videos:  resolveAll(info.Videos, resolve),
			Audios:  resolveAll(info.Audios, resolve),
		}
	}
	return rows
}

func resolveAll(urls []string, resolve func(string) string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = resolve(u)
	}
	return out
}
