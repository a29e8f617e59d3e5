// Package poller refreshes a single remote resource on a fixed interval while
// a governing condition holds.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reelforge/reelforge/internal/logging"
)

// Intervals used by the client views.
const (
	WizardInterval   = 3 * time.Second
	DetailInterval   = 3 * time.Second
	SessionsInterval = 5 * time.Second
)

type Config[T any] struct {
	// Name identifies the poller in logs.
	Name     string
	Interval time.Duration
	Fetch    func(ctx context.Context) (T, error)
	// Active gates every tick and every delivery. Nil means always active.
	Active func() bool
	// OnResult receives each successful fetch that is still live.
	OnResult func(T)
	Logger   *slog.Logger
}

// Poller issues one full fetch per tick with no backoff and no attempt
// limit. Stop ends the scope: no more ticks are scheduled and any fetch
// already in flight is left to finish, but its result is dropped.
type Poller[T any] struct {
	cfg    Config[T]
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	gen     atomic.Uint64
	running atomic.Bool

	refresh   chan struct{}
	fetches   atomic.Int64
	failures  atomic.Int64
	discarded atomic.Int64
}

func New[T any](cfg Config[T]) *Poller[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Poller[T]{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "poller").With("poller", cfg.Name),
		refresh: make(chan struct{}, 1),
	}
}

// Start begins polling in a new goroutine bound to ctx. The first fetch is
// issued immediately if the poller is active. Calling Start on a running
// poller does nothing.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return
	}

	scope, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	gen := p.gen.Add(1)
	p.running.Store(true)

	p.logger.Debug("poller started", "interval", p.cfg.Interval)
	go p.loop(scope, gen)
}

// Stop ends the current scope. Safe to call more than once.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return
	}
	p.gen.Add(1)
	p.running.Store(false)
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.logger.Debug("poller stopped")
}

// RefreshNow asks for an immediate fetch outside the tick schedule.
func (p *Poller[T]) RefreshNow() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *Poller[T]) IsRunning() bool {
	return p.running.Load()
}

// Failures counts fetch errors. They are never delivered to OnResult.
func (p *Poller[T]) Failures() int64 {
	return p.failures.Load()
}

// Fetches counts fetches issued since construction.
func (p *Poller[T]) Fetches() int64 {
	return p.fetches.Load()
}

// Discarded counts successful results dropped by the liveness guard.
func (p *Poller[T]) Discarded() int64 {
	return p.discarded.Load()
}

func (p *Poller[T]) loop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.tick(ctx, gen)

	for {
		select {
		case <-ctx.Done():
			p.stopScope(gen)
			return
		case <-ticker.C:
			p.tick(ctx, gen)
		case <-p.refresh:
			p.tick(ctx, gen)
		}
	}
}

// stopScope handles the parent context ending without an explicit Stop.
func (p *Poller[T]) stopScope(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen.Load() == gen {
		p.gen.Add(1)
		p.running.Store(false)
		p.cancel = nil
	}
}

func (p *Poller[T]) tick(ctx context.Context, gen uint64) {
	if !p.live(gen) || !p.active() {
		return
	}

	p.fetches.Add(1)
	// In-flight requests are not aborted when the scope ends.
	result, err := p.cfg.Fetch(context.WithoutCancel(ctx))
	if err != nil {
		p.failures.Add(1)
		p.logger.Debug("poll fetch failed", "error", err)
		return
	}

	if !p.live(gen) || !p.active() || ctx.Err() != nil {
		p.discarded.Add(1)
		p.logger.Debug("discarding late poll result")
		return
	}

	if p.cfg.OnResult != nil {
		p.cfg.OnResult(result)
	}
}

func (p *Poller[T]) live(gen uint64) bool {
	return p.running.Load() && p.gen.Load() == gen
}

func (p *Poller[T]) active() bool {
	return p.cfg.Active == nil || p.cfg.Active()
}
