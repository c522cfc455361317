package dialog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/botdialog/internal/model/chat"
)

// DefaultReapInterval is the default period between idle sweeps.
const DefaultReapInterval = time.Minute

// Evictor removes sessions idle for longer than timeout as of now.
type Evictor interface {
	EvictIdle(now time.Time, timeout time.Duration) []chat.SessionKey
}

// Reaper periodically evicts idle sessions.
type Reaper struct {
	evictor  Evictor
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ReaperOption customizes a Reaper.
type ReaperOption func(*Reaper)

// WithReaperLogger sets the reaper logger.
func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReaperClock replaces time.Now as the sweep reference time.
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReaper creates a reaper sweeping every interval for sessions idle longer than timeout.
func NewReaper(evictor Evictor, interval, timeout time.Duration, opts ...ReaperOption) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	r := &Reaper{
		evictor:  evictor,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "dialog.reaper"))
	return r
}

// Start begins the periodic sweep. Starting a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	reapCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.run(reapCtx, r.done)
	return nil
}

// Stop halts the sweep and waits for the loop to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the sweep loop is active.
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reaper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopping")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	startTime := time.Now()
	evicted := r.evictor.EvictIdle(r.now(), r.timeout)
	if len(evicted) == 0 {
		return
	}
	r.logger.InfoContext(ctx, "evicted idle sessions",
		slog.Int("evicted", len(evicted)),
		slog.Duration("duration", time.Since(startTime)),
	)
}
