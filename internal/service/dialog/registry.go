package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/service/ai"
)

// routeAttempts bounds how often Route re-resolves a session that began
// stopping between lookup and delivery.
const routeAttempts = 2

// Store is the persistence a registry needs: persona lookup on session
// creation and transcript appends after every exchange.
type Store interface {
	GetPersona(ctx context.Context, botID int64) (string, error)
	AppendExchange(ctx context.Context, exchange chat.Exchange) error
}

// Config tunes session lifecycle. Zero fields fall back to the defaults.
type Config struct {
	SessionTimeout time.Duration
	QueueSize      int
	StopGrace      time.Duration
	RequestTimeout time.Duration
	PersistRetries int
}

// Default lifecycle settings.
const (
	DefaultSessionTimeout = 600 * time.Second
	DefaultQueueSize      = 32
	DefaultStopGrace      = 5 * time.Second
	DefaultRequestTimeout = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.PersistRetries < 0 {
		c.PersistRetries = 0
	}
	return c
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records registry activity in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock replaces time.Now for activity bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithExchangeHook calls fn from the session worker after every recorded
// exchange. fn must not block.
func WithExchangeHook(fn func(chat.Exchange)) Option {
	return func(r *Registry) { r.onExchange = fn }
}

// Registry maps (user, bot) pairs to live sessions. All map mutations happen
// under mu; persona lookups and message delivery run outside it.
type Registry struct {
	store      Store
	gen        ai.Generator
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
	onExchange func(chat.Exchange)

	mu       sync.Mutex
	sessions map[chat.SessionKey]*Session
	// stopping holds the worker done channel of the last session removed
	// per key until a replacement picks it up or the worker exits.
	stopping map[chat.SessionKey]chan struct{}
	closed   bool

	creating     singleflight.Group
	workers      sync.WaitGroup
	retiring     sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store, gen ai.Generator, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		gen:      gen,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[chat.SessionKey]*Session),
		stopping: make(map[chat.SessionKey]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "dialog")
	return r
}

// SessionTimeout returns the idle timeout the registry was configured with.
func (r *Registry) SessionTimeout() time.Duration {
	return r.cfg.SessionTimeout
}

// Route delivers message to the session for key, creating one if none is
// live. It returns once the message is queued; the reply is produced
// asynchronously by the session worker.
func (r *Registry) Route(ctx context.Context, key chat.SessionKey, message string) error {
	var err error
	for attempt := 1; attempt <= routeAttempts; attempt++ {
		var s *Session
		s, err = r.acquire(ctx, key)
		if err != nil {
			return err
		}

		err = s.enqueue(message, r.now())
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDeliveryFailed) {
			return err
		}
		r.logger.Debug("session stopped during delivery", "user_id", key.UserID, "bot_id", key.BotID, "attempt", attempt)
	}
	return err
}

// acquire returns the live session for key. A session found idle past the
// timeout is retired on the spot and replaced.
func (r *Registry) acquire(ctx context.Context, key chat.SessionKey) (*Session, error) {
	now := r.now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	s, ok := r.sessions[key]
	if ok {
		if s.idleFor(now) <= r.cfg.SessionTimeout {
			r.mu.Unlock()
			return s, nil
		}
		r.retireLocked(key, s, reasonExpired)
	}
	r.mu.Unlock()

	return r.create(ctx, key)
}

// create builds the session for key. Concurrent callers for the same key share
// one persona lookup and one resulting session.
func (r *Registry) create(ctx context.Context, key chat.SessionKey) (*Session, error) {
	v, err, _ := r.creating.Do(key.String(), func() (any, error) {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		if s, ok := r.sessions[key]; ok {
			r.mu.Unlock()
			return s, nil
		}
		r.mu.Unlock()

		description, err := r.store.GetPersona(ctx, key.BotID)
		if err != nil {
			r.metrics.creationFailed()
			r.logger.Warn("persona lookup failed", "user_id", key.UserID, "bot_id", key.BotID, "error", err)
			return nil, fmt.Errorf("%w: persona lookup for bot %d: %w", ErrSessionCreationFailed, key.BotID, err)
		}

		s := newSession(r, key, description, r.now())

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			s.cancel()
			return nil, ErrRegistryClosed
		}
		if done, ok := r.stopping[key]; ok {
			delete(r.stopping, key)
			select {
			case <-done:
			default:
				s.after = done
			}
		}
		r.sessions[key] = s
		r.workers.Add(1)
		go func() {
			defer r.workers.Done()
			s.run()
		}()
		r.mu.Unlock()

		r.metrics.sessionCreated()
		s.logger.Info("session created", "persona_set", description != "")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// removeLocked unregisters s and refuses further deliveries to it. r.mu must be held.
func (r *Registry) removeLocked(key chat.SessionKey, s *Session) {
	s.markStopping()
	delete(r.sessions, key)
	r.stopping[key] = s.done
}

// retireLocked unregisters s and stops it in the background. r.mu must be held.
func (r *Registry) retireLocked(key chat.SessionKey, s *Session, reason string) {
	r.removeLocked(key, s)
	r.retiring.Add(1)
	go r.retire(s, reason)
}

// retire stops an already unregistered session within the grace period.
func (r *Registry) retire(s *Session, reason string) {
	defer r.retiring.Done()
	if err := s.terminate(r.cfg.StopGrace); err != nil {
		s.logger.Warn("session worker force-stopped", "reason", reason, "error", err)
	} else {
		s.logger.Info("session stopped", "reason", reason)
		r.forgetStopped(s)
	}
	r.metrics.sessionRemoved(reason)
}

// forgetStopped drops the done channel of an exited worker unless a
// replacement already took it.
func (r *Registry) forgetStopped(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if done, ok := r.stopping[s.key]; ok && done == s.done {
		delete(r.stopping, s.key)
	}
}

// EvictIdle unregisters every session idle for longer than timeout as of now
// and stops their workers in the background. Sessions with queued or in-flight
// messages are kept. It returns the evicted keys.
func (r *Registry) EvictIdle(now time.Time, timeout time.Duration) []chat.SessionKey {
	var keys []chat.SessionKey

	r.mu.Lock()
	for key, s := range r.sessions {
		if s.idleFor(now) > timeout {
			r.retireLocked(key, s, reasonIdle)
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()

	return keys
}

// Sessions returns a snapshot of the registered sessions ordered by key.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Key.UserID != infos[j].Key.UserID {
			return infos[i].Key.UserID < infos[j].Key.UserID
		}
		return infos[i].Key.BotID < infos[j].Key.BotID
	})
	return infos
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown unregisters every session and stops all workers. Workers that miss
// the grace period are cancelled and reported in the returned error. ctx bounds
// the wait for cancelled workers to unwind. Calls after the first return the
// first result.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		sessions := make([]*Session, 0, len(r.sessions))
		for key, s := range r.sessions {
			r.removeLocked(key, s)
			sessions = append(sessions, s)
		}
		r.mu.Unlock()

		r.logger.Info("shutting down sessions", "count", len(sessions))

		var (
			result *multierror.Error
			mu     sync.Mutex
			wg     sync.WaitGroup
		)
		for _, s := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				err := s.terminate(r.cfg.StopGrace)
				r.metrics.sessionRemoved(reasonShutdown)
				if err != nil {
					mu.Lock()
					result = multierror.Append(result, err)
					mu.Unlock()
				}
			}(s)
		}
		wg.Wait()
		r.retiring.Wait()

		stopped := make(chan struct{})
		go func() {
			r.workers.Wait()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			result = multierror.Append(result, fmt.Errorf("waiting for session workers: %w", ctx.Err()))
		}

		r.shutdownErr = result.ErrorOrNil()
		if r.shutdownErr != nil {
			r.logger.Warn("shutdown finished with errors", "error", r.shutdownErr)
		} else {
			r.logger.Info("shutdown complete")
		}
	})
	return r.shutdownErr
}
