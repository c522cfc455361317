package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/service/ai"
)

// persistBackoff is the pause between transcript append attempts.
const persistBackoff = 100 * time.Millisecond

// Session is the live conversation between one user and one bot. It owns a
// single worker goroutine that processes queued messages in arrival order.
type Session struct {
	id          string
	key         chat.SessionKey
	description string
	createdAt   time.Time
	queue       chan string

	reg    *Registry
	logger *slog.Logger

	mu         sync.Mutex
	lastActive time.Time
	pending    int
	stopping   bool

	// after is the worker of the session this one replaced. Processing waits
	// for it so a key never has two transcript writers.
	after <-chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// SessionInfo is a point-in-time view of a registered session.
type SessionInfo struct {
	ID         string          `json:"id"`
	Key        chat.SessionKey `json:"key"`
	CreatedAt  time.Time       `json:"createdAt"`
	LastActive time.Time       `json:"lastActive"`
	Queued     int             `json:"queued"`
}

func newSession(reg *Registry, key chat.SessionKey, description string, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:          id,
		key:         key,
		description: description,
		createdAt:   now,
		queue:       make(chan string, reg.cfg.QueueSize),
		reg:         reg,
		logger:      reg.logger.With("session_id", id, "user_id", key.UserID, "bot_id", key.BotID),
		lastActive:  now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID returns the session identifier, unique per created session.
func (s *Session) ID() string { return s.id }

// Key returns the (user, bot) pair the session serves.
func (s *Session) Key() chat.SessionKey { return s.key }

// Description returns the persona captured when the session was created.
func (s *Session) Description() string { return s.description }

// LastActive returns the time of the most recent accepted or completed message.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Done is closed once the worker goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:         s.id,
		Key:        s.key,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
		Queued:     len(s.queue),
	}
}

// enqueue hands msg to the worker without blocking.
func (s *Session) enqueue(msg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return fmt.Errorf("%w: session %s is stopping", ErrDeliveryFailed, s.key)
	}
	select {
	case s.queue <- msg:
		s.pending++
	default:
		return fmt.Errorf("%w: session %s holds %d messages", ErrQueueFull, s.key, cap(s.queue))
	}
	s.touchLocked(now)
	return nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.touchLocked(now)
	s.mu.Unlock()
}

// touchLocked never moves lastActive backwards.
func (s *Session) touchLocked(now time.Time) {
	if now.After(s.lastActive) {
		s.lastActive = now
	}
}

// complete records the end of one processing step, successful or not.
func (s *Session) complete(now time.Time) {
	s.mu.Lock()
	s.pending--
	s.touchLocked(now)
	s.mu.Unlock()
}

// idleFor reports how long the session has been inactive as of now. A session
// with queued or in-flight messages is never idle.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		return 0
	}
	return now.Sub(s.lastActive)
}

// markStopping refuses further deliveries. It reports false if the session
// was already stopping.
func (s *Session) markStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.stopping = true
	return true
}

func (s *Session) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// terminate signals the worker and waits up to grace for it to finish the
// messages it already accepted. Past the grace period the in-flight exchange
// is cancelled and ErrStopTimeout is returned.
func (s *Session) terminate(grace time.Duration) error {
	s.markStopping()
	s.stopOnce.Do(func() { close(s.stop) })

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-timer.C:
		s.cancel()
		return fmt.Errorf("%w: session %s after %s", ErrStopTimeout, s.key, grace)
	}
}

func (s *Session) run() {
	defer close(s.done)
	s.logger.Debug("session worker started")

	if s.after != nil {
		select {
		case <-s.after:
		case <-s.ctx.Done():
		}
	}

	for {
		select {
		case <-s.stop:
			s.finish()
			return
		default:
		}

		select {
		case <-s.stop:
			s.finish()
			return
		case msg := <-s.queue:
			s.process(msg)
		}
	}
}

// finish works off messages accepted before the stop signal. Once the session
// context is cancelled the remainder is dropped.
func (s *Session) finish() {
	dropped := 0
	for {
		select {
		case msg := <-s.queue:
			if s.ctx.Err() != nil {
				dropped++
				continue
			}
			s.process(msg)
		default:
			if dropped > 0 {
				s.mu.Lock()
				s.pending -= dropped
				s.mu.Unlock()
				s.logger.Warn("dropped queued messages on stop", "count", dropped)
				s.reg.metrics.dropped(dropped)
			}
			s.logger.Debug("session worker stopped")
			return
		}
	}
}

func (s *Session) process(msg string) {
	r := s.reg

	exchange, result := s.respond(msg)
	s.complete(r.now())
	r.metrics.exchange(result)

	if result == resultOK && r.onExchange != nil {
		r.onExchange(exchange)
	}
}

// respond generates the reply to msg and records the exchange.
func (s *Session) respond(msg string) (chat.Exchange, string) {
	r := s.reg

	ctx, cancel := context.WithTimeout(s.ctx, r.cfg.RequestTimeout)
	started := time.Now()
	reply, err := r.gen.Generate(ctx, s.description, msg)
	cancel()
	r.metrics.observeGenerate(time.Since(started))

	if err != nil {
		if !errors.Is(err, ai.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", ai.ErrGenerationFailed, err)
		}
		s.logger.Warn("response generation failed", "error", err)
		return chat.Exchange{}, resultGenerationFailed
	}

	exchange := chat.Exchange{
		UserID:      s.key.UserID,
		BotID:       s.key.BotID,
		UserMessage: msg,
		BotResponse: reply,
		Timestamp:   r.now(),
	}
	if err := s.persist(exchange); err != nil {
		s.logger.Error("exchange not recorded", "error", err)
		return chat.Exchange{}, resultPersistenceFailed
	}
	return exchange, resultOK
}

func (s *Session) persist(exchange chat.Exchange) error {
	r := s.reg
	attempts := 1 + r.cfg.PersistRetries

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(s.ctx, r.cfg.RequestTimeout)
		err = r.store.AppendExchange(ctx, exchange)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		s.logger.Warn("append exchange failed, retrying", "attempt", attempt, "error", err)

		select {
		case <-s.ctx.Done():
			return fmt.Errorf("%w: %w", ErrPersistenceFailed, s.ctx.Err())
		case <-time.After(time.Duration(attempt) * persistBackoff):
		}
	}
	return fmt.Errorf("%w: after %d attempts: %w", ErrPersistenceFailed, attempts, err)
}
