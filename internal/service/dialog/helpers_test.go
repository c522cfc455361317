package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/service/ai"
)

var errStoreDown = errors.New("store down")

type fakeStore struct {
	mu          sync.Mutex
	personas    map[int64]string
	lookups     map[int64]int
	lookupDelay time.Duration
	lookupErr   error
	failAppends int
	appendCalls int
	exchanges   []chat.Exchange
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		personas: map[int64]string{
			100: "You are Mira, a patient librarian.",
			200: "You are Rook, a terse chess coach.",
		},
		lookups: make(map[int64]int),
	}
}

func (s *fakeStore) GetPersona(ctx context.Context, botID int64) (string, error) {
	s.mu.Lock()
	s.lookups[botID]++
	delay, err := s.lookupDelay, s.lookupErr
	desc := s.personas[botID]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return desc, nil
}

func (s *fakeStore) AppendExchange(_ context.Context, exchange chat.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++
	if s.failAppends > 0 {
		s.failAppends--
		return errStoreDown
	}
	exchange.ID = int64(len(s.exchanges) + 1)
	s.exchanges = append(s.exchanges, exchange)
	return nil
}

func (s *fakeStore) setLookupErr(err error) {
	s.mu.Lock()
	s.lookupErr = err
	s.mu.Unlock()
}

func (s *fakeStore) lookupCount(botID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups[botID]
}

func (s *fakeStore) recorded() []chat.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exchanges)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// echo replies with the persona and the message so tests can see both reached the generator.
var echo = ai.GeneratorFunc(func(_ context.Context, description, message string) (string, error) {
	return description + " | " + message, nil
})

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, store Store, gen ai.Generator, cfg Config, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	r := NewRegistry(store, gen, cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

// hookChannel returns an exchange hook that forwards to a buffered channel.
func hookChannel(size int) (chan chat.Exchange, Option) {
	ch := make(chan chat.Exchange, size)
	return ch, WithExchangeHook(func(e chat.Exchange) { ch <- e })
}

func waitExchange(t *testing.T, ch <-chan chat.Exchange) chat.Exchange {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for exchange")
		return chat.Exchange{}
	}
}

func sessionFor(t *testing.T, r *Registry, key chat.SessionKey) *Session {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	require.True(t, ok, "no session for %s", key)
	return s
}
