package dialog

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/botdialog/internal/model/chat"
)

type recordingEvictor struct {
	mu       sync.Mutex
	calls    int
	timeouts []time.Duration
}

func (e *recordingEvictor) EvictIdle(_ time.Time, timeout time.Duration) []chat.SessionKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.timeouts = append(e.timeouts, timeout)
	return nil
}

func (e *recordingEvictor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// evictingEvictor reports one evicted key per sweep.
type evictingEvictor struct {
	recordingEvictor
}

func (e *evictingEvictor) EvictIdle(now time.Time, timeout time.Duration) []chat.SessionKey {
	e.recordingEvictor.EvictIdle(now, timeout)
	return []chat.SessionKey{{UserID: 1, BotID: 100}}
}

func TestReaperStartStop(t *testing.T) {
	evictor := &recordingEvictor{}
	reaper := NewReaper(evictor, 5*time.Millisecond, time.Minute)

	require.NoError(t, reaper.Start(context.Background()))
	require.NoError(t, reaper.Start(context.Background()))
	assert.True(t, reaper.IsRunning())

	require.Eventually(t, func() bool { return evictor.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	reaper.Stop()
	assert.False(t, reaper.IsRunning())
	calls := evictor.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, evictor.callCount())

	evictor.mu.Lock()
	assert.Equal(t, time.Minute, evictor.timeouts[0])
	evictor.mu.Unlock()

	reaper.Stop()
}

func TestReaperStopsWithContext(t *testing.T) {
	reaper := NewReaper(&recordingEvictor{}, time.Hour, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, reaper.Start(ctx))
	cancel()

	reaper.Stop()
	assert.False(t, reaper.IsRunning())
}

func TestReaperEvictsIdleSessions(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	exchanges, hook := hookChannel(1)
	r := newTestRegistry(t, store, echo, Config{SessionTimeout: time.Minute}, hook, WithClock(clock.Now))
	key := chat.SessionKey{UserID: 1, BotID: 100}
	require.NoError(t, r.Route(context.Background(), key, "hello"))
	waitExchange(t, exchanges)

	reaper := NewReaper(r, 5*time.Millisecond, r.SessionTimeout(), WithReaperClock(clock.Now), WithReaperLogger(quietLogger()))
	require.NoError(t, reaper.Start(context.Background()))
	defer reaper.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.Len())

	clock.Advance(time.Minute + time.Second)
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestReaperLogsThroughConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	evictor := &evictingEvictor{}
	reaper := NewReaper(evictor, 5*time.Millisecond, time.Minute, WithReaperLogger(logger))

	require.NoError(t, reaper.Start(context.Background()))
	require.Eventually(t, func() bool { return evictor.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	reaper.Stop()

	out := buf.String()
	assert.Contains(t, out, "evicted idle sessions")
	assert.Contains(t, out, "component=dialog.reaper")
}
