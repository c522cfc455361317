package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/botdialog/internal/model/chat"
)

func newIdleSession(t *testing.T, queueSize int) (*Session, time.Time) {
	t.Helper()
	r := NewRegistry(newFakeStore(), echo, Config{QueueSize: queueSize}, WithLogger(quietLogger()))
	now := newFakeClock().Now()
	return newSession(r, chat.SessionKey{UserID: 7, BotID: 100}, "persona", now), now
}

func TestSessionLastActiveNeverMovesBackwards(t *testing.T) {
	s, now := newIdleSession(t, 4)

	s.touch(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), s.LastActive())

	s.touch(now)
	assert.Equal(t, now.Add(time.Minute), s.LastActive())

	require.NoError(t, s.enqueue("hi", now.Add(-time.Hour)))
	assert.Equal(t, now.Add(time.Minute), s.LastActive())

	require.NoError(t, s.enqueue("hi again", now.Add(2*time.Minute)))
	assert.Equal(t, now.Add(2*time.Minute), s.LastActive())
}

func TestSessionIdleFor(t *testing.T) {
	s, now := newIdleSession(t, 1)
	assert.Equal(t, time.Duration(0), s.idleFor(now))
	assert.Equal(t, 90*time.Second, s.idleFor(now.Add(90*time.Second)))
}

func TestSessionWithPendingWorkIsNotIdle(t *testing.T) {
	s, now := newIdleSession(t, 2)

	require.NoError(t, s.enqueue("queued", now))
	assert.Equal(t, time.Duration(0), s.idleFor(now.Add(time.Hour)))

	s.complete(now.Add(time.Minute))
	assert.Equal(t, time.Minute, s.idleFor(now.Add(2*time.Minute)))
}

func TestSessionEnqueueRejectsWhenStoppingOrFull(t *testing.T) {
	s, now := newIdleSession(t, 1)

	require.NoError(t, s.enqueue("one", now))
	assert.ErrorIs(t, s.enqueue("two", now), ErrQueueFull)
	assert.Equal(t, 1, s.info().Queued)

	assert.True(t, s.markStopping())
	assert.False(t, s.markStopping())
	assert.True(t, s.isStopping())
	assert.ErrorIs(t, s.enqueue("three", now), ErrDeliveryFailed)
}

func TestSessionTerminateWithoutWorkerTimesOut(t *testing.T) {
	s, _ := newIdleSession(t, 1)

	err := s.terminate(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Error(t, s.ctx.Err())
}

func TestSessionTerminateIsRepeatable(t *testing.T) {
	s, _ := newIdleSession(t, 1)
	go s.run()

	require.NoError(t, s.terminate(time.Second))
	require.NoError(t, s.terminate(time.Second))
	assert.ErrorIs(t, s.ctx.Err(), context.Canceled)
}

func TestSessionInfo(t *testing.T) {
	s, now := newIdleSession(t, 2)
	require.NoError(t, s.enqueue("queued", now.Add(time.Second)))

	info := s.info()
	assert.Equal(t, s.ID(), info.ID)
	assert.Equal(t, chat.SessionKey{UserID: 7, BotID: 100}, info.Key)
	assert.Equal(t, now, info.CreatedAt)
	assert.Equal(t, now.Add(time.Second), info.LastActive)
	assert.Equal(t, 1, info.Queued)
	assert.Equal(t, "persona", s.Description())
}
