package proctor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClock(startedAt time.Time, duration time.Duration, stopped *atomic.Bool) *DeadlineClock {
	policy := testPolicy()
	c := newDeadlineClock(startedAt, duration, policy, stopped)
	c.tick = 5 * time.Millisecond
	return c
}

func TestClockRemainingRecomputed(t *testing.T) {
	var stopped atomic.Bool
	base := time.Now()
	c := newTestClock(base, 10*time.Minute, &stopped)

	now := base
	c.now = func() time.Time { return now }

	assert.Equal(t, 10*time.Minute, c.Remaining())

	// Remaining is recomputed from wall-clock, so a large jump (machine
	// sleep) is reflected immediately rather than ticked down.
	now = base.Add(7 * time.Minute)
	assert.Equal(t, 3*time.Minute, c.Remaining())

	now = base.Add(11 * time.Minute)
	assert.Equal(t, time.Duration(0), c.Remaining())
}

func TestClockLowTimeWarningFiresOnce(t *testing.T) {
	var stopped atomic.Bool
	c := newTestClock(time.Now(), 200*time.Millisecond, &stopped)
	c.warnAt = 150 * time.Millisecond

	var warns atomic.Int32
	var expires atomic.Int32
	c.onLowTime = func(time.Duration) { warns.Add(1) }
	c.onExpire = func() { expires.Add(1) }

	go c.Run()

	require.Eventually(t, func() bool { return expires.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), warns.Load())
	assert.True(t, c.Expired())
}

func TestClockExpiryFiresOnce(t *testing.T) {
	var stopped atomic.Bool
	// Deadline already in the past: the first tick must expire exactly once.
	c := newTestClock(time.Now().Add(-time.Minute), time.Second, &stopped)

	var expires atomic.Int32
	c.onExpire = func() { expires.Add(1) }

	go c.Run()

	require.Eventually(t, func() bool { return expires.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), expires.Load())
}

func TestClockStoppedGuardSuppressesCallbacks(t *testing.T) {
	var stopped atomic.Bool
	stopped.Store(true)

	c := newTestClock(time.Now().Add(-time.Minute), time.Second, &stopped)

	var expires atomic.Int32
	c.onExpire = func() { expires.Add(1) }

	go c.Run()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), expires.Load())
	assert.False(t, c.Expired())
}

func TestClockStopIsIdempotent(t *testing.T) {
	var stopped atomic.Bool
	c := newTestClock(time.Now(), time.Hour, &stopped)

	go c.Run()

	c.Stop()
	c.Stop()
}
