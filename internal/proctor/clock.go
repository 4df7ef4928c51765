package proctor

import (
	"sync"
	"sync/atomic"
	"time"
)

// DeadlineClock tracks the absolute submit deadline of one in-progress
// session. Remaining time is recomputed from wall-clock on every tick,
// never decremented, so a sleeping machine or a slow tick cannot drift
// the deadline.
type DeadlineClock struct {
	startedAt time.Time
	duration  time.Duration

	now  func() time.Time
	tick time.Duration

	warnAt    time.Duration
	onLowTime func(remaining time.Duration)
	onExpire  func()

	// stopped is the runtime-owned shared guard; the clock checks it
	// before every callback so a late tick cannot touch a session that
	// has already transitioned.
	stopped *atomic.Bool

	warned  atomic.Bool
	expired atomic.Bool

	done     chan struct{}
	stopOnce sync.Once
}

func newDeadlineClock(startedAt time.Time, duration time.Duration, policy Policy, stopped *atomic.Bool) *DeadlineClock {
	return &DeadlineClock{
		startedAt: startedAt,
		duration:  duration,
		now:       time.Now,
		tick:      time.Second,
		warnAt:    policy.LowTimeWarning,
		stopped:   stopped,
		done:      make(chan struct{}),
	}
}

// Remaining returns the time left, floored at zero.
func (c *DeadlineClock) Remaining() time.Duration {
	r := c.startedAt.Add(c.duration).Sub(c.now())
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the deadline has passed and the expiry callback
// has fired.
func (c *DeadlineClock) Expired() bool {
	return c.expired.Load()
}

// Run ticks once per tick interval until the deadline passes or Stop is
// called. Call in a goroutine.
func (c *DeadlineClock) Run() {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.stopped.Load() {
				return
			}

			remaining := c.Remaining()

			if remaining > 0 && remaining <= c.warnAt && !c.warned.Swap(true) {
				if c.onLowTime != nil {
					c.onLowTime(remaining)
				}
			}

			if remaining == 0 {
				// The Swap guarantees the expiry path fires at most
				// once even if Stop races with the final tick.
				if !c.expired.Swap(true) && c.onExpire != nil {
					c.onExpire()
				}
				return
			}
		}
	}
}

// Stop terminates the tick loop. Safe to call more than once.
func (c *DeadlineClock) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
