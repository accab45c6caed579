package avpipe

import (
	"context"
	"sync"
	"time"
)

// Clock provides the time base elements synchronize against.
type Clock interface {
	// Now returns the current clock time.
	Now() ClockTime
	// WaitUntil blocks until the clock reaches t or the context is
	// cancelled. Waiting for a time already in the past returns
	// immediately.
	WaitUntil(ctx context.Context, t ClockTime) error
}

// SystemClock is a Clock backed by the monotonic wall clock, starting at zero
// when created.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock creates a system clock with its zero point at the moment of
// the call.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

func (c *SystemClock) Now() ClockTime {
	return ClockTime(time.Since(c.epoch))
}

func (c *SystemClock) WaitUntil(ctx context.Context, t ClockTime) error {
	if !t.Valid() {
		return nil
	}
	now := c.Now()
	if t <= now {
		return nil
	}
	timer := time.NewTimer(time.Duration(t - now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TestClock is a Clock driven manually, for deterministic tests.
type TestClock struct {
	mu   sync.Mutex
	cond *sync.Cond
	now  ClockTime
}

// NewTestClock creates a test clock starting at the given time.
func NewTestClock(start ClockTime) *TestClock {
	c := &TestClock{now: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *TestClock) Now() ClockTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t and wakes all waiters. The clock never goes
// backwards; setting an earlier time is ignored.
func (c *TestClock) Set(t ClockTime) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *TestClock) Advance(d ClockTime) {
	c.mu.Lock()
	c.now += d
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *TestClock) WaitUntil(ctx context.Context, t ClockTime) error {
	if !t.Valid() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for c.now < t {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.cond.Wait()
	}
	return nil
}
