package taskengine_test

import (
	"context"
	"sync"
	"time"
)

// fakeClock is a deterministic taskengine.Clock: Now advances only when
// explicitly told to, and Sleep advances it by the requested duration
// instead of blocking, so retry-loop tests run instantly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}
