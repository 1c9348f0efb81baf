// Package clock provides a testable time source for the routing core.
package clock

import (
	"sync"
	"time"
)

// Clock is a thin wrapper around time.Now that can be overridden in tests.
type Clock struct {
	mu    sync.Mutex
	nowFn func() time.Time
}

// New creates a Clock backed by the system clock.
func New() *Clock {
	return &Clock{nowFn: time.Now}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn()
}

// SetNowFunc overrides the time source. Intended for tests.
func (c *Clock) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFn = fn
}
