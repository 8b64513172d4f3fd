// Package testutil provides deterministic test doubles shared across
// engine packages.
package testutil

import (
	"sync"
	"time"
)

// ManualClock is a hand-advanced clock for timer tests.
//
// After() registers a waiter; Advance() moves time forward and releases
// every registered waiter. Tests poll Waiters() to know a loop has
// re-registered before advancing again, keeping tick delivery
// deterministic.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []chan time.Time
}

// NewManualClock creates a clock fixed at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a waiter released by the next Advance call. The
// requested duration is ignored; tests control time explicitly.
func (c *ManualClock) After(time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, ch)
	return ch
}

// Advance moves the clock forward and releases all current waiters.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- now
	}
}

// Waiters returns the number of registered waiters.
func (c *ManualClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
