package heartbeat

import "time"

// Clock abstracts wall time so timer behavior is testable with the
// manual clock in internal/testutil.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock backed by package time.
type SystemClock struct{}

// Now returns the current wall time.
func (SystemClock) Now() time.Time { return time.Now() }

// After waits for the duration to elapse.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
