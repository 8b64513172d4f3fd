// Package mutex provides the FIFO critical section that serializes
// multi-step read-modify-write workflows over shared store state, such
// as the snapshot-capture sequence (read snapshot, decide
// create/increment/evict, write).
package mutex

import (
	"sync"
	"sync/atomic"
)

// Section is an async mutual-exclusion primitive with strict FIFO
// admission. Exactly one task executes at a time; tasks run in enqueue
// order no matter how many pile up while one is pending.
//
// There is deliberately no timeout or cancellation: a task must finish
// (success or failure) to release the section. A task's failure is
// reported only to its own caller and never blocks tasks queued after
// it.
//
// The implementation chains a done-channel per task: each caller waits
// on its predecessor's channel and closes its own on every exit path.
type Section struct {
	mu      sync.Mutex
	tail    chan struct{}
	pending atomic.Int64
}

// NewSection creates an idle critical section.
func NewSection() *Section {
	return &Section{}
}

// Execute enqueues the task and blocks until it has run. The returned
// error is the task's own error; errors from earlier tasks in the queue
// are invisible here.
func (s *Section) Execute(task func() error) error {
	s.mu.Lock()
	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.mu.Unlock()

	s.pending.Add(1)
	defer s.pending.Add(-1)

	if prev != nil {
		<-prev
	}
	// Release must happen on every exit path, including task panics.
	defer close(done)

	return task()
}

// Pending returns the number of tasks enqueued or running. Useful for
// introspection and tests.
func (s *Section) Pending() int64 {
	return s.pending.Load()
}
