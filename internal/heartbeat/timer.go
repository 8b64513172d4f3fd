package heartbeat

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultResolution is the tick interval at which deferred timers
// decrement and poll liveness.
const DefaultResolution = 500 * time.Millisecond

// TimerSet manages named deferred actions. Starting a timer under a
// name that already exists resets its remaining duration (idempotent
// coalescing window). On each resolution tick a timer decrements its
// remaining duration and fires once at zero - or immediately, when the
// liveness registry shows no live client for its name, rather than risk
// losing the deferred action with a reclaimed host.
type TimerSet struct {
	mu         sync.Mutex
	clock      Clock
	registry   *Registry
	resolution time.Duration

	// onStop, when set, is notified after a timer tears down so clients
	// can be told the timer has stopped.
	onStop func(name string)

	timers map[string]*timer
}

type timer struct {
	mu        sync.Mutex
	remaining time.Duration
	fn        func()
	fired     bool
	quit      chan struct{}
}

// NewTimerSet creates a timer set polling at the given resolution.
// A non-positive resolution falls back to DefaultResolution.
func NewTimerSet(clock Clock, registry *Registry, resolution time.Duration) *TimerSet {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &TimerSet{
		clock:      clock,
		registry:   registry,
		resolution: resolution,
		timers:     make(map[string]*timer),
	}
}

// OnStop registers the teardown notification hook.
func (ts *TimerSet) OnStop(fn func(name string)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.onStop = fn
}

// Start arms (or re-arms) the named deferred action. If a timer with
// this name is already pending, only its remaining duration resets; the
// callback of the first Start stays.
func (ts *TimerSet) Start(d time.Duration, name string, fn func()) {
	ts.mu.Lock()
	if t, ok := ts.timers[name]; ok {
		ts.mu.Unlock()
		t.mu.Lock()
		t.remaining = d
		t.mu.Unlock()
		slog.Debug("timer reset", "name", name, "duration", d)
		return
	}

	t := &timer{remaining: d, fn: fn, quit: make(chan struct{})}
	ts.timers[name] = t
	ts.mu.Unlock()

	slog.Debug("timer started", "name", name, "duration", d, "resolution", ts.resolution)
	go ts.run(name, t)
}

// run is the per-timer tick loop.
func (ts *TimerSet) run(name string, t *timer) {
	for {
		select {
		case <-t.quit:
			return
		case <-ts.clock.After(ts.resolution):
		}

		t.mu.Lock()
		t.remaining -= ts.resolution
		expired := t.remaining <= 0
		t.mu.Unlock()

		// Liveness poll: no live client within the last resolution
		// window means the hosting context may be reclaimed before the
		// window elapses. Flush early instead of losing the action.
		earlyFlush := !ts.registry.AliveWithin(name, ts.resolution)

		if expired || earlyFlush {
			if earlyFlush && !expired {
				slog.Info("timer flushed early: no liveness signal", "name", name)
			}
			ts.fire(name, t)
			return
		}
	}
}

// fire invokes the callback exactly once and tears the timer down.
func (ts *TimerSet) fire(name string, t *timer) {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()

	ts.mu.Lock()
	delete(ts.timers, name)
	onStop := ts.onStop
	ts.mu.Unlock()

	ts.registry.Clear(name)
	close(t.quit)

	t.fn()

	if onStop != nil {
		onStop(name)
	}
}

// FireNow flushes the named timer immediately if it is pending.
// Returns false when no such timer exists.
func (ts *TimerSet) FireNow(name string) bool {
	ts.mu.Lock()
	t, ok := ts.timers[name]
	ts.mu.Unlock()
	if !ok {
		return false
	}
	ts.fire(name, t)
	return true
}

// FireAll flushes every pending timer. Drives the service-timers-now
// channel action.
func (ts *TimerSet) FireAll() {
	ts.mu.Lock()
	pending := make(map[string]*timer, len(ts.timers))
	for name, t := range ts.timers {
		pending[name] = t
	}
	ts.mu.Unlock()

	for name, t := range pending {
		ts.fire(name, t)
	}
}

// Active reports whether a timer with the given name is pending.
func (ts *TimerSet) Active(name string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[name]
	return ok
}
