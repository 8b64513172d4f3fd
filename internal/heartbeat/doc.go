// Package heartbeat implements the liveness-compensated deferred timer.
//
// The hosting execution context can be reclaimed by its environment
// without warning, so a purely time-based deferred callback is not
// reliable. Client contexts send periodic liveness signals into a
// Registry; the TimerSet polls it on every resolution tick and flushes
// the deferred action early when no client appears live. This is a
// heuristic, not a guarantee.
package heartbeat
