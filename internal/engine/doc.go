// Package engine wires the sync components into a single orchestrator.
//
// The engine owns the local store, the FIFO critical section, the
// liveness registry and deferred timers, the batch collector, the
// conflict resolver, the network adapter, and the client message hub.
// All mutable state lives on the Engine struct; there are no
// package-level singletons.
//
// Client actions arrive over the message hub and are consumed by a
// single Run loop in arrival order. Mutations write local state first
// (inside the critical section, after capturing a merge-base snapshot),
// then log batch intents that the collector later reduces into minimal
// network calls. Failures inside the loop are logged and never stop it.
package engine
