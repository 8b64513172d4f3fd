package heartbeat

import (
	"sync"
	"time"
)

// State is a client context's self-reported liveness.
type State int

const (
	// StateActive means the client recently signaled "I'm alive".
	StateActive State = iota + 1
	// StateInactive means the client reported itself inactive
	// (backgrounded, hidden, about to unload).
	StateInactive
)

type beat struct {
	state State
	at    time.Time
}

// Registry is the liveness table consulted by the timer set. Entries
// are grouped per timer name; each entry records one client context's
// latest signal and when it arrived.
//
// Thread-safe: signals arrive from the message channel while the timer
// goroutines poll.
type Registry struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]map[string]beat // name -> clientID -> last signal
}

// NewRegistry creates an empty liveness table.
func NewRegistry(clock Clock) *Registry {
	return &Registry{
		clock:   clock,
		entries: make(map[string]map[string]beat),
	}
}

// Beat records an "I'm alive" signal from a client for a timer name.
func (r *Registry) Beat(name, clientID string) {
	r.set(name, clientID, StateActive)
}

// MarkInactive records an "I'm inactive" signal from a client.
func (r *Registry) MarkInactive(name, clientID string) {
	r.set(name, clientID, StateInactive)
}

func (r *Registry) set(name, clientID string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, ok := r.entries[name]
	if !ok {
		clients = make(map[string]beat)
		r.entries[name] = clients
	}
	clients[clientID] = beat{state: state, at: r.clock.Now()}
}

// Remove drops one client's entry, e.g. on websocket disconnect.
func (r *Registry) Remove(name, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clients, ok := r.entries[name]; ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(r.entries, name)
		}
	}
}

// RemoveClient drops a client's entries under every timer name. Called
// on websocket disconnect, where the client is gone for all timers it
// ever signaled.
func (r *Registry) RemoveClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, clients := range r.entries {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(r.entries, name)
		}
	}
}

// Clear drops every entry for a timer name. Called on timer teardown.
func (r *Registry) Clear(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// AliveWithin reports whether at least one registered client signaled
// active within the window. No clients at all means not alive: the
// hosting context has nothing keeping it resident.
func (r *Registry) AliveWithin(name string, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-window)
	for _, b := range r.entries[name] {
		if b.state == StateActive && !b.at.Before(cutoff) {
			return true
		}
	}
	return false
}
