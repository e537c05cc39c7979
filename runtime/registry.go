package runtime

import (
	"clinic-chat/contract"
	"sync"
)

type Set map[string]contract.MessageSink

// Registry tracks the joined hub connections of every user.
// A user may have several tabs or devices open, each with its own sink.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Set // map user -> connection -> sink
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]Set),
	}
}

// SinksFor retrieves the sinks of every connection owned by the given users.
// Returns nil if none of them is connected.
func (r *Registry) SinksFor(userIDs ...string) []contract.MessageSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var activeSinks []contract.MessageSink
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		for _, sink := range r.connections[userID] {
			activeSinks = append(activeSinks, sink)
		}
	}
	return activeSinks
}

// Subscribe registers one connection of a user.
func (r *Registry) Subscribe(userID, connectionID string, sink contract.MessageSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[userID]; !ok {
		r.connections[userID] = make(Set)
	}
	r.connections[userID][connectionID] = sink
}

// Unsubscribe removes one connection and drops the user entry once empty.
func (r *Registry) Unsubscribe(userID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.connections[userID]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(r.connections, userID)
		}
	}
}

func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID])
}

// Stats counts joined users and their connections.
func (r *Registry) Stats() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connections := 0
	for _, conns := range r.connections {
		connections += len(conns)
	}
	return map[string]any{"users": len(r.connections), "connections": connections}
}
