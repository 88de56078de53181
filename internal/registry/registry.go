// Package registry tracks which socket connections may currently receive pushed events.
//
// Membership is the only stale-delivery guard in the relay: a connection id is added when
// its socket is accepted and removed as soon as the socket goes away, so hub callbacks that
// arrive late for a closed connection are rejected.
package registry

import "sync"

type Registry struct {
	mu          sync.RWMutex
	connections map[string]struct{}
}

func New() *Registry {
	return &Registry{connections: make(map[string]struct{})}
}

// Add admits a connection. It reports false if the id was already present.
func (r *Registry) Add(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionID]; ok {
		return false
	}
	r.connections[connectionID] = struct{}{}
	return true
}

// Remove evicts a connection. It reports false if the id was not present.
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionID]; !ok {
		return false
	}
	delete(r.connections, connectionID)
	return true
}

func (r *Registry) Contains(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.connections[connectionID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
