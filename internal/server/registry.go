package server

import (
	"slices"
	"sync"
)

// Registry maps each online user to their current connection. A user has
// at most one entry; the most recent connection wins.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Client)}
}

// Register records c as userID's connection and returns the handle it
// replaced, if any.
func (r *Registry) Register(userID string, c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[userID]
	r.sessions[userID] = c
	return prev
}

// Unregister removes userID only while it still points at c, so a stale
// duplicate connection closing does not take a live user offline. It
// reports whether the entry was removed.
func (r *Registry) Unregister(userID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[userID]; !ok || current != c {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// Lookup returns userID's current connection.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.sessions[userID]
	return c, ok
}

// Online returns the ids of all online users, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
