package server

import (
	"sync"
)

// Registry maps an identity to its single live connection.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Client),
	}
}

// bind registers c and returns the connection it supersedes, if any. added
// is false when c was already the registered connection.
func (r *Registry) bind(c *Client) (old *Client, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old = r.conns[c.identity.UserId]
	if old == c {
		return nil, false
	}

	r.conns[c.identity.UserId] = c
	return old, true
}

// unbind removes c only if it is still the registered connection, so a late
// close of a superseded connection cannot evict its successor.
func (r *Registry) unbind(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[c.identity.UserId] != c {
		return false
	}

	delete(r.conns, c.identity.UserId)
	return true
}

func (r *Registry) lookup(userId string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.conns[userId]
}

func (r *Registry) all() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		clients = append(clients, c)
	}
	return clients
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}
