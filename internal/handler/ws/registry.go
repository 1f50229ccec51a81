package ws

import (
	"sync"

	"github.com/google/uuid"

	"sealedchat-backend/pkg/metrics"
)

// ConnectionRegistry maps users to their live connections on this instance.
// A user may hold several connections (devices, tabs).
type ConnectionRegistry struct {
	mu    sync.Mutex
	conns map[uuid.UUID]map[*Client]struct{}
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[uuid.UUID]map[*Client]struct{})}
}

// Add registers c and reports whether it is the user's first local connection
func (r *ConnectionRegistry) Add(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		r.conns[c.userID] = set
	}
	set[c] = struct{}{}
	metrics.ChatWebSocketConnections.Inc()
	return !ok
}

// Remove unregisters c and closes its send queue. It reports whether c was
// registered; removing twice is a no-op.
func (r *ConnectionRegistry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(c)
}

func (r *ConnectionRegistry) removeLocked(c *Client) bool {
	set, ok := r.conns[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}

	delete(set, c)
	close(c.send)
	metrics.ChatWebSocketConnections.Dec()
	if len(set) == 0 {
		delete(r.conns, c.userID)
	}
	return true
}

// Send queues payload on every connection of userID and returns how many
// accepted it. A connection whose queue is full is dropped; the client
// reconnects and resyncs from history.
func (r *ConnectionRegistry) Send(userID uuid.UUID, payload []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	for c := range r.conns[userID] {
		select {
		case c.send <- payload:
			sent++
		default:
			metrics.ChatClientMessageDroppedTotal.WithLabelValues("slow_consumer").Inc()
			r.removeLocked(c)
		}
	}
	return sent
}

// CloseAll unregisters every connection and closes their send queues
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.conns {
		for c := range set {
			r.removeLocked(c)
		}
	}
}

// Connections returns the number of live connections of userID
func (r *ConnectionRegistry) Connections(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID])
}
