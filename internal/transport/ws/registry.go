// Package ws delivers authentication outcomes to waiting clients. Each
// socket gets a server-assigned connection id at upgrade time; events from
// the pub/sub channel are routed to the connection they name.
package ws

import (
	"sync"

	"github.com/finthenticate/server/internal/observability/metrics"
)

// Frame is the wire shape pushed to clients.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Sender is one live client connection.
type Sender interface {
	Send(frame Frame) error
}

// Registry tracks live connections by id.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Sender
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Sender)}
}

func (r *Registry) Add(id string, s Sender) {
	r.mu.Lock()
	r.conns[id] = s
	r.mu.Unlock()
	metrics.WSConnections.Inc()
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		metrics.WSConnections.Dec()
	}
}

// Send delivers to one connection. Returns false when the id names nothing,
// which is normal: the client may have disconnected before its outcome
// arrived.
func (r *Registry) Send(id string, frame Frame) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.Send(frame) == nil
}

// Broadcast delivers to every connection.
func (r *Registry) Broadcast(frame Frame) {
	r.mu.RLock()
	conns := make([]Sender, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Send(frame)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
