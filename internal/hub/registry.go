package hub

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/route-share/backend/internal/model"
)

// Conn is one live transport session as seen by the hub.
type Conn interface {
	// ID returns the server-assigned connection id. Ids are never reused.
	ID() string
	// Send enqueues data without blocking and reports whether it was accepted.
	Send(data []byte) bool
	// Close tears down the transport. It must be safe to call more than once.
	Close()
}

type session struct {
	conn        Conn
	state       State
	connectedAt time.Time
	limiter     *rate.Limiter
}

// Registry tracks every live connection and its lifecycle state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	eventRate  rate.Limit
	eventBurst int
}

// NewRegistry creates an empty registry. A non-positive eventsPerSecond
// disables per-connection rate limiting.
func NewRegistry(eventsPerSecond float64, burst int) *Registry {
	r := &Registry{
		sessions:  make(map[string]*session),
		eventRate: rate.Inf,
	}
	if eventsPerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		r.eventRate = rate.Limit(eventsPerSecond)
		r.eventBurst = burst
	}
	return r
}

// Register adds a connection in the Connected state.
func (r *Registry) Register(conn Conn, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("register %s: %w", id, model.ErrAlreadyRegistered)
	}
	r.sessions[id] = &session{
		conn:        conn,
		state:       StateConnected,
		connectedAt: now,
		limiter:     rate.NewLimiter(r.eventRate, r.eventBurst),
	}
	return nil
}

// Unregister removes a connection and returns it. Unregistering an unknown
// or already removed connection is a no-op.
func (r *Registry) Unregister(id string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return s.conn, true
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.conn, true
}

// State returns the lifecycle state of id. Unknown ids are Closed.
func (r *Registry) State(id string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return StateClosed
	}
	return s.state
}

// SetState moves a registered connection to next.
func (r *Registry) SetState(id string, next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("set state %s: %w", id, model.ErrUnknownConnection)
	}
	if !s.state.CanTransition(next) {
		return fmt.Errorf("connection %s: illegal transition %s -> %s", id, s.state, next)
	}
	s.state = next
	return nil
}

// Allow consumes one event token for id.
func (r *Registry) Allow(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	return s.limiter.Allow()
}

// All returns every registered connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.sessions))
	for _, s := range r.sessions {
		conns = append(conns, s.conn)
	}
	return conns
}

// IDs returns the ids of every registered connection.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
