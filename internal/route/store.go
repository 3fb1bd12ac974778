// Package route keeps the itinerary most recently shared by each connection.
package route

import (
	"sort"
	"sync"
	"time"

	"github.com/route-share/backend/internal/model"
)

type entry struct {
	route model.SharedRoute
	seq   uint64
}

// Store maps connection ids to shared routes. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
	now     func() time.Time
}

// NewStore creates an empty route store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Share replaces the route of the connection. An empty step list clears it.
// It reports whether the connection now holds a route.
func (s *Store) Share(connID, ownerID string, steps []model.LatLng) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(steps) == 0 {
		delete(s.entries, connID)
		return false
	}

	copied := make([]model.LatLng, len(steps))
	copy(copied, steps)

	e, ok := s.entries[connID]
	if !ok {
		s.nextSeq++
		e = &entry{seq: s.nextSeq}
		s.entries[connID] = e
	}
	e.route = model.SharedRoute{
		ConnectionID: connID,
		OwnerID:      ownerID,
		Steps:        copied,
		SharedAt:     s.now(),
	}
	return true
}

// Remove deletes the route of the connection and reports whether one existed.
func (s *Store) Remove(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[connID]; !ok {
		return false
	}
	delete(s.entries, connID)
	return true
}

// Route returns the route shared by the connection, if any.
func (s *Store) Route(connID string) (model.SharedRoute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[connID]
	if !ok {
		return model.SharedRoute{}, false
	}
	return e.route, true
}

// Has reports whether the connection holds a route.
func (s *Store) Has(connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[connID]
	return ok
}

// Len returns the number of shared routes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ConnectionIDs returns the ids of connections holding a route, in snapshot order.
func (s *Store) ConnectionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedLocked()
	ids := make([]string, len(ordered))
	for i, e := range ordered {
		ids[i] = e.route.ConnectionID
	}
	return ids
}

// Snapshot returns every shared route ordered by when it was first shared.
func (s *Store) Snapshot() []model.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedLocked()
	routes := make([]model.Route, len(ordered))
	for i, e := range ordered {
		steps := make([]model.LatLng, len(e.route.Steps))
		copy(steps, e.route.Steps)
		routes[i] = model.Route{OwnerID: e.route.OwnerID, Steps: steps}
	}
	return routes
}

// Reset drops every route.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

func (s *Store) orderedLocked() []*entry {
	ordered := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].seq < ordered[j].seq
	})
	return ordered
}
