// Package presence keeps the identity and last known position of every joined
// connection.
package presence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/route-share/backend/internal/model"
)

type entry struct {
	identity model.Identity
	record   model.PositionRecord
	seq      uint64
}

// Store maps connection ids to identities and positions.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64

	newID func() string
	hue   HueSource
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides identity id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithHueSource overrides the hue source used for color assignment.
func WithHueSource(fn HueSource) Option {
	return func(s *Store) { s.hue = fn }
}

// WithClock overrides the clock used for updatedAt timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// NewStore creates an empty presence store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		newID:   uuid.NewString,
		hue:     RandomHue,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join assigns a fresh identity to the connection and stores its initial position.
// A connection that already joined is rejected with model.ErrDuplicateJoin.
func (s *Store) Join(connID, displayName string, position model.LatLng) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[connID]; ok {
		return model.Identity{}, fmt.Errorf("join %s: %w", connID, model.ErrDuplicateJoin)
	}

	identity := model.Identity{
		ID:          s.newID(),
		DisplayName: displayName,
		Color:       ColorFor(s.hue()),
	}
	s.nextSeq++
	s.entries[connID] = &entry{
		identity: identity,
		record: model.PositionRecord{
			ConnectionID: connID,
			Position:     position,
			UpdatedAt:    s.now(),
		},
		seq: s.nextSeq,
	}
	return identity, nil
}

// UpdatePosition records a new position for the connection.
// It returns false without error when the connection has not joined yet.
func (s *Store) UpdatePosition(connID string, position model.LatLng) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[connID]
	if !ok {
		return false
	}
	e.record.Position = position
	e.record.UpdatedAt = s.now()
	return true
}

// Remove deletes the identity and position of the connection.
// It reports whether anything was removed.
func (s *Store) Remove(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[connID]; !ok {
		return false
	}
	delete(s.entries, connID)
	return true
}

// Identity returns the identity bound to the connection, if any.
func (s *Store) Identity(connID string) (model.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[connID]
	if !ok {
		return model.Identity{}, false
	}
	return e.identity, true
}

// Position returns the position record of the connection, if any.
func (s *Store) Position(connID string) (model.PositionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[connID]
	if !ok {
		return model.PositionRecord{}, false
	}
	return e.record, true
}

// Has reports whether the connection has joined.
func (s *Store) Has(connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[connID]
	return ok
}

// Len returns the number of joined connections.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ConnectionIDs returns the ids of all joined connections in join order.
func (s *Store) ConnectionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedLocked()
	ids := make([]string, len(ordered))
	for i, e := range ordered {
		ids[i] = e.record.ConnectionID
	}
	return ids
}

// Snapshot returns every joined user ordered by join time.
func (s *Store) Snapshot() []model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedLocked()
	users := make([]model.User, len(ordered))
	for i, e := range ordered {
		users[i] = model.User{
			ID:          e.identity.ID,
			DisplayName: e.identity.DisplayName,
			Position:    e.record.Position,
			Color:       e.identity.Color,
		}
	}
	return users
}

// Reset drops every entry.
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
