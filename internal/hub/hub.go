// Package hub implements the presence and route-sharing hub: the connection
// registry, the broadcast engine and the per-connection lifecycle.
//
// Every mutation of the registry, presence store and route store, and every
// snapshot fan-out, happens under a single hub lock. Broadcasts are therefore
// computed from a consistent view of both stores and enqueued on each
// connection in the order the mutations were applied.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/model"
	"github.com/route-share/backend/internal/presence"
	"github.com/route-share/backend/internal/protocol"
	"github.com/route-share/backend/internal/route"
)

// Close reasons recorded in the journal.
const (
	ReasonTransportClosed = "transport closed"
	ReasonLeft            = "left"
	ReasonDeliveryFailed  = "delivery failed"
	ReasonShutdown        = "shutdown"
)

// Config holds hub limits.
type Config struct {
	Limits protocol.Limits

	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int

	// EventsPerSecond and EventBurst bound inbound events per connection.
	// A non-positive EventsPerSecond disables the limit.
	EventsPerSecond float64
	EventBurst      int

	// JournalTimeout bounds each journal write.
	JournalTimeout time.Duration
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() Config {
	return Config{
		Limits:          protocol.DefaultLimits(),
		EventsPerSecond: 20,
		EventBurst:      40,
		JournalTimeout:  2 * time.Second,
	}
}

// Hub owns the registry and both stores.
type Hub struct {
	mu          sync.Mutex
	cfg         Config
	registry    *Registry
	presence    *presence.Store
	routes      *route.Store
	broadcaster *Broadcaster
	journal     journal.Recorder
	logger      zerolog.Logger
	now         func() time.Time
	closed      bool

	// pending journal entries, written after the lock is released
	pending []journal.Entry
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithJournal sets the journal recorder.
func WithJournal(recorder journal.Recorder) Option {
	return func(h *Hub) { h.journal = recorder }
}

// WithPresenceStore replaces the presence store.
func WithPresenceStore(store *presence.Store) Option {
	return func(h *Hub) { h.presence = store }
}

// WithClock overrides the hub clock.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// New creates a hub with empty stores.
func New(cfg Config, opts ...Option) *Hub {
	if cfg.JournalTimeout <= 0 {
		cfg.JournalTimeout = DefaultConfig().JournalTimeout
	}

	h := &Hub{
		cfg:      cfg,
		presence: presence.NewStore(),
		routes:   route.NewStore(),
		journal:  journal.Nop{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.registry = NewRegistry(cfg.EventsPerSecond, cfg.EventBurst)
	h.broadcaster = NewBroadcaster(h.registry, h.presence, h.routes, h.logger)
	return h
}

// Connect registers a new connection and sends it the current state.
func (h *Hub) Connect(conn Conn) error {
	var err error
	h.locked(func() {
		err = h.connectLocked(conn)
	})
	return err
}

func (h *Hub) connectLocked(conn Conn) error {
	if h.closed {
		return model.ErrHubClosed
	}
	if h.cfg.MaxConnections > 0 && h.registry.Count() >= h.cfg.MaxConnections {
		return fmt.Errorf("connect %s: %w", conn.ID(), model.ErrCapacity)
	}
	if err := h.registry.Register(conn, h.now()); err != nil {
		return err
	}

	id := conn.ID()
	h.logger.Info().Str("connection_id", id).Int("connections", h.registry.Count()).Msg("connection registered")
	h.pending = append(h.pending, journal.Entry{
		Kind:         journal.KindConnected,
		ConnectionID: id,
		CreatedAt:    h.now(),
	})

	data, err := protocol.Encode(protocol.EventInitialData, h.initialDataLocked())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode initial data")
		return nil
	}
	if !conn.Send(data) {
		h.disconnectLocked(id, ReasonDeliveryFailed)
	}
	return nil
}

// Disconnect closes the connection and removes all of its state. Calling it
// for an unknown or already closed connection is a no-op.
func (h *Hub) Disconnect(connID, reason string) {
	h.locked(func() {
		h.disconnectLocked(connID, reason)
	})
}

// Leave handles an explicit close requested by the client.
func (h *Hub) Leave(connID string) {
	h.Disconnect(connID, ReasonLeft)
}

func (h *Hub) disconnectLocked(connID, reason string) {
	if !h.removeLocked(connID, reason) {
		return
	}
	h.broadcastLocked(true, true)
}

// removeLocked drops every trace of the connection without broadcasting.
func (h *Hub) removeLocked(connID, reason string) bool {
	identity, joined := h.presence.Identity(connID)
	h.presence.Remove(connID)
	h.routes.Remove(connID)

	conn, ok := h.registry.Unregister(connID)
	if !ok {
		return false
	}
	conn.Close()

	entry := journal.Entry{
		Kind:         journal.KindLeft,
		ConnectionID: connID,
		Reason:       reason,
		CreatedAt:    h.now(),
	}
	if joined {
		entry.IdentityID = identity.ID
		entry.DisplayName = identity.DisplayName
	}
	h.pending = append(h.pending, entry)

	h.logger.Info().
		Str("connection_id", connID).
		Str("reason", reason).
		Int("connections", h.registry.Count()).
		Msg("connection closed")
	return true
}

// broadcastLocked fans out the requested snapshots. Connections that fail to
// accept a snapshot are closed and the departure is broadcast in turn, until
// a round completes without failures.
func (h *Hub) broadcastLocked(users, routes bool) {
	for users || routes {
		var failed []string
		if users {
			failed = append(failed, h.broadcaster.BroadcastPresence()...)
		}
		if routes {
			failed = append(failed, h.broadcaster.BroadcastRoutes()...)
		}

		users, routes = false, false
		for _, id := range failed {
			if h.removeLocked(id, ReasonDeliveryFailed) {
				users, routes = true, true
			}
		}
	}
}

// Join binds a fresh identity to the connection and broadcasts presence.
func (h *Hub) Join(connID, displayName string, position model.LatLng) (model.Identity, error) {
	var (
		identity model.Identity
		err      error
	)
	h.locked(func() {
		identity, err = h.joinLocked(connID, displayName, position)
	})
	return identity, err
}

func (h *Hub) joinLocked(connID, displayName string, position model.LatLng) (model.Identity, error) {
	if h.registry.State(connID) == StateClosed {
		return model.Identity{}, fmt.Errorf("join %s: %w", connID, model.ErrUnknownConnection)
	}
	if err := position.Validate(); err != nil {
		return model.Identity{}, err
	}

	identity, err := h.presence.Join(connID, displayName, position)
	if err != nil {
		return model.Identity{}, err
	}
	if err := h.registry.SetState(connID, StateJoined); err != nil {
		h.presence.Remove(connID)
		return model.Identity{}, err
	}

	h.pending = append(h.pending, journal.Entry{
		Kind:         journal.KindJoined,
		ConnectionID: connID,
		IdentityID:   identity.ID,
		DisplayName:  identity.DisplayName,
		CreatedAt:    h.now(),
	})
	h.logger.Info().
		Str("connection_id", connID).
		Str("identity_id", identity.ID).
		Str("display_name", identity.DisplayName).
		Msg("joined")

	h.broadcastLocked(true, false)
	return identity, nil
}

// UpdateLocation records a new position. Updates from a connection that has
// not joined yet are ignored without error and without broadcast.
func (h *Hub) UpdateLocation(connID string, position model.LatLng) error {
	var err error
	h.locked(func() {
		err = h.updateLocationLocked(connID, position)
	})
	return err
}

func (h *Hub) updateLocationLocked(connID string, position model.LatLng) error {
	if h.registry.State(connID) == StateClosed {
		return fmt.Errorf("update location %s: %w", connID, model.ErrUnknownConnection)
	}
	if err := position.Validate(); err != nil {
		return err
	}
	if !h.presence.UpdatePosition(connID, position) {
		h.logger.Debug().Err(model.ErrNotJoined).Str("connection_id", connID).Msg("location update ignored")
		return nil
	}
	h.broadcastLocked(true, false)
	return nil
}

// ShareRoute replaces the connection's route; an empty route clears it.
// Shares from a connection that has not joined yet are ignored.
func (h *Hub) ShareRoute(connID string, steps []model.LatLng) error {
	var err error
	h.locked(func() {
		err = h.shareRouteLocked(connID, steps)
	})
	return err
}

func (h *Hub) shareRouteLocked(connID string, steps []model.LatLng) error {
	if h.registry.State(connID) == StateClosed {
		return fmt.Errorf("share route %s: %w", connID, model.ErrUnknownConnection)
	}
	if limit := h.cfg.Limits.MaxRouteSteps; limit > 0 && len(steps) > limit {
		return fmt.Errorf("%w: %w: %d > %d", model.ErrMalformedEvent, model.ErrRouteTooLong, len(steps), limit)
	}
	for i, step := range steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	identity, ok := h.presence.Identity(connID)
	if !ok {
		h.logger.Debug().Err(model.ErrNotJoined).Str("connection_id", connID).Msg("route share ignored")
		return nil
	}
	h.routes.Share(connID, identity.ID, steps)
	h.broadcastLocked(false, true)
	return nil
}

// HandleEvent decodes and applies one inbound event. Malformed events are
// rejected with an error frame to the sender only; the connection stays open
// and nothing is broadcast. Events for unknown connections are dropped.
func (h *Hub) HandleEvent(connID string, msg *protocol.Message) error {
	if h.registry.State(connID) == StateClosed {
		h.logger.Debug().Str("connection_id", connID).Str("event", string(msg.Type)).Msg("event for closed connection ignored")
		return fmt.Errorf("%s from %s: %w", msg.Type, connID, model.ErrUnknownConnection)
	}
	// leave and ping are never throttled
	if msg.Type != protocol.EventLeave && msg.Type != protocol.EventPing && !h.registry.Allow(connID) {
		h.logger.Warn().Str("connection_id", connID).Str("event", string(msg.Type)).Msg("rate limit: event dropped")
		return fmt.Errorf("%s from %s: %w", msg.Type, connID, model.ErrRateLimited)
	}

	var err error
	switch msg.Type {
	case protocol.EventJoin:
		var join protocol.Join
		if join, err = protocol.DecodeJoin(msg.Payload, h.cfg.Limits); err == nil {
			_, err = h.Join(connID, join.DisplayName, join.Position)
		}
	case protocol.EventUpdateLocation:
		var pos model.LatLng
		if pos, err = protocol.DecodeLocation(msg.Payload); err == nil {
			err = h.UpdateLocation(connID, pos)
		}
	case protocol.EventShareRoute:
		var steps []model.LatLng
		if steps, err = protocol.DecodeRoute(msg.Payload, h.cfg.Limits); err == nil {
			err = h.ShareRoute(connID, steps)
		}
	case protocol.EventLeave:
		h.Leave(connID)
	case protocol.EventPing:
		h.reply(connID, protocol.EventPong, nil)
	default:
		err = fmt.Errorf("%w: %q", model.ErrUnknownEvent, msg.Type)
	}

	if err != nil && !errors.Is(err, model.ErrUnknownConnection) {
		h.logger.Debug().Err(err).Str("connection_id", connID).Str("event", string(msg.Type)).Msg("event rejected")
		h.send(connID, protocol.EncodeError(msg.Type, err))
	}
	return err
}

func (h *Hub) reply(connID string, eventType protocol.EventType, payload any) {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(eventType)).Msg("failed to encode reply")
		return
	}
	h.send(connID, data)
}

// send delivers a frame to a single connection.
func (h *Hub) send(connID string, data []byte) {
	h.locked(func() {
		conn, ok := h.registry.Get(connID)
		if !ok {
			return
		}
		if !conn.Send(data) {
			h.disconnectLocked(connID, ReasonDeliveryFailed)
		}
	})
}

// PresenceSnapshot returns the current presence snapshot.
func (h *Hub) PresenceSnapshot() []model.User {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence.Snapshot()
}

// RouteSnapshot returns the current route snapshot.
func (h *Hub) RouteSnapshot() []model.Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.routes.Snapshot()
}

// InitialData returns the state sent to a freshly connected client.
func (h *Hub) InitialData() model.InitialData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialDataLocked()
}

func (h *Hub) initialDataLocked() model.InitialData {
	return model.InitialData{
		UserCount:    h.presence.Len(),
		Users:        h.presence.Snapshot(),
		ActiveRoutes: h.routes.Snapshot(),
	}
}

// Stats returns connection and store counts.
func (h *Hub) Stats() model.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return model.Stats{
		Connections: h.registry.Count(),
		Joined:      h.presence.Len(),
		Routes:      h.routes.Len(),
	}
}

// AtCapacity reports whether a new connection would be refused.
func (h *Hub) AtCapacity() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed || (h.cfg.MaxConnections > 0 && h.registry.Count() >= h.cfg.MaxConnections)
}

// State returns the lifecycle state of the connection.
func (h *Hub) State(connID string) State {
	return h.registry.State(connID)
}

// Journal returns the journal recorder.
func (h *Hub) Journal() journal.Recorder {
	return h.journal
}

// Close closes every connection and empties the stores. Connect fails with
// model.ErrHubClosed afterwards.
func (h *Hub) Close() {
	h.locked(func() {
		if h.closed {
			return
		}
		h.closed = true
		for _, id := range h.registry.IDs() {
			h.removeLocked(id, ReasonShutdown)
		}
		h.presence.Reset()
		h.routes.Reset()
	})
}

// locked runs fn under the hub lock and writes the journal entries it
// produced once the lock is released.
func (h *Hub) locked(fn func()) {
	h.mu.Lock()
	fn()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	h.record(pending)
}

func (h *Hub) record(entries []journal.Entry) {
	for _, entry := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.JournalTimeout)
		if err := h.journal.Record(ctx, entry); err != nil {
			h.logger.Error().Err(err).Str("connection_id", entry.ConnectionID).Msg("failed to record journal entry")
		}
		cancel()
	}
}
