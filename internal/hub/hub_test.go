package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tj/assert"

	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/model"
	"github.com/route-share/backend/internal/presence"
	"github.com/route-share/backend/internal/protocol"
)

// fakeConn records every frame sent to it.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
	broken bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.broken {
		return false
	}
	c.frames = append(c.frames, data)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) breakSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
}

func (c *fakeConn) messages(t *testing.T) []*protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*protocol.Message, 0, len(c.frames))
	for _, frame := range c.frames {
		msg, err := protocol.Parse(frame)
		assert.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) count(t *testing.T, eventType protocol.EventType) int {
	n := 0
	for _, msg := range c.messages(t) {
		if msg.Type == eventType {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastUsers(t *testing.T) []model.User {
	t.Helper()
	var users []model.User
	found := false
	for _, msg := range c.messages(t) {
		if msg.Type == protocol.EventUpdateUsers {
			users = nil
			assert.NoError(t, json.Unmarshal(msg.Payload, &users))
			found = true
		}
	}
	assert.True(t, found, "no updateUsers frame received by %s", c.id)
	return users
}

func (c *fakeConn) lastRoutes(t *testing.T) []model.Route {
	t.Helper()
	var routes []model.Route
	found := false
	for _, msg := range c.messages(t) {
		if msg.Type == protocol.EventUpdateRoutes {
			routes = nil
			assert.NoError(t, json.Unmarshal(msg.Payload, &routes))
			found = true
		}
	}
	assert.True(t, found, "no updateRoutes frame received by %s", c.id)
	return routes
}

func newTestHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	n := 0
	store := presence.NewStore(presence.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("identity-%d", n)
	}))
	cfg := DefaultConfig()
	cfg.EventsPerSecond = 0
	h := New(cfg, append([]Option{WithPresenceStore(store)}, opts...)...)
	t.Cleanup(h.Close)
	return h
}

func connect(t *testing.T, h *Hub, id string) *fakeConn {
	t.Helper()
	c := newFakeConn(id)
	assert.NoError(t, h.Connect(c))
	return c
}

func event(eventType protocol.EventType, payload string) *protocol.Message {
	msg := &protocol.Message{Type: eventType}
	if payload != "" {
		msg.Payload = json.RawMessage(payload)
	}
	return msg
}

func TestConnect_SendsInitialData(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	_, err := h.Join("conn-a", "Alice", model.LatLng{Lat: 1, Lng: 2})
	assert.NoError(t, err)
	assert.NoError(t, h.ShareRoute("conn-a", []model.LatLng{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}}))

	b := connect(t, h, "conn-b")

	msgs := b.messages(t)
	assert.Len(t, msgs, 1)
	assert.Equal(t, protocol.EventInitialData, msgs[0].Type)

	var data model.InitialData
	assert.NoError(t, json.Unmarshal(msgs[0].Payload, &data))
	assert.Equal(t, 1, data.UserCount)
	assert.Equal(t, "Alice", data.Users[0].DisplayName)
	assert.Len(t, data.ActiveRoutes, 1)
	assert.Equal(t, data.Users[0].ID, data.ActiveRoutes[0].OwnerID)

	// connecting alone does not broadcast
	assert.Equal(t, 1, a.count(t, protocol.EventUpdateUsers))
	assert.Equal(t, StateConnected, h.State("conn-b"))
}

func TestConnect_DuplicateID(t *testing.T) {
	h := newTestHub(t)
	connect(t, h, "conn-a")

	err := h.Connect(newFakeConn("conn-a"))
	assert.True(t, errors.Is(err, model.ErrAlreadyRegistered))
	assert.Equal(t, 1, h.Stats().Connections)
}

func TestScenario_AliceBob(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventJoin, `{"displayName":"Alice","position":{"lat":48.85,"lng":2.35}}`)))

	for _, c := range []*fakeConn{a, b} {
		users := c.lastUsers(t)
		assert.Len(t, users, 1)
		assert.Equal(t, "Alice", users[0].DisplayName)
		assert.NotEmpty(t, users[0].ID)
		assert.Equal(t, model.LatLng{Lat: 48.85, Lng: 2.35}, users[0].Position)
	}
	alice := a.lastUsers(t)[0]

	assert.NoError(t, h.HandleEvent("conn-b", event(protocol.EventJoin, `{"displayName":"Bob","position":{"lat":40.7,"lng":-74}}`)))
	users := a.lastUsers(t)
	assert.Len(t, users, 2)
	assert.Equal(t, alice, users[0])
	assert.Equal(t, "Bob", users[1].DisplayName)

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventShareRoute, `[{"lat":1,"lng":1},{"lat":2,"lng":2}]`)))
	routes := b.lastRoutes(t)
	assert.Len(t, routes, 1)
	assert.Equal(t, alice.ID, routes[0].OwnerID)

	h.Disconnect("conn-a", ReasonTransportClosed)

	users = b.lastUsers(t)
	assert.Len(t, users, 1)
	assert.Equal(t, "Bob", users[0].DisplayName)
	assert.Empty(t, b.lastRoutes(t))
	assert.True(t, a.isClosed())
	assert.Equal(t, StateClosed, h.State("conn-a"))
}

func TestJoin_SelfInclusion(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")

	identity, err := h.Join("conn-a", "Alice", model.LatLng{Lat: 1, Lng: 1})
	assert.NoError(t, err)
	assert.Equal(t, StateJoined, h.State("conn-a"))

	users := a.lastUsers(t)
	assert.Len(t, users, 1)
	assert.Equal(t, identity.ID, users[0].ID)
	assert.Equal(t, identity.Color, users[0].Color)

	assert.NoError(t, h.UpdateLocation("conn-a", model.LatLng{Lat: 5, Lng: 6}))
	assert.Equal(t, model.LatLng{Lat: 5, Lng: 6}, a.lastUsers(t)[0].Position)
}

func TestJoin_DuplicateRejected(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventJoin, `{"displayName":"Alice","position":{"lat":1,"lng":1}}`)))
	before := b.count(t, protocol.EventUpdateUsers)

	err := h.HandleEvent("conn-a", event(protocol.EventJoin, `{"displayName":"Eve","position":{"lat":2,"lng":2}}`))
	assert.True(t, errors.Is(err, model.ErrDuplicateJoin))

	assert.Equal(t, before, b.count(t, protocol.EventUpdateUsers))
	assert.Equal(t, 1, a.count(t, protocol.EventError))
	assert.Equal(t, "Alice", h.PresenceSnapshot()[0].DisplayName)
	assert.Equal(t, StateJoined, h.State("conn-a"))
}

func TestUpdateLocation_BeforeJoinIsNoop(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventUpdateLocation, `{"lat":1,"lng":1}`)))

	assert.Equal(t, 0, a.count(t, protocol.EventUpdateUsers))
	assert.Equal(t, 0, a.count(t, protocol.EventError))
	assert.Empty(t, h.PresenceSnapshot())
	assert.Equal(t, StateConnected, h.State("conn-a"))

	// join still works afterwards
	_, err := h.Join("conn-a", "Alice", model.LatLng{Lat: 2, Lng: 2})
	assert.NoError(t, err)
	assert.Equal(t, model.LatLng{Lat: 2, Lng: 2}, h.PresenceSnapshot()[0].Position)
}

func TestUpdateLocation_MalformedIsIsolated(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")
	_, err := h.Join("conn-a", "Alice", model.LatLng{Lat: 1, Lng: 1})
	assert.NoError(t, err)

	usersA := a.count(t, protocol.EventUpdateUsers)
	usersB := b.count(t, protocol.EventUpdateUsers)

	for _, payload := range []string{`{"lat":10}`, `{"lat":"x","lng":1}`, `"north"`, ``} {
		err := h.HandleEvent("conn-a", event(protocol.EventUpdateLocation, payload))
		assert.True(t, errors.Is(err, model.ErrMalformedEvent), "payload %q", payload)
	}

	assert.Equal(t, model.LatLng{Lat: 1, Lng: 1}, h.PresenceSnapshot()[0].Position)
	assert.Equal(t, usersA, a.count(t, protocol.EventUpdateUsers))
	assert.Equal(t, usersB, b.count(t, protocol.EventUpdateUsers))
	assert.Equal(t, 4, a.count(t, protocol.EventError))
	assert.Equal(t, 0, b.count(t, protocol.EventError))
	assert.Equal(t, StateJoined, h.State("conn-a"))
	assert.False(t, a.isClosed())
}

func TestShareRoute_EmptyClears(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	_, err := h.Join("conn-a", "Alice", model.LatLng{})
	assert.NoError(t, err)

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventShareRoute, `[{"lat":1,"lng":1},{"lat":2,"lng":2}]`)))
	routes := a.lastRoutes(t)
	assert.Len(t, routes, 1)
	assert.Equal(t, []model.LatLng{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}, routes[0].Steps)

	for i := 0; i < 3; i++ {
		assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventShareRoute, `[]`)))
		assert.Empty(t, a.lastRoutes(t))
		assert.Empty(t, h.RouteSnapshot())
	}
	assert.Equal(t, 4, a.count(t, protocol.EventUpdateRoutes))
}

func TestShareRoute_BeforeJoinIgnored(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")

	assert.NoError(t, h.ShareRoute("conn-a", []model.LatLng{{Lat: 1, Lng: 1}}))
	assert.Empty(t, h.RouteSnapshot())
	assert.Equal(t, 0, a.count(t, protocol.EventUpdateRoutes))
}

func TestShareRoute_TooLong(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxRouteSteps = 2
	h := New(cfg)
	defer h.Close()

	a := connect(t, h, "conn-a")
	_, err := h.Join("conn-a", "Alice", model.LatLng{})
	assert.NoError(t, err)

	err = h.ShareRoute("conn-a", []model.LatLng{{}, {}, {}})
	assert.True(t, errors.Is(err, model.ErrRouteTooLong))

	err = h.HandleEvent("conn-a", event(protocol.EventShareRoute, `[{"lat":1,"lng":1},{"lat":1,"lng":1},{"lat":1,"lng":1}]`))
	assert.True(t, errors.Is(err, model.ErrRouteTooLong))
	assert.Equal(t, 0, a.count(t, protocol.EventUpdateRoutes))
	assert.Equal(t, 1, a.count(t, protocol.EventError))
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := newTestHub(t)
	connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")
	_, _ = h.Join("conn-a", "Alice", model.LatLng{})
	_, _ = h.Join("conn-b", "Bob", model.LatLng{})
	assert.NoError(t, h.ShareRoute("conn-a", []model.LatLng{{Lat: 1, Lng: 1}}))

	h.Disconnect("conn-a", ReasonTransportClosed)
	stats := h.Stats()
	users := h.PresenceSnapshot()
	frames := len(b.messages(t))

	h.Disconnect("conn-a", ReasonTransportClosed)
	h.Leave("conn-a")

	assert.Equal(t, stats, h.Stats())
	assert.Equal(t, users, h.PresenceSnapshot())
	assert.Equal(t, frames, len(b.messages(t)))
	assert.Equal(t, model.Stats{Connections: 1, Joined: 1, Routes: 0}, stats)
}

func TestLeaveEvent(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")
	_, _ = h.Join("conn-a", "Alice", model.LatLng{})

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventLeave, "")))

	assert.True(t, a.isClosed())
	assert.Empty(t, b.lastUsers(t))
	assert.Empty(t, b.lastRoutes(t))
}

func TestEventsAfterCloseIgnored(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")
	h.Disconnect("conn-a", ReasonTransportClosed)
	frames := len(b.messages(t))

	err := h.HandleEvent("conn-a", event(protocol.EventJoin, `{"displayName":"Ghost","position":{"lat":1,"lng":1}}`))
	assert.True(t, errors.Is(err, model.ErrUnknownConnection))

	_, err = h.Join("conn-a", "Ghost", model.LatLng{})
	assert.True(t, errors.Is(err, model.ErrUnknownConnection))
	assert.True(t, errors.Is(h.UpdateLocation("conn-a", model.LatLng{}), model.ErrUnknownConnection))
	assert.True(t, errors.Is(h.ShareRoute("conn-a", nil), model.ErrUnknownConnection))

	assert.Empty(t, h.PresenceSnapshot())
	assert.Equal(t, frames, len(b.messages(t)))
	assert.Equal(t, 0, a.count(t, protocol.EventError))
}

func TestUnknownEvent(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")

	err := h.HandleEvent("conn-a", event("teleport", `{}`))
	assert.True(t, errors.Is(err, model.ErrUnknownEvent))
	assert.Equal(t, 1, a.count(t, protocol.EventError))
	assert.Equal(t, StateConnected, h.State("conn-a"))
}

func TestPing(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventPing, "")))
	assert.Equal(t, 1, a.count(t, protocol.EventPong))
}

func TestDeliveryFailureDisconnects(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")
	c := connect(t, h, "conn-c")
	_, _ = h.Join("conn-b", "Bob", model.LatLng{})
	assert.NoError(t, h.ShareRoute("conn-b", []model.LatLng{{Lat: 1, Lng: 1}}))

	b.breakSends()
	_, err := h.Join("conn-a", "Alice", model.LatLng{Lat: 1, Lng: 1})
	assert.NoError(t, err)

	assert.True(t, b.isClosed())
	assert.Equal(t, StateClosed, h.State("conn-b"))

	for _, conn := range []*fakeConn{a, c} {
		users := conn.lastUsers(t)
		assert.Len(t, users, 1)
		assert.Equal(t, "Alice", users[0].DisplayName)
		assert.Empty(t, conn.lastRoutes(t))
	}
}

func TestDeliveryFailureCascade(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")
	c := connect(t, h, "conn-c")

	b.breakSends()
	c.breakSends()
	_, err := h.Join("conn-a", "Alice", model.LatLng{})
	assert.NoError(t, err)

	assert.Equal(t, 1, h.Stats().Connections)
	assert.True(t, b.isClosed())
	assert.True(t, c.isClosed())
	assert.Len(t, a.lastUsers(t), 1)
}

func TestInitialDataDeliveryFailure(t *testing.T) {
	h := newTestHub(t)
	c := newFakeConn("conn-a")
	c.breakSends()

	assert.NoError(t, h.Connect(c))
	assert.True(t, c.isClosed())
	assert.Equal(t, 0, h.Stats().Connections)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventsPerSecond = 0.001
	cfg.EventBurst = 2
	h := New(cfg)
	defer h.Close()

	a := connect(t, h, "conn-a")
	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventJoin, `{"displayName":"Alice","position":{"lat":1,"lng":1}}`)))
	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventUpdateLocation, `{"lat":2,"lng":2}`)))

	err := h.HandleEvent("conn-a", event(protocol.EventUpdateLocation, `{"lat":3,"lng":3}`))
	assert.True(t, errors.Is(err, model.ErrRateLimited))
	assert.Equal(t, model.LatLng{Lat: 2, Lng: 2}, h.PresenceSnapshot()[0].Position)
	assert.Equal(t, 0, a.count(t, protocol.EventError))
	assert.Equal(t, StateJoined, h.State("conn-a"))
}

func TestRateLimit_LeaveAndPingExempt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventsPerSecond = 0.001
	cfg.EventBurst = 1
	h := New(cfg)
	defer h.Close()

	a := connect(t, h, "conn-a")
	b := connect(t, h, "conn-b")
	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventJoin, `{"displayName":"Alice","position":{"lat":1,"lng":1}}`)))

	err := h.HandleEvent("conn-a", event(protocol.EventUpdateLocation, `{"lat":2,"lng":2}`))
	assert.True(t, errors.Is(err, model.ErrRateLimited))

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventPing, "")))
	assert.Equal(t, 1, a.count(t, protocol.EventPong))

	assert.NoError(t, h.HandleEvent("conn-a", event(protocol.EventLeave, "")))
	assert.Equal(t, StateClosed, h.State("conn-a"))
	assert.True(t, a.isClosed())
	assert.Empty(t, h.PresenceSnapshot())
	assert.Empty(t, b.lastUsers(t))
}

func TestMaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 2
	h := New(cfg)
	defer h.Close()

	connect(t, h, "conn-a")
	connect(t, h, "conn-b")
	assert.True(t, h.AtCapacity())

	err := h.Connect(newFakeConn("conn-c"))
	assert.True(t, errors.Is(err, model.ErrCapacity))

	h.Disconnect("conn-a", ReasonTransportClosed)
	assert.False(t, h.AtCapacity())
	assert.NoError(t, h.Connect(newFakeConn("conn-c")))
}

func TestClose(t *testing.T) {
	h := New(DefaultConfig())
	a := connect(t, h, "conn-a")
	_, _ = h.Join("conn-a", "Alice", model.LatLng{})
	assert.NoError(t, h.ShareRoute("conn-a", []model.LatLng{{Lat: 1, Lng: 1}}))

	h.Close()
	h.Close()

	assert.True(t, a.isClosed())
	assert.Equal(t, model.Stats{}, h.Stats())
	assert.True(t, errors.Is(h.Connect(newFakeConn("conn-b")), model.ErrHubClosed))
	assert.True(t, h.AtCapacity())
}

func TestJournal(t *testing.T) {
	recorder := journal.NewMemory(16)
	h := newTestHub(t, WithJournal(recorder))

	connect(t, h, "conn-a")
	_, err := h.Join("conn-a", "Alice", model.LatLng{})
	assert.NoError(t, err)
	h.Leave("conn-a")

	entries, err := recorder.Recent(context.Background(), 0)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, journal.KindLeft, entries[0].Kind)
	assert.Equal(t, ReasonLeft, entries[0].Reason)
	assert.Equal(t, "Alice", entries[0].DisplayName)
	assert.Equal(t, journal.KindJoined, entries[1].Kind)
	assert.Equal(t, "identity-1", entries[1].IdentityID)
	assert.Equal(t, journal.KindConnected, entries[2].Kind)
	assert.Equal(t, h.Journal(), journal.Recorder(recorder))
}

func TestBroadcastOrderIsConsistent(t *testing.T) {
	h := newTestHub(t)
	observers := []*fakeConn{connect(t, h, "observer-1"), connect(t, h, "observer-2")}

	const writers = 8
	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("writer-%d", i)
		connect(t, h, id)
		_, err := h.Join(id, id, model.LatLng{})
		assert.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("writer-%d", i)
			for step := 0; step < 20; step++ {
				pos := model.LatLng{Lat: float64(step), Lng: float64(i)}
				if step%5 == 0 {
					_ = h.ShareRoute(id, []model.LatLng{pos})
				} else {
					_ = h.UpdateLocation(id, pos)
				}
			}
		}(i)
	}
	wg.Wait()

	first := observers[0].messages(t)
	second := observers[1].messages(t)
	assert.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Type, second[i].Type)
		assert.Equal(t, string(first[i].Payload), string(second[i].Payload))
	}

	// the last frame of each kind reflects the final store contents
	final := observers[0].lastUsers(t)
	assert.Equal(t, h.PresenceSnapshot(), final)
}
