// Package protocol defines the JSON envelope exchanged over the WebSocket and
// validates inbound event payloads.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/route-share/backend/internal/model"
)

// EventType names an inbound or outbound event.
type EventType string

const (
	// Client -> Server
	EventJoin           EventType = "join"
	EventUpdateLocation EventType = "updateLocation"
	EventShareRoute     EventType = "shareRoute"
	EventLeave          EventType = "leave"
	EventPing           EventType = "ping"

	// Server -> Client
	EventUpdateUsers  EventType = "updateUsers"
	EventUpdateRoutes EventType = "updateRoutes"
	EventInitialData  EventType = "initialData"
	EventPong         EventType = "pong"
	EventError        EventType = "error"
)

// Message is the envelope of every frame.
type Message struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ErrorPayload tells the client which of its events was rejected.
type ErrorPayload struct {
	Event EventType `json:"event,omitempty"`
}

// Parse decodes an inbound frame. The payload is left raw for the event decoders.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", model.ErrMalformedEvent)
	}
	return &msg, nil
}

// Encode builds an outbound frame carrying payload.
func Encode(eventType EventType, payload any) ([]byte, error) {
	msg := Message{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

// EncodeError builds an error frame for a rejected event.
func EncodeError(event EventType, cause error) []byte {
	msg := Message{Type: EventError, Error: cause.Error()}
	if event != "" {
		raw, _ := json.Marshal(ErrorPayload{Event: event})
		msg.Payload = raw
	}
	data, _ := json.Marshal(msg)
	return data
}

// EncodeUsers builds an updateUsers frame.
func EncodeUsers(users []model.User) ([]byte, error) {
	if users == nil {
		users = []model.User{}
	}
	return Encode(EventUpdateUsers, users)
}

// EncodeRoutes builds an updateRoutes frame.
func EncodeRoutes(routes []model.Route) ([]byte, error) {
	if routes == nil {
		routes = []model.Route{}
	}
	return Encode(EventUpdateRoutes, routes)
}
