package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/route-share/backend/internal/model"
)

// Limits bounds inbound payloads.
type Limits struct {
	MaxDisplayNameLength int
	MaxRouteSteps        int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDisplayNameLength: 64,
		MaxRouteSteps:        1000,
	}
}

const (
	// maxStepBytes bounds one encoded step at full float64 precision,
	// {"lat":-12.345678901234567,"lng":-123.45678901234567} plus a comma.
	maxStepBytes = 64

	// envelopeBytes covers the envelope and a fully escaped displayName.
	envelopeBytes = 1024
)

// MaxFrameSize returns the size of the largest frame a client can send
// without exceeding limits.
// Without a step limit the default limit is assumed.
func MaxFrameSize(limits Limits) int64 {
	steps := limits.MaxRouteSteps
	if steps <= 0 {
		steps = DefaultLimits().MaxRouteSteps
	}
	return int64(steps)*maxStepBytes + envelopeBytes
}

// ReadLimit returns the transport read limit for limits. It leaves room for
// routes up to twice the step limit, so that moderately oversized routes are
// still decoded and rejected as malformed instead of closing the socket.
func ReadLimit(limits Limits) int64 {
	return 2 * MaxFrameSize(limits)
}

// Join is a validated join payload.
type Join struct {
	DisplayName string
	Position    model.LatLng
}

type point struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (p *point) latLng() (model.LatLng, error) {
	if p == nil {
		return model.LatLng{}, fmt.Errorf("%w: missing position", model.ErrMalformedEvent)
	}
	if p.Lat == nil {
		return model.LatLng{}, fmt.Errorf("%w: missing lat", model.ErrMalformedEvent)
	}
	if p.Lng == nil {
		return model.LatLng{}, fmt.Errorf("%w: missing lng", model.ErrMalformedEvent)
	}
	pos := model.LatLng{Lat: *p.Lat, Lng: *p.Lng}
	if err := pos.Validate(); err != nil {
		return model.LatLng{}, err
	}
	return pos, nil
}

type joinPayload struct {
	DisplayName *string `json:"displayName"`
	Position    *point  `json:"position"`
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", model.ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	return nil
}

// DecodeJoin validates a join payload.
func DecodeJoin(raw json.RawMessage, limits Limits) (Join, error) {
	var p joinPayload
	if err := unmarshal(raw, &p); err != nil {
		return Join{}, err
	}
	if p.DisplayName == nil {
		return Join{}, fmt.Errorf("%w: missing displayName", model.ErrMalformedEvent)
	}
	name := strings.TrimSpace(*p.DisplayName)
	if name == "" {
		return Join{}, fmt.Errorf("%w: empty displayName", model.ErrMalformedEvent)
	}
	if limits.MaxDisplayNameLength > 0 && utf8.RuneCountInString(name) > limits.MaxDisplayNameLength {
		return Join{}, fmt.Errorf("%w: displayName longer than %d characters", model.ErrMalformedEvent, limits.MaxDisplayNameLength)
	}
	pos, err := p.Position.latLng()
	if err != nil {
		return Join{}, err
	}
	return Join{DisplayName: name, Position: pos}, nil
}

// DecodeLocation validates an updateLocation payload.
func DecodeLocation(raw json.RawMessage) (model.LatLng, error) {
	var p *point
	if err := unmarshal(raw, &p); err != nil {
		return model.LatLng{}, err
	}
	return p.latLng()
}

// DecodeRoute validates a shareRoute payload. An empty array is valid.
func DecodeRoute(raw json.RawMessage, limits Limits) ([]model.LatLng, error) {
	var points []*point
	if err := unmarshal(raw, &points); err != nil {
		return nil, err
	}
	if points == nil && strings.TrimSpace(string(raw)) == "null" {
		return nil, fmt.Errorf("%w: null route", model.ErrMalformedEvent)
	}
	if limits.MaxRouteSteps > 0 && len(points) > limits.MaxRouteSteps {
		return nil, fmt.Errorf("%w: %w: %d > %d", model.ErrMalformedEvent, model.ErrRouteTooLong, len(points), limits.MaxRouteSteps)
	}
	steps := make([]model.LatLng, 0, len(points))
	for i, p := range points {
		pos, err := p.latLng()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, pos)
	}
	return steps, nil
}
