// Package model defines the domain types shared by the hub, its stores and the
// HTTP API.
package model

import (
	"fmt"
	"math"
	"time"
)

// LatLng is a WGS84 coordinate pair as sent by the map client.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports whether the coordinate is finite and within range.
func (p LatLng) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: lat %v out of range", ErrMalformedEvent, p.Lat)
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: lng %v out of range", ErrMalformedEvent, p.Lng)
	}
	return nil
}

// Identity is the server-assigned identity bound to a connection after join.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

// PositionRecord is the last known position of a joined connection.
type PositionRecord struct {
	ConnectionID string
	Position     LatLng
	UpdatedAt    time.Time
}

// SharedRoute is the itinerary most recently shared by a connection.
type SharedRoute struct {
	ConnectionID string
	OwnerID      string
	Steps        []LatLng
	SharedAt     time.Time
}

// User is one entry of a presence snapshot.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Position    LatLng `json:"position"`
	Color       string `json:"color"`
}

// Route is one entry of a route snapshot.
type Route struct {
	OwnerID string   `json:"ownerId"`
	Steps   []LatLng `json:"steps"`
}

// InitialData is sent to a connection right after it connects.
type InitialData struct {
	UserCount    int     `json:"userCount"`
	Users        []User  `json:"users"`
	ActiveRoutes []Route `json:"activeRoutes"`
}

// Stats summarises the hub state for the HTTP API.
type Stats struct {
	Connections int `json:"connections"`
	Joined      int `json:"joined"`
	Routes      int `json:"routes"`
}
