package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/route-share/backend/internal/model"
	"github.com/route-share/backend/internal/protocol"
)

// stepDegrees is roughly 50 meters.
const stepDegrees = 0.0005

// RandomRoute returns a random walk of n steps starting near (lat, lng).
func RandomRoute(seed uint64, lat, lng float64, n int) []model.LatLng {
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	pos := model.LatLng{
		Lat: clamp(lat+(rng.Float64()-0.5)*stepDegrees*20, -90, 90),
		Lng: clamp(lng+(rng.Float64()-0.5)*stepDegrees*20, -180, 180),
	}
	heading := rng.Float64() * 2 * math.Pi

	route := make([]model.LatLng, 0, n)
	for i := 0; i < n; i++ {
		route = append(route, pos)
		heading += (rng.Float64() - 0.5) * math.Pi / 4
		pos = model.LatLng{
			Lat: clamp(pos.Lat+math.Cos(heading)*stepDegrees, -90, 90),
			Lng: clamp(pos.Lng+math.Sin(heading)*stepDegrees, -180, 180),
		}
	}
	return route
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Walker is one simulated client.
type Walker struct {
	Name     string
	URL      string
	Route    []model.LatLng
	Interval time.Duration
	Logger   zerolog.Logger
}

type joinPayload struct {
	DisplayName string       `json:"displayName"`
	Position    model.LatLng `json:"position"`
}

// Run joins the hub, shares the route and walks it. It returns when the
// route is finished, ctx is cancelled or the connection fails.
func (w *Walker) Run(ctx context.Context) error {
	if len(w.Route) == 0 {
		return errors.New("walker has no route")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return fmt.Errorf("%s: dial: %w", w.Name, err)
	}
	defer conn.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		w.readLoop(conn)
	}()

	if err := w.send(conn, protocol.EventJoin, joinPayload{DisplayName: w.Name, Position: w.Route[0]}); err != nil {
		return err
	}
	if err := w.send(conn, protocol.EventShareRoute, w.Route); err != nil {
		return err
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for _, pos := range w.Route[1:] {
		select {
		case <-ctx.Done():
			w.leave(conn)
			return nil
		case <-readDone:
			return fmt.Errorf("%s: connection closed by hub", w.Name)
		case <-ticker.C:
			if err := w.send(conn, protocol.EventUpdateLocation, pos); err != nil {
				return err
			}
		}
	}

	// Clear the route on arrival
	if err := w.send(conn, protocol.EventShareRoute, []model.LatLng{}); err != nil {
		return err
	}
	w.leave(conn)
	w.Logger.Info().Int("steps", len(w.Route)).Msg("arrived")
	return nil
}

func (w *Walker) send(conn *websocket.Conn, eventType protocol.EventType, payload any) error {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return fmt.Errorf("%s: encode %s: %w", w.Name, eventType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%s: write %s: %w", w.Name, eventType, err)
	}
	return nil
}

func (w *Walker) leave(conn *websocket.Conn) {
	_ = w.send(conn, protocol.EventLeave, nil)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop logs what the hub sends until the connection closes.
func (w *Walker) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			w.Logger.Warn().Err(err).Msg("invalid frame")
			continue
		}

		switch msg.Type {
		case protocol.EventUpdateUsers:
			var users []model.User
			if err := json.Unmarshal(msg.Payload, &users); err == nil {
				w.Logger.Debug().Int("users", len(users)).Msg("presence update")
			}
		case protocol.EventUpdateRoutes:
			var routes []model.Route
			if err := json.Unmarshal(msg.Payload, &routes); err == nil {
				w.Logger.Debug().Int("routes", len(routes)).Msg("route update")
			}
		case protocol.EventError:
			w.Logger.Warn().Str("error", msg.Error).Msg("hub rejected event")
		default:
			w.Logger.Debug().Str("type", string(msg.Type)).Msg("frame")
		}
	}
}
