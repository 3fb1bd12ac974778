package ws

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/route-share/backend/internal/hub"
	"github.com/route-share/backend/internal/model"
	"github.com/route-share/backend/internal/protocol"
)

const (
	// DefaultWriteWait is the time allowed to write a message to the peer.
	DefaultWriteWait = 10 * time.Second

	// DefaultPongWait is the time allowed to read the next pong message from the peer.
	DefaultPongWait = 60 * time.Second


	// DefaultSendBufferSize is the number of frames queued per client before it
	// is considered too slow and disconnected.
	DefaultSendBufferSize = 256
)

// Options configures the transport.
type Options struct {
	WriteWait time.Duration
	PongWait  time.Duration

	// MaxMessageSize is the read limit per frame. Larger frames close the
	// socket with 1009 (message too big).
	MaxMessageSize int64
	SendBufferSize int

	// CheckOrigin decides whether an upgrade request is accepted.
	// Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = protocol.ReadLimit(protocol.DefaultLimits())
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = DefaultSendBufferSize
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return o
}

// OriginChecker accepts upgrade requests whose Origin header is in allowed.
// An empty list or a "*" entry accepts every origin, as do requests without
// an Origin header.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return nil
		}
		set[strings.TrimSuffix(origin, "/")] = true
	}
	if len(set) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// pingPeriod must be less than pongWait.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Handler handles WebSocket connections to the hub.
type Handler struct {
	hub      *hub.Hub
	opts     Options
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler for h.
func NewHandler(h *hub.Hub, opts Options, logger zerolog.Logger) *Handler {
	opts = opts.withDefaults()
	return &Handler{
		hub:  h,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		logger: logger,
	}
}

// HandleConnection upgrades the request, registers the connection with the hub
// and starts the read and write pumps.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	if h.hub.AtCapacity() {
		http.Error(w, "Hub is not accepting connections", http.StatusServiceUnavailable)
		return model.ErrCapacity
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, h.opts.SendBufferSize)
	if err := h.hub.Connect(client); err != nil {
		h.reject(conn, err)
		return err
	}

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// reject closes a socket the hub refused to register.
func (h *Handler) reject(conn *websocket.Conn, cause error) {
	code := websocket.CloseInternalServerErr
	if errors.Is(cause, model.ErrCapacity) || errors.Is(cause, model.ErrHubClosed) {
		code = websocket.CloseTryAgainLater
	}
	h.logger.Warn().Err(cause).Msg("connection rejected")

	deadline := time.Now().Add(h.opts.WriteWait)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, cause.Error()), deadline)
	conn.Close()
}

// readPump pumps frames from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Disconnect(client.ID(), hub.ReasonTransportClosed)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(h.opts.MaxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(h.opts.PongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(h.opts.PongWait))
		return nil
	})

	for {
		_, data, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("connection_id", client.ID()).Msg("websocket read error")
			}
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			h.logger.Debug().Err(err).Str("connection_id", client.ID()).Msg("failed to parse frame")
			client.Send(protocol.EncodeError("", err))
			continue
		}

		if err := h.hub.HandleEvent(client.ID(), msg); errors.Is(err, model.ErrUnknownConnection) {
			return
		}
	}
}

// writePump pumps frames from the client's queue to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(h.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each snapshot goes out in its own frame so the client can
			// JSON-decode frames independently
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
