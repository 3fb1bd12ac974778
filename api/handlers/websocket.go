package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/route-share/backend/internal/model"
	"github.com/route-share/backend/internal/ws"
)

// WebSocketHandler upgrades requests to hub connections.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Attach handles GET /ws - upgrades the request and registers the connection.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The response is already written, either by the upgrader or as a 503
		if !errors.Is(err, model.ErrCapacity) {
			_ = c.Error(err)
		}
		return
	}
}

// RegisterRoutes registers the WebSocket route at path on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup, path string) {
	rg.GET(path, h.Attach)
}
