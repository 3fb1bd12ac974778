package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/route-share/backend/internal/hub"
	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/model"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// StateHandler serves read-only views of the hub state.
type StateHandler struct {
	hub     *hub.Hub
	journal journal.Recorder
	logger  zerolog.Logger
}

// NewStateHandler creates a new StateHandler.
func NewStateHandler(h *hub.Hub, recorder journal.Recorder, logger zerolog.Logger) *StateHandler {
	return &StateHandler{
		hub:     h,
		journal: recorder,
		logger:  logger,
	}
}

// Users handles GET /api/users - returns the presence snapshot.
func (h *StateHandler) Users(c *gin.Context) {
	users := h.hub.PresenceSnapshot()
	if users == nil {
		users = []model.User{}
	}
	c.JSON(http.StatusOK, users)
}

// Routes handles GET /api/routes - returns the route snapshot.
func (h *StateHandler) Routes(c *gin.Context) {
	routes := h.hub.RouteSnapshot()
	if routes == nil {
		routes = []model.Route{}
	}
	c.JSON(http.StatusOK, routes)
}

// Initial handles GET /api/initial - returns the same state a new WebSocket
// client receives as initialData.
func (h *StateHandler) Initial(c *gin.Context) {
	data := h.hub.InitialData()
	if data.Users == nil {
		data.Users = []model.User{}
	}
	if data.ActiveRoutes == nil {
		data.ActiveRoutes = []model.Route{}
	}
	c.JSON(http.StatusOK, data)
}

// Stats handles GET /api/stats.
func (h *StateHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

// Journal handles GET /api/journal?limit=N - returns the most recent journal
// entries, newest first.
func (h *StateHandler) Journal(c *gin.Context) {
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := h.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read journal")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read journal: "+err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// RegisterRoutes registers the state handler routes on a Gin router group.
func (h *StateHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users", h.Users)
	rg.GET("/routes", h.Routes)
	rg.GET("/initial", h.Initial)
	rg.GET("/stats", h.Stats)
	rg.GET("/journal", h.Journal)
}
