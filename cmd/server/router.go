package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/route-share/backend/api/handlers"
	"github.com/route-share/backend/internal/config"
	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/logger"
	"github.com/route-share/backend/internal/ws"
)

// newRouter wires the HTTP surface: health, the read-only API and the
// WebSocket endpoint, which is also reachable under /api.
func newRouter(cfg *config.Config, wsService *ws.Service, recorder journal.Recorder, log zerolog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log.With().Str("component", "http").Logger()))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	stateHandler := handlers.NewStateHandler(wsService.Hub(), recorder, log.With().Str("component", "api").Logger())
	wsHandler := handlers.NewWebSocketHandler(wsService.Handler())

	wsHandler.RegisterRoutes(&r.RouterGroup, cfg.Server.WSPath)

	// API routes
	api := r.Group("/api")
	{
		stateHandler.RegisterRoutes(api)
		if cfg.Server.WSPath != "/api/ws" {
			wsHandler.RegisterRoutes(api, "/ws")
		}
	}

	return withCORS(cfg.Server.AllowedOrigins)(r)
}

// withCORS lets browser clients served from the allowed origins call the API.
func withCORS(origins []string) func(next http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	})
}
