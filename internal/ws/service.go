package ws

import (
	"github.com/rs/zerolog"

	"github.com/route-share/backend/internal/hub"
	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/protocol"
)

// Service is the single construction point of the hub and its transport.
type Service struct {
	hub     *hub.Hub
	handler *Handler
	logger  zerolog.Logger
}

// NewService creates the hub and the WebSocket handler serving it.
func NewService(cfg hub.Config, opts Options, recorder journal.Recorder, logger zerolog.Logger) *Service {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = protocol.ReadLimit(cfg.Limits)
	}
	h := hub.New(cfg,
		hub.WithLogger(logger.With().Str("component", "hub").Logger()),
		hub.WithJournal(recorder),
	)
	handler := NewHandler(h, opts, logger.With().Str("component", "ws").Logger())

	return &Service{
		hub:     h,
		handler: handler,
		logger:  logger,
	}
}

// Hub returns the hub.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Close disconnects every client and empties the stores.
func (s *Service) Close() {
	stats := s.hub.Stats()
	s.hub.Close()
	s.logger.Info().Int("connections", stats.Connections).Msg("websocket service closed")
}
