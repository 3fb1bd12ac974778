package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/protocol"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must be >= 0")
	}

	if c.Hub.MaxConnections < 0 {
		return errors.New("hub.max_connections must be >= 0")
	}
	if c.Hub.MaxRouteSteps < 1 {
		return errors.New("hub.max_route_steps must be >= 1")
	}
	if c.Hub.MaxDisplayName < 1 {
		return errors.New("hub.max_display_name must be >= 1")
	}
	if c.Hub.EventsPerSecond > 0 && c.Hub.EventBurst < 1 {
		return errors.New("hub.event_burst must be >= 1 when rate limiting is enabled")
	}

	if err := c.Transport.validate("transport"); err != nil {
		return err
	}
	if need := protocol.MaxFrameSize(c.hubLimits()); c.Transport.MaxMessageSize < need {
		return fmt.Errorf("transport.max_message_size (%d) is too small for hub.max_route_steps (%d), need >= %d",
			c.Transport.MaxMessageSize, c.Hub.MaxRouteSteps, need)
	}

	switch c.Journal.Driver {
	case journal.DriverNone, journal.DriverMemory:
	case journal.DriverSQLite:
		if c.Journal.Path == "" {
			return errors.New("journal.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("journal.driver must be one of none, memory, sqlite, got %q", c.Journal.Driver)
	}
	if c.Journal.Capacity < 1 {
		return errors.New("journal.capacity must be >= 1")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	return nil
}

func (t *TransportConfig) validate(prefix string) error {
	if t.WriteWait <= 0 {
		return fmt.Errorf("%s.write_wait must be > 0", prefix)
	}
	if t.PongWait <= 0 {
		return fmt.Errorf("%s.pong_wait must be > 0", prefix)
	}
	if t.MaxMessageSize < 1 {
		return fmt.Errorf("%s.max_message_size must be >= 1", prefix)
	}
	if t.SendBuffer < 1 {
		return fmt.Errorf("%s.send_buffer must be >= 1", prefix)
	}
	return nil
}
