package config

import (
	"time"

	"github.com/route-share/backend/internal/hub"
	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/protocol"
	"github.com/route-share/backend/internal/ws"
)

// Config is the root configuration of the server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Hub       HubConfig       `yaml:"hub"`
	Transport TransportConfig `yaml:"transport"`
	Journal   JournalConfig   `yaml:"journal"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	WSPath          string        `yaml:"ws_path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HubConfig holds hub limits.
type HubConfig struct {
	MaxConnections  int     `yaml:"max_connections"`
	MaxRouteSteps   int     `yaml:"max_route_steps"`
	MaxDisplayName  int     `yaml:"max_display_name"`
	EventsPerSecond float64 `yaml:"events_per_second"`
	EventBurst      int     `yaml:"event_burst"`
}

// TransportConfig holds WebSocket timing and buffering.
type TransportConfig struct {
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`
}

// JournalConfig selects the session journal backend.
type JournalConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ToHub returns the hub configuration.
func (c *Config) ToHub() hub.Config {
	cfg := hub.DefaultConfig()
	cfg.Limits = c.hubLimits()
	cfg.MaxConnections = c.Hub.MaxConnections
	cfg.EventsPerSecond = c.Hub.EventsPerSecond
	cfg.EventBurst = c.Hub.EventBurst
	return cfg
}

func (c *Config) hubLimits() protocol.Limits {
	return protocol.Limits{
		MaxDisplayNameLength: c.Hub.MaxDisplayName,
		MaxRouteSteps:        c.Hub.MaxRouteSteps,
	}
}

// ToTransport returns the WebSocket transport options.
func (c *Config) ToTransport() ws.Options {
	return ws.Options{
		WriteWait:      c.Transport.WriteWait,
		PongWait:       c.Transport.PongWait,
		MaxMessageSize: c.Transport.MaxMessageSize,
		SendBufferSize: c.Transport.SendBuffer,
		CheckOrigin:    ws.OriginChecker(c.Server.AllowedOrigins),
	}
}

// ToJournal returns the journal options.
func (c *Config) ToJournal() journal.Options {
	return journal.Options{
		Driver:   c.Journal.Driver,
		Path:     c.Journal.Path,
		Capacity: c.Journal.Capacity,
	}
}
