package config

import (
	"time"

	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/protocol"
)

// Default values for optional configuration fields.
const (
	DefaultAddr            = ":8080"
	DefaultWSPath          = "/ws"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxRouteSteps   = 1000
	DefaultMaxDisplayName  = 64
	DefaultEventsPerSecond = 20
	DefaultEventBurst      = 40
	DefaultWriteWait       = 10 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultSendBuffer      = 256
	DefaultJournalDriver   = journal.DriverMemory
	DefaultJournalPath     = "route-share.db"
	DefaultJournalCapacity = journal.DefaultMemoryCapacity
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Hub defaults. A negative events_per_second disables rate limiting,
	// so only zero is replaced.
	if c.Hub.MaxRouteSteps == 0 {
		c.Hub.MaxRouteSteps = DefaultMaxRouteSteps
	}
	if c.Hub.MaxDisplayName == 0 {
		c.Hub.MaxDisplayName = DefaultMaxDisplayName
	}
	if c.Hub.EventsPerSecond == 0 {
		c.Hub.EventsPerSecond = DefaultEventsPerSecond
	}
	if c.Hub.EventBurst == 0 {
		c.Hub.EventBurst = DefaultEventBurst
	}

	// Transport defaults
	if c.Transport.WriteWait == 0 {
		c.Transport.WriteWait = DefaultWriteWait
	}
	if c.Transport.PongWait == 0 {
		c.Transport.PongWait = DefaultPongWait
	}
	// The read limit follows the route limit unless set explicitly
	if c.Transport.MaxMessageSize == 0 {
		c.Transport.MaxMessageSize = protocol.ReadLimit(c.hubLimits())
	}
	if c.Transport.SendBuffer == 0 {
		c.Transport.SendBuffer = DefaultSendBuffer
	}

	// Journal defaults
	if c.Journal.Driver == "" {
		c.Journal.Driver = DefaultJournalDriver
	}
	if c.Journal.Path == "" && c.Journal.Driver == journal.DriverSQLite {
		c.Journal.Path = DefaultJournalPath
	}
	if c.Journal.Capacity == 0 {
		c.Journal.Capacity = DefaultJournalCapacity
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
