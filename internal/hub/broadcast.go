package hub

import (
	"github.com/rs/zerolog"

	"github.com/route-share/backend/internal/presence"
	"github.com/route-share/backend/internal/protocol"
	"github.com/route-share/backend/internal/route"
)

// Broadcaster projects store snapshots and fans them out to every registered
// connection, the one that caused the change included.
type Broadcaster struct {
	registry *Registry
	presence *presence.Store
	routes   *route.Store
	logger   zerolog.Logger
}

// NewBroadcaster creates a Broadcaster over the given registry and stores.
func NewBroadcaster(registry *Registry, presenceStore *presence.Store, routeStore *route.Store, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		presence: presenceStore,
		routes:   routeStore,
		logger:   logger,
	}
}

// BroadcastPresence sends the current presence snapshot to every connection.
// It returns the ids of connections the snapshot could not be delivered to.
func (b *Broadcaster) BroadcastPresence() []string {
	data, err := protocol.EncodeUsers(b.presence.Snapshot())
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to encode presence snapshot")
		return nil
	}
	return b.fanout(data)
}

// BroadcastRoutes sends the current route snapshot to every connection.
// It returns the ids of connections the snapshot could not be delivered to.
func (b *Broadcaster) BroadcastRoutes() []string {
	data, err := protocol.EncodeRoutes(b.routes.Snapshot())
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to encode route snapshot")
		return nil
	}
	return b.fanout(data)
}

// fanout never stops on a failed delivery.
func (b *Broadcaster) fanout(data []byte) []string {
	var failed []string
	for _, conn := range b.registry.All() {
		if !conn.Send(data) {
			failed = append(failed, conn.ID())
		}
	}
	if len(failed) > 0 {
		b.logger.Debug().Strs("connection_ids", failed).Msg("broadcast delivery failed")
	}
	return failed
}
