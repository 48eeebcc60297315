package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/daniiar-pro/game-alias/internal/game"
)

// Broadcaster accepts (channel, event, payload) triples and fans them out
// to every subscriber of the channel, on every instance. Implementations
// must behave identically whether the deployment is one process or a fleet
// sharing the bus.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, payload any) error
}

// NATSBroadcaster publishes channel events to the shared bus. Each
// instance's consumer relays bus events to its local connections, so a
// publish here reaches subscribers everywhere.
type NATSBroadcaster struct {
	nc *nats.Conn
}

func NewNATSBroadcaster(nc *nats.Conn) *NATSBroadcaster {
	return &NATSBroadcaster{nc: nc}
}

func (b *NATSBroadcaster) Broadcast(_ context.Context, channel, event string, payload any) error {
	ev, err := NewEvent(channel, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	if err := b.nc.Publish(subjectFor(channel), data); err != nil {
		return fmt.Errorf("failed to publish to bus: %w", err)
	}
	return nil
}

// LocalBroadcaster fans out directly through the connection manager, for
// single-process deployments without a bus.
type LocalBroadcaster struct {
	cm *ConnectionManager
}

func NewLocalBroadcaster(cm *ConnectionManager) *LocalBroadcaster {
	return &LocalBroadcaster{cm: cm}
}

func (b *LocalBroadcaster) Broadcast(_ context.Context, channel, event string, payload any) error {
	ev, err := NewEvent(channel, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	b.cm.Broadcast(channel, data)
	return nil
}

// StatePublisher adapts a Broadcaster to the orchestrator's state sink:
// public projections go out as "state" events on the room's game channel.
type StatePublisher struct {
	broadcaster Broadcaster
}

func NewStatePublisher(b Broadcaster) *StatePublisher {
	return &StatePublisher{broadcaster: b}
}

func (p *StatePublisher) PublishState(ctx context.Context, roomID uuid.UUID, state *game.PublicState) error {
	return p.broadcaster.Broadcast(ctx, GameChannel(roomID), EventState, state)
}
