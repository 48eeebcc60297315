package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// ConsumerConfig holds the bus subscription settings.
type ConsumerConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns the default bus configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect establishes the shared NATS connection with reconnect handling.
func Connect(cfg ConsumerConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// EventConsumer relays bus events to this instance's local connections.
// Every instance runs one, which is what makes a publish on any instance
// reach subscribers on all of them.
type EventConsumer struct {
	cm *ConnectionManager
	nc *nats.Conn
}

func NewEventConsumer(cm *ConnectionManager, nc *nats.Conn) *EventConsumer {
	return &EventConsumer{cm: cm, nc: nc}
}

// Run subscribes to the gateway subject space and pumps events into the
// connection manager until ctx is cancelled.
func (ec *EventConsumer) Run(ctx context.Context) error {
	msgCh := make(chan *nats.Msg, 256)
	sub, err := ec.nc.ChanSubscribe(SubjectWildcard, msgCh)
	if err != nil {
		return fmt.Errorf("subscribe to bus: %w", err)
	}
	defer sub.Unsubscribe()

	log.Info().Str("subject", SubjectWildcard).Msg("gateway event consumer started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway event consumer shutting down")
			return nil
		case msg := <-msgCh:
			ec.handle(msg)
		}
	}
}

func (ec *EventConsumer) handle(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode bus event")
		return
	}
	ec.cm.Broadcast(ev.Channel, msg.Data)

	log.Debug().
		Str("channel", ev.Channel).
		Str("event", ev.Name).
		Msg("bus event relayed")
}
