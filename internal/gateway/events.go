package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carried on the broadcast bus and delivered to
// WebSocket clients.
type Event struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Name      string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Client-visible event names.
const (
	EventState   = "state"
	EventMessage = "message"
	EventHistory = "history"
	EventJoined  = "joined"
	EventLeft    = "left"
	EventReady   = "ready"
	EventError   = "error"
)

// ErrorPayload is the body of an "error" event: a stable kind plus a
// human-readable message.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewEvent builds an envelope for the given channel and event name.
func NewEvent(channel, name string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return &Event{
		ID:        uuid.NewString(),
		Channel:   channel,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
