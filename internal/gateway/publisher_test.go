package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniiar-pro/game-alias/internal/game"
)

type recordingBroadcaster struct {
	channel string
	event   string
	payload any
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, channel, event string, payload any) error {
	b.channel = channel
	b.event = event
	b.payload = payload
	return nil
}

func TestStatePublisherTargetsGameChannel(t *testing.T) {
	t.Parallel()
	rec := &recordingBroadcaster{}
	pub := NewStatePublisher(rec)
	roomID := uuid.New()
	state := &game.PublicState{RoomID: roomID.String()}

	require.NoError(t, pub.PublishState(context.Background(), roomID, state))
	assert.Equal(t, GameChannel(roomID), rec.channel)
	assert.Equal(t, EventState, rec.event)
	assert.Same(t, state, rec.payload)
}

func TestNewEventEnvelope(t *testing.T) {
	t.Parallel()
	ev, err := NewEvent("game:x", EventState, map[string]int{"round": 2})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "game:x", ev.Channel)
	assert.Equal(t, EventState, ev.Name)
	assert.JSONEq(t, `{"round":2}`, string(ev.Data))
}
