package gateway

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestChannelNamesNeverCollide(t *testing.T) {
	t.Parallel()
	roomID := uuid.New()

	game := GameChannel(roomID)
	chat := ChatChannel(roomID)

	assert.NotEqual(t, game, chat)
	assert.Contains(t, game, roomID.String())
	assert.Contains(t, chat, roomID.String())
}

func TestSubjectMapping(t *testing.T) {
	t.Parallel()
	roomID := uuid.New()

	subject := subjectFor(GameChannel(roomID))
	assert.Equal(t, "gateway.rooms.game:"+roomID.String(), subject)

	// The consumer's wildcard must cover every room channel.
	assert.Equal(t, "gateway.rooms.>", SubjectWildcard)
}
