package gateway

import "github.com/google/uuid"

// Room-channel naming. The chat and game namespaces are prefixed
// distinctly so the two logical channels for one room never collide.
const (
	gameChannelPrefix = "game:"
	chatChannelPrefix = "room:"
)

// GameChannel is the broadcast destination for a room's game events.
func GameChannel(roomID uuid.UUID) string {
	return gameChannelPrefix + roomID.String()
}

// ChatChannel is the broadcast destination for a room's chat events.
func ChatChannel(roomID uuid.UUID) string {
	return chatChannelPrefix + roomID.String()
}

// NATS subject mapping for the shared broadcast bus. Every instance
// publishes channel events here and relays them to its local connections.
const (
	subjectPrefix   = "gateway.rooms."
	SubjectWildcard = subjectPrefix + ">"
)

func subjectFor(channel string) string {
	return subjectPrefix + channel
}
