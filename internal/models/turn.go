package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnState describes which team is on the clock for a room. The expiry is
// plain data so any instance can reason about it; the in-process timer
// handle never leaves the turn clock. A nil ExpiresAt means the turn is
// paused: the index and duration are kept so a later start can reuse them.
type TurnState struct {
	RoomID    uuid.UUID
	TeamIndex int
	Duration  time.Duration
	ExpiresAt *time.Time
}

// SecondsLeft returns the whole seconds remaining until expiry, never
// negative. A paused turn reports zero.
func (s TurnState) SecondsLeft(now time.Time) int {
	if s.ExpiresAt == nil {
		return 0
	}
	secs := int(s.ExpiresAt.Sub(now) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
