package models

import (
	"time"

	"github.com/google/uuid"
)

// Game is one played match belonging to exactly one room. Teams are a
// snapshot taken at start time with scores reset to zero; the room's
// waiting-phase rosters stay untouched.
type Game struct {
	ID           uuid.UUID `json:"id"`
	RoomID       uuid.UUID `json:"room_id"`
	Teams        []Team    `json:"teams"`
	CurrentRound int       `json:"current_round"`
	MaxRounds    int       `json:"max_rounds"`
	Finished     bool      `json:"finished"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TeamByID returns the game team with the given id, or nil.
func (g *Game) TeamByID(teamID string) *Team {
	for i := range g.Teams {
		if g.Teams[i].ID == teamID {
			return &g.Teams[i]
		}
	}
	return nil
}
