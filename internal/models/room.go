package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomPhase is the lifecycle phase of a room.
type RoomPhase string

const (
	RoomPhaseWaiting  RoomPhase = "waiting"
	RoomPhaseInGame   RoomPhase = "inGame"
	RoomPhaseFinished RoomPhase = "finished"
)

// Team is a named, scored subset of a room's players. While the room is
// waiting the team belongs to the room; once a game starts a copy of it
// (score reset to zero) lives on the game.
type Team struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Score   int         `json:"score"`
	Players []uuid.UUID `json:"players"`
}

// HasPlayer reports whether userID is on the team roster.
func (t Team) HasPlayer(userID uuid.UUID) bool {
	for _, p := range t.Players {
		if p == userID {
			return true
		}
	}
	return false
}

// Room groups players before and during one game.
type Room struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	CreatedBy    uuid.UUID   `json:"created_by"`
	Phase        RoomPhase   `json:"phase"`
	ActiveGameID *uuid.UUID  `json:"active_game_id,omitempty"`
	Members      []uuid.UUID `json:"members"`
	Teams        []Team      `json:"teams"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// HasMember reports whether userID has joined the room.
func (r *Room) HasMember(userID uuid.UUID) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// TeamByID returns the room team with the given id, or nil.
func (r *Room) TeamByID(teamID string) *Team {
	for i := range r.Teams {
		if r.Teams[i].ID == teamID {
			return &r.Teams[i]
		}
	}
	return nil
}
