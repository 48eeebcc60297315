package game

import "github.com/google/uuid"

// StartGameRequest carries the input for starting a game in a room.
// MaxRounds and TurnSeconds fall back to the configured defaults when zero.
type StartGameRequest struct {
	RoomID      uuid.UUID
	RequesterID uuid.UUID
	MaxRounds   int
	TurnSeconds int
}

// PublicState is the read-only snapshot of room/game/turn state sent to
// clients. Field names are part of the wire contract.
type PublicState struct {
	RoomID       string      `json:"roomId"`
	GameID       string      `json:"gameId"`
	CurrentRound int         `json:"currentRound"`
	MaxRounds    int         `json:"maxRounds"`
	Finished     bool        `json:"isFinished"`
	Teams        []TeamState `json:"teams"`
	Turn         *TurnInfo   `json:"turn"`
}

// TeamState is a team as shown to clients.
type TeamState struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Score   int      `json:"score"`
	Players []string `json:"players"`
}

// TurnInfo describes the team currently on the clock. Nil in PublicState
// when no clock is running for the room.
type TurnInfo struct {
	TeamIndex   int    `json:"teamIndex"`
	TeamID      string `json:"teamId"`
	SecondsLeft int    `json:"secondsLeft"`
}
