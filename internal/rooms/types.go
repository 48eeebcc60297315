package rooms

import "github.com/google/uuid"

// CreateRoomRequest carries the input for creating a room.
type CreateRoomRequest struct {
	Name      string
	CreatorID uuid.UUID
}

// SearchRoomsRequest filters and pages the room listing.
type SearchRoomsRequest struct {
	Query  string
	Limit  int
	Offset int
}

// SearchRoomsResult is one page of rooms plus the unfiltered total.
type SearchRoomsResult struct {
	Items  []RoomSummary
	Total  int
	Limit  int
	Offset int
}

// RoomSummary is the listing shape: no rosters, just the headline fields.
type RoomSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Phase       string    `json:"phase"`
	MemberCount int       `json:"member_count"`
}

// CreateTeamRequest carries the input for adding a team to a waiting room.
// TeamID is optional; a short id is generated when empty.
type CreateTeamRequest struct {
	RoomID uuid.UUID
	TeamID string
	Name   string
}
