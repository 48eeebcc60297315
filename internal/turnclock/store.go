package turnclock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daniiar-pro/game-alias/internal/models"
)

// Deadline is the soonest pending expiry across all rooms.
type Deadline struct {
	RoomID    uuid.UUID
	ExpiresAt time.Time
}

// TurnStore persists turn state as data so that it survives the instance
// holding the in-process timer. Expiry claims are atomic: exactly one caller
// across the fleet wins a given expiry.
type TurnStore interface {
	SaveTurn(ctx context.Context, state models.TurnState) error
	GetTurn(ctx context.Context, roomID uuid.UUID) (*models.TurnState, error)
	DeleteTurn(ctx context.Context, roomID uuid.UUID) error

	// NextDeadline returns the soonest pending expiry, or nil when no turn
	// is running anywhere.
	NextDeadline(ctx context.Context) (*Deadline, error)
	// DueRooms lists rooms whose expiry has passed, without claiming them.
	DueRooms(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error)
	// ClaimExpiry atomically consumes a due expiry for the room. It reports
	// false when the expiry was already claimed, moved, or cancelled.
	ClaimExpiry(ctx context.Context, roomID uuid.UUID, now time.Time) (bool, error)
}

// MemoryStore is a TurnStore for tests and single-process deployments.
type MemoryStore struct {
	mu    sync.Mutex
	turns map[uuid.UUID]models.TurnState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[uuid.UUID]models.TurnState)}
}

func (s *MemoryStore) SaveTurn(_ context.Context, state models.TurnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[state.RoomID] = state
	return nil
}

func (s *MemoryStore) GetTurn(_ context.Context, roomID uuid.UUID) (*models.TurnState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.turns[roomID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *MemoryStore) DeleteTurn(_ context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, roomID)
	return nil
}

func (s *MemoryStore) NextDeadline(_ context.Context) (*Deadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *Deadline
	for roomID, state := range s.turns {
		if state.ExpiresAt == nil {
			continue
		}
		if next == nil || state.ExpiresAt.Before(next.ExpiresAt) {
			next = &Deadline{RoomID: roomID, ExpiresAt: *state.ExpiresAt}
		}
	}
	return next, nil
}

func (s *MemoryStore) DueRooms(_ context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []uuid.UUID
	for roomID, state := range s.turns {
		if state.ExpiresAt != nil && !state.ExpiresAt.After(now) {
			due = append(due, roomID)
			if int32(len(due)) >= limit {
				break
			}
		}
	}
	return due, nil
}

func (s *MemoryStore) ClaimExpiry(_ context.Context, roomID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.turns[roomID]
	if !ok || state.ExpiresAt == nil || state.ExpiresAt.After(now) {
		return false, nil
	}
	state.ExpiresAt = nil
	s.turns[roomID] = state
	return true, nil
}
