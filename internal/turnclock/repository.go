package turnclock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daniiar-pro/game-alias/internal/models"
)

// PostgresStore keeps turn state in the room_turns table. The expiry claim
// is a conditional UPDATE, so concurrent instances racing for the same
// timeout resolve to exactly one winner.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveTurn(ctx context.Context, state models.TurnState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_turns (room_id, team_index, duration_secs, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (room_id) DO UPDATE
		 SET team_index = EXCLUDED.team_index,
		     duration_secs = EXCLUDED.duration_secs,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = now()`,
		state.RoomID, state.TeamIndex, int(state.Duration/time.Second), state.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTurn(ctx context.Context, roomID uuid.UUID) (*models.TurnState, error) {
	var (
		state        models.TurnState
		durationSecs int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT room_id, team_index, duration_secs, expires_at
		 FROM room_turns WHERE room_id = $1`, roomID,
	).Scan(&state.RoomID, &state.TeamIndex, &durationSecs, &state.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	state.Duration = time.Duration(durationSecs) * time.Second
	return &state, nil
}

func (s *PostgresStore) DeleteTurn(ctx context.Context, roomID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM room_turns WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to delete turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextDeadline(ctx context.Context) (*Deadline, error) {
	var d Deadline
	err := s.pool.QueryRow(ctx,
		`SELECT room_id, expires_at FROM room_turns
		 WHERE expires_at IS NOT NULL
		 ORDER BY expires_at ASC LIMIT 1`,
	).Scan(&d.RoomID, &d.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next deadline: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) DueRooms(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT room_id FROM room_turns
		 WHERE expires_at IS NOT NULL AND expires_at <= $1
		 ORDER BY expires_at ASC LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due rooms: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan due rooms: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ClaimExpiry(ctx context.Context, roomID uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE room_turns SET expires_at = NULL, updated_at = now()
		 WHERE room_id = $1 AND expires_at IS NOT NULL AND expires_at <= $2`,
		roomID, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim expiry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
