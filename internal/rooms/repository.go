package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daniiar-pro/game-alias/internal/apperrors"
	"github.com/daniiar-pro/game-alias/internal/models"
)

// PostgresRepository stores rooms, their members and their waiting-phase
// team rosters. Roster mutations carry a waiting-phase guard in the query so
// they cannot apply after the orchestrator has flipped the room to inGame.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateRoom(ctx context.Context, room *models.Room) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO rooms (id, name, created_by, phase) VALUES ($1, $2, $3, $4)`,
		room.ID, room.Name, room.CreatedBy, room.Phase,
	); err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}
	for _, member := range room.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`,
			room.ID, member,
		); err != nil {
			return fmt.Errorf("failed to insert room member: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{Members: []uuid.UUID{}, Teams: []models.Team{}}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_by, phase, active_game_id, created_at, updated_at
		 FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.Name, &room.CreatedBy, &room.Phase, &room.ActiveGameID,
		&room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("room not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY joined_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}
	room.Members, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan room members: %w", err)
	}

	teamRows, err := r.pool.Query(ctx,
		`SELECT team_id, name FROM room_teams WHERE room_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get room teams: %w", err)
	}
	defer teamRows.Close()
	for teamRows.Next() {
		team := models.Team{Players: []uuid.UUID{}}
		if err := teamRows.Scan(&team.ID, &team.Name); err != nil {
			return nil, fmt.Errorf("failed to scan room team: %w", err)
		}
		room.Teams = append(room.Teams, team)
	}
	if err := teamRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate room teams: %w", err)
	}

	playerRows, err := r.pool.Query(ctx,
		`SELECT team_id, user_id FROM room_team_players WHERE room_id = $1 ORDER BY assigned_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get team players: %w", err)
	}
	defer playerRows.Close()
	for playerRows.Next() {
		var teamID string
		var userID uuid.UUID
		if err := playerRows.Scan(&teamID, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan team player: %w", err)
		}
		if team := room.TeamByID(teamID); team != nil {
			team.Players = append(team.Players, userID)
		}
	}
	if err := playerRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate team players: %w", err)
	}

	return room, nil
}

func (r *PostgresRepository) SearchRooms(ctx context.Context, req SearchRoomsRequest) (*SearchRoomsResult, error) {
	pattern := "%" + req.Query + "%"
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.name, r.phase,
		        (SELECT count(*) FROM room_members m WHERE m.room_id = r.id)
		 FROM rooms r
		 WHERE ($1 = '%%' OR r.name ILIKE $1)
		 ORDER BY r.created_at DESC
		 LIMIT $2 OFFSET $3`,
		pattern, req.Limit, req.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search rooms: %w", err)
	}
	defer rows.Close()

	result := &SearchRoomsResult{Items: []RoomSummary{}, Limit: req.Limit, Offset: req.Offset}
	for rows.Next() {
		var item RoomSummary
		if err := rows.Scan(&item.ID, &item.Name, &item.Phase, &item.MemberCount); err != nil {
			return nil, fmt.Errorf("failed to scan room summary: %w", err)
		}
		result.Items = append(result.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rooms: %w", err)
	}

	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM rooms WHERE ($1 = '%%' OR name ILIKE $1)`, pattern,
	).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("failed to count rooms: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("room not found")
	}
	return nil
}

func (r *PostgresRepository) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id)
		 SELECT r.id, $2 FROM rooms r WHERE r.id = $1 AND r.phase = 'waiting'
		 ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM room_team_players p USING rooms r
		 WHERE p.room_id = r.id AND r.id = $1 AND r.phase = 'waiting' AND p.user_id = $2`,
		roomID, userID); err != nil {
		return fmt.Errorf("failed to remove member from teams: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM room_members m USING rooms r
		 WHERE m.room_id = r.id AND r.id = $1 AND r.phase = 'waiting' AND m.user_id = $2`,
		roomID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) AddTeam(ctx context.Context, roomID uuid.UUID, team models.Team) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_teams (room_id, team_id, name)
		 SELECT r.id, $2, $3 FROM rooms r WHERE r.id = $1 AND r.phase = 'waiting'`,
		roomID, team.ID, team.Name)
	if err != nil {
		return fmt.Errorf("failed to add team: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveTeam(ctx context.Context, roomID uuid.UUID, teamID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM room_team_players WHERE room_id = $1 AND team_id = $2`,
		roomID, teamID); err != nil {
		return false, fmt.Errorf("failed to clear team roster: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM room_teams t USING rooms r
		 WHERE t.room_id = r.id AND r.id = $1 AND r.phase = 'waiting' AND t.team_id = $2`,
		roomID, teamID)
	if err != nil {
		return false, fmt.Errorf("failed to remove team: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) AssignPlayer(ctx context.Context, roomID uuid.UUID, teamID string, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// A player belongs to at most one team per room.
	if _, err := tx.Exec(ctx,
		`DELETE FROM room_team_players WHERE room_id = $1 AND user_id = $2`,
		roomID, userID); err != nil {
		return fmt.Errorf("failed to unassign player: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO room_team_players (room_id, team_id, user_id)
		 SELECT r.id, $2, $3 FROM rooms r WHERE r.id = $1 AND r.phase = 'waiting'`,
		roomID, teamID, userID); err != nil {
		return fmt.Errorf("failed to assign player: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) RemovePlayer(ctx context.Context, roomID uuid.UUID, teamID string, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM room_team_players p USING rooms r
		 WHERE p.room_id = r.id AND r.id = $1 AND r.phase = 'waiting'
		   AND p.team_id = $2 AND p.user_id = $3`,
		roomID, teamID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove player: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) SetPhaseInGame(ctx context.Context, roomID, gameID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rooms SET phase = 'inGame', active_game_id = $2, updated_at = now()
		 WHERE id = $1`,
		roomID, gameID)
	if err != nil {
		return fmt.Errorf("failed to set room in game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("room not found")
	}
	return nil
}

func (r *PostgresRepository) SetPhaseFinished(ctx context.Context, roomID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rooms SET phase = 'finished', active_game_id = NULL, updated_at = now()
		 WHERE id = $1`,
		roomID)
	if err != nil {
		return fmt.Errorf("failed to set room finished: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("room not found")
	}
	return nil
}
