package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daniiar-pro/game-alias/internal/models"
)

// PostgresRepository stores the Game aggregate across games, game_teams and
// game_team_players. Team scores live in their own rows so score updates
// are single atomic UPDATEs.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateGame(ctx context.Context, g *models.Game) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO games (id, room_id, current_round, max_rounds, finished)
		 VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.RoomID, g.CurrentRound, g.MaxRounds, g.Finished,
	); err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}

	for pos, team := range g.Teams {
		if _, err := tx.Exec(ctx,
			`INSERT INTO game_teams (game_id, team_id, name, score, position)
			 VALUES ($1, $2, $3, $4, $5)`,
			g.ID, team.ID, team.Name, team.Score, pos,
		); err != nil {
			return fmt.Errorf("failed to insert game team: %w", err)
		}
		for _, player := range team.Players {
			if _, err := tx.Exec(ctx,
				`INSERT INTO game_team_players (game_id, team_id, user_id)
				 VALUES ($1, $2, $3)`,
				g.ID, team.ID, player,
			); err != nil {
				return fmt.Errorf("failed to insert game team player: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	g := &models.Game{Teams: []models.Team{}}
	err := r.pool.QueryRow(ctx,
		`SELECT id, room_id, current_round, max_rounds, finished, created_at, updated_at
		 FROM games WHERE id = $1`, id,
	).Scan(&g.ID, &g.RoomID, &g.CurrentRound, &g.MaxRounds, &g.Finished,
		&g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}

	teamRows, err := r.pool.Query(ctx,
		`SELECT team_id, name, score FROM game_teams
		 WHERE game_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get game teams: %w", err)
	}
	defer teamRows.Close()
	for teamRows.Next() {
		team := models.Team{Players: []uuid.UUID{}}
		if err := teamRows.Scan(&team.ID, &team.Name, &team.Score); err != nil {
			return nil, fmt.Errorf("failed to scan game team: %w", err)
		}
		g.Teams = append(g.Teams, team)
	}
	if err := teamRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate game teams: %w", err)
	}

	playerRows, err := r.pool.Query(ctx,
		`SELECT team_id, user_id FROM game_team_players WHERE game_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get game players: %w", err)
	}
	defer playerRows.Close()
	for playerRows.Next() {
		var teamID string
		var userID uuid.UUID
		if err := playerRows.Scan(&teamID, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan game player: %w", err)
		}
		if team := g.TeamByID(teamID); team != nil {
			team.Players = append(team.Players, userID)
		}
	}
	if err := playerRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate game players: %w", err)
	}

	return g, nil
}

// IncrementTeamScore applies the delta in a single UPDATE so concurrent
// updates serialize at the row and no increment is lost. Scores are left
// unclamped; a negative total is a legal game state.
func (r *PostgresRepository) IncrementTeamScore(ctx context.Context, gameID uuid.UUID, teamID string, delta int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE game_teams gt SET score = gt.score + $3
		 FROM games g
		 WHERE gt.game_id = g.id AND g.id = $1 AND gt.team_id = $2 AND NOT g.finished`,
		gameID, teamID, delta)
	if err != nil {
		return false, fmt.Errorf("failed to increment score: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) AdvanceRound(ctx context.Context, gameID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE games SET current_round = current_round + 1, updated_at = now()
		 WHERE id = $1 AND NOT finished AND current_round < max_rounds`,
		gameID)
	if err != nil {
		return fmt.Errorf("failed to advance round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("game %s cannot advance past its final round", gameID)
	}
	return nil
}

func (r *PostgresRepository) MarkFinished(ctx context.Context, gameID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE games SET finished = TRUE, updated_at = now() WHERE id = $1`,
		gameID); err != nil {
		return fmt.Errorf("failed to mark game finished: %w", err)
	}
	return nil
}
