package rooms

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/daniiar-pro/game-alias/internal/apperrors"
	"github.com/daniiar-pro/game-alias/internal/models"
)

// Repository defines what the rooms app layer needs from storage. Membership
// and roster mutations are guarded in SQL so they only apply to a waiting
// room even when requests race the orchestrator's phase transitions.
type Repository interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	SearchRooms(ctx context.Context, req SearchRoomsRequest) (*SearchRoomsResult, error)
	DeleteRoom(ctx context.Context, id uuid.UUID) error
	AddMember(ctx context.Context, roomID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error
	AddTeam(ctx context.Context, roomID uuid.UUID, team models.Team) error
	RemoveTeam(ctx context.Context, roomID uuid.UUID, teamID string) (bool, error)
	AssignPlayer(ctx context.Context, roomID uuid.UUID, teamID string, userID uuid.UUID) error
	RemovePlayer(ctx context.Context, roomID uuid.UUID, teamID string, userID uuid.UUID) (bool, error)
	SetPhaseInGame(ctx context.Context, roomID, gameID uuid.UUID) error
	SetPhaseFinished(ctx context.Context, roomID uuid.UUID) error
}

// App owns the Room/Team records and their phase rules. Everything that
// edits membership or rosters requires the waiting phase; the two phase
// transitions (MarkInGame, MarkFinished) are called only by the game
// orchestrator.
type App struct {
	repo Repository
}

func NewApp(repo Repository) *App {
	return &App{repo: repo}
}

func (a *App) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("room name is required")
	}

	room := &models.Room{
		ID:        uuid.New(),
		Name:      name,
		CreatedBy: req.CreatorID,
		Phase:     models.RoomPhaseWaiting,
		Members:   []uuid.UUID{req.CreatorID},
		Teams:     []models.Team{},
	}
	if err := a.repo.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	log.Info().
		Str("room_id", room.ID.String()).
		Str("creator_id", req.CreatorID.String()).
		Msg("room created")
	return room, nil
}

func (a *App) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return a.repo.GetRoom(ctx, id)
}

func (a *App) SearchRooms(ctx context.Context, req SearchRoomsRequest) (*SearchRoomsResult, error) {
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return a.repo.SearchRooms(ctx, req)
}

// DeleteRoom removes a room. Only the creator (or an administrator) may
// delete, and only while the room is still waiting so no game history is
// lost.
func (a *App) DeleteRoom(ctx context.Context, id, requesterID uuid.UUID, isAdmin bool) error {
	room, err := a.repo.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if !isAdmin && room.CreatedBy != requesterID {
		return apperrors.Forbidden("only the creator or an admin can delete the room")
	}
	if room.Phase != models.RoomPhaseWaiting {
		return apperrors.InvalidPhase("room can only be deleted while waiting")
	}
	if err := a.repo.DeleteRoom(ctx, id); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	log.Info().Str("room_id", id.String()).Msg("room deleted")
	return nil
}

// JoinRoom adds a member to a waiting room. Joining twice is a no-op.
func (a *App) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.Room, error) {
	room, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := assertWaiting(room); err != nil {
		return nil, err
	}
	if err := a.repo.AddMember(ctx, roomID, userID); err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
	return a.repo.GetRoom(ctx, roomID)
}

// LeaveRoom removes a member from a waiting room and from every team roster.
func (a *App) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.Room, error) {
	room, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := assertWaiting(room); err != nil {
		return nil, err
	}
	if err := a.repo.RemoveMember(ctx, roomID, userID); err != nil {
		return nil, fmt.Errorf("failed to leave room: %w", err)
	}
	return a.repo.GetRoom(ctx, roomID)
}

// CreateTeam adds a team with a unique short id to a waiting room.
func (a *App) CreateTeam(ctx context.Context, req CreateTeamRequest) (*models.Room, error) {
	room, err := a.repo.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if err := assertWaiting(room); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("team name is required")
	}

	teamID := strings.TrimSpace(req.TeamID)
	if teamID == "" {
		teamID = newTeamID()
	}
	if room.TeamByID(teamID) != nil {
		return nil, apperrors.Validation("team id already exists")
	}

	team := models.Team{ID: teamID, Name: name, Players: []uuid.UUID{}}
	if err := a.repo.AddTeam(ctx, req.RoomID, team); err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}

	log.Info().
		Str("room_id", req.RoomID.String()).
		Str("team_id", teamID).
		Msg("team created")
	return a.repo.GetRoom(ctx, req.RoomID)
}

func (a *App) DeleteTeam(ctx context.Context, roomID uuid.UUID, teamID string) (*models.Room, error) {
	room, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := assertWaiting(room); err != nil {
		return nil, err
	}
	removed, err := a.repo.RemoveTeam(ctx, roomID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete team: %w", err)
	}
	if !removed {
		return nil, apperrors.NotFound("team not found")
	}
	return a.repo.GetRoom(ctx, roomID)
}

// AssignPlayer puts a room member on a team. A player belongs to at most one
// team, so any previous assignment is dropped first.
func (a *App) AssignPlayer(ctx context.Context, roomID uuid.UUID, teamID string, userID uuid.UUID) (*models.Room, error) {
	room, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := assertWaiting(room); err != nil {
		return nil, err
	}
	if !room.HasMember(userID) {
		return nil, apperrors.Validation("user is not a room member")
	}
	if room.TeamByID(teamID) == nil {
		return nil, apperrors.NotFound("team not found")
	}
	if err := a.repo.AssignPlayer(ctx, roomID, teamID, userID); err != nil {
		return nil, fmt.Errorf("failed to assign player: %w", err)
	}
	return a.repo.GetRoom(ctx, roomID)
}

func (a *App) RemovePlayer(ctx context.Context, roomID uuid.UUID, teamID string, userID uuid.UUID) (*models.Room, error) {
	room, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := assertWaiting(room); err != nil {
		return nil, err
	}
	if room.TeamByID(teamID) == nil {
		return nil, apperrors.NotFound("team not found")
	}
	removed, err := a.repo.RemovePlayer(ctx, roomID, teamID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove player: %w", err)
	}
	if !removed {
		return nil, apperrors.Validation("user is not in this team")
	}
	return a.repo.GetRoom(ctx, roomID)
}

// MarkInGame flips the room to inGame and records its active game. Invoked
// exclusively by the game orchestrator.
func (a *App) MarkInGame(ctx context.Context, roomID, gameID uuid.UUID) error {
	if err := a.repo.SetPhaseInGame(ctx, roomID, gameID); err != nil {
		return fmt.Errorf("failed to mark room in game: %w", err)
	}
	return nil
}

// MarkFinished flips the room to finished and clears its active game.
// Invoked exclusively by the game orchestrator.
func (a *App) MarkFinished(ctx context.Context, roomID uuid.UUID) error {
	if err := a.repo.SetPhaseFinished(ctx, roomID); err != nil {
		return fmt.Errorf("failed to mark room finished: %w", err)
	}
	return nil
}

func assertWaiting(room *models.Room) error {
	if room.Phase != models.RoomPhaseWaiting {
		return apperrors.InvalidPhase("room is not in waiting phase")
	}
	return nil
}

// newTeamID generates a short, human-pasteable team id.
func newTeamID() string {
	return uuid.NewString()[:8]
}
