// Package game owns the Game aggregate and coordinates room phase
// transitions with the turn clock. It is the only writer of
// Room.phase/activeGameId, and every state-mutating operation ends by
// recomputing the public projection and handing it to the broadcaster.
package game

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/daniiar-pro/game-alias/internal/apperrors"
	"github.com/daniiar-pro/game-alias/internal/models"
)

// RoomStore is what the orchestrator needs from the rooms service: lookup
// plus the two phase-transition entry points only it may call.
type RoomStore interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	MarkInGame(ctx context.Context, roomID, gameID uuid.UUID) error
	MarkFinished(ctx context.Context, roomID uuid.UUID) error
}

// Repository persists the Game aggregate. IncrementTeamScore must be an
// atomic increment at the storage layer so concurrent score updates never
// lose writes.
type Repository interface {
	CreateGame(ctx context.Context, game *models.Game) error
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	IncrementTeamScore(ctx context.Context, gameID uuid.UUID, teamID string, delta int) (bool, error)
	AdvanceRound(ctx context.Context, gameID uuid.UUID) error
	MarkFinished(ctx context.Context, gameID uuid.UUID) error
}

// TurnClock is the per-room timer the orchestrator drives.
type TurnClock interface {
	Start(ctx context.Context, roomID uuid.UUID, teamIndex int, duration time.Duration, onExpire func()) (models.TurnState, error)
	Stop(ctx context.Context, roomID uuid.UUID) error
	Advance(roomID uuid.UUID, totalTeams int) (int, bool)
	Lookup(ctx context.Context, roomID uuid.UUID) (models.TurnState, bool, error)
	Clear(ctx context.Context, roomID uuid.UUID) error
	ClaimExpiry(ctx context.Context, roomID uuid.UUID) (bool, error)
}

// StateBroadcaster fans the public projection out to all room subscribers.
type StateBroadcaster interface {
	PublishState(ctx context.Context, roomID uuid.UUID, state *PublicState) error
}

// StatsReport summarizes a finished game for the stats sink.
type StatsReport struct {
	RoomID  string   `json:"room_id"`
	GameID  string   `json:"game_id"`
	Winners []string `json:"winners"`
	Players []string `json:"players"`
}

// StatsSink is notified when a game finishes. Best effort: it must never
// fail or delay the finish operation.
type StatsSink interface {
	GameFinished(ctx context.Context, report StatsReport)
}

// Config holds the orchestrator defaults.
type Config struct {
	DefaultMaxRounds   int
	DefaultTurnSeconds int
}

func DefaultConfig() Config {
	return Config{
		DefaultMaxRounds:   5,
		DefaultTurnSeconds: 60,
	}
}

// App is the game orchestrator for all rooms. Mutable shared state is
// scoped per room: every mutating operation runs under that room's lock,
// including the turn-timeout continuation.
type App struct {
	rooms       RoomStore
	repo        Repository
	turns       TurnClock
	clock       clockwork.Clock
	config      Config
	broadcaster StateBroadcaster
	stats       StatsSink
	locks       keyedMutex
}

func NewApp(rooms RoomStore, repo Repository, turns TurnClock, clk clockwork.Clock, cfg Config) *App {
	if cfg.DefaultMaxRounds <= 0 {
		cfg.DefaultMaxRounds = 5
	}
	if cfg.DefaultTurnSeconds <= 0 {
		cfg.DefaultTurnSeconds = 60
	}
	return &App{
		rooms:  rooms,
		repo:   repo,
		turns:  turns,
		clock:  clk,
		config: cfg,
	}
}

// SetBroadcaster wires the fan-out sink. Called once at startup; the
// gateway needs the app and the app needs the gateway's publisher, so this
// breaks the construction cycle.
func (a *App) SetBroadcaster(b StateBroadcaster) { a.broadcaster = b }

// SetStatsSink wires the optional game-stats sink.
func (a *App) SetStatsSink(s StatsSink) { a.stats = s }

// StartGame snapshots the room's teams into a fresh game, flips the room to
// inGame and puts team 0 on the clock.
func (a *App) StartGame(ctx context.Context, req StartGameRequest) (*PublicState, error) {
	unlock := a.locks.Lock(req.RoomID)
	defer unlock()

	room, err := a.rooms.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(req.RequesterID) {
		return nil, apperrors.Forbidden("only room members can start a game")
	}
	if room.Phase != models.RoomPhaseWaiting {
		return nil, apperrors.InvalidPhase("room already started")
	}
	if len(room.Teams) < 2 {
		return nil, apperrors.InsufficientTeams("need at least two teams to start")
	}
	for _, team := range room.Teams {
		if len(team.Players) == 0 {
			return nil, apperrors.EmptyTeam(fmt.Sprintf("team %q has no players", team.Name))
		}
	}

	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = a.config.DefaultMaxRounds
	}
	turnSeconds := req.TurnSeconds
	if turnSeconds <= 0 {
		turnSeconds = a.config.DefaultTurnSeconds
	}

	newGame := &models.Game{
		ID:           uuid.New(),
		RoomID:       req.RoomID,
		Teams:        cloneTeams(room.Teams),
		CurrentRound: 1,
		MaxRounds:    maxRounds,
	}
	if err := a.repo.CreateGame(ctx, newGame); err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	if err := a.rooms.MarkInGame(ctx, req.RoomID, newGame.ID); err != nil {
		return nil, fmt.Errorf("failed to transition room: %w", err)
	}

	if _, err := a.turns.Start(ctx, req.RoomID, 0, secs(turnSeconds), a.timeoutFunc(req.RoomID)); err != nil {
		return nil, fmt.Errorf("failed to start first turn: %w", err)
	}

	log.Info().
		Str("room_id", req.RoomID.String()).
		Str("game_id", newGame.ID.String()).
		Int("max_rounds", maxRounds).
		Int("turn_seconds", turnSeconds).
		Msg("game started")
	return a.finishMutation(ctx, req.RoomID, newGame)
}

// GetPublicState returns the projection for the room's active game.
func (a *App) GetPublicState(ctx context.Context, roomID uuid.UUID) (*PublicState, error) {
	g, err := a.activeGame(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return a.projection(ctx, roomID, g), nil
}

// StartTurn (re)starts the clock at the current team index. turnSeconds may
// be zero: the duration then falls back to the previous turn's duration, or
// the configured default.
func (a *App) StartTurn(ctx context.Context, roomID uuid.UUID, turnSeconds int) (*PublicState, error) {
	unlock := a.locks.Lock(roomID)
	defer unlock()

	g, err := a.activeGame(ctx, roomID)
	if err != nil {
		return nil, err
	}

	prev, ok, err := a.turns.Lookup(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up turn: %w", err)
	}
	teamIndex := 0
	if ok {
		teamIndex = prev.TeamIndex
	}

	duration := a.resolveTurnDuration(turnSeconds, prev, ok)
	if _, err := a.turns.Start(ctx, roomID, teamIndex, duration, a.timeoutFunc(roomID)); err != nil {
		return nil, fmt.Errorf("failed to start turn: %w", err)
	}
	return a.finishMutation(ctx, roomID, g)
}

// StopTurn pauses the clock, keeping the team index and duration.
func (a *App) StopTurn(ctx context.Context, roomID uuid.UUID) (*PublicState, error) {
	unlock := a.locks.Lock(roomID)
	defer unlock()

	g, err := a.activeGame(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := a.turns.Stop(ctx, roomID); err != nil {
		return nil, fmt.Errorf("failed to stop turn: %w", err)
	}
	return a.finishMutation(ctx, roomID, g)
}

// NextTeam advances the round-robin to the next team and restarts the clock
// with the same duration.
func (a *App) NextTeam(ctx context.Context, roomID uuid.UUID) (*PublicState, error) {
	unlock := a.locks.Lock(roomID)
	defer unlock()
	return a.nextTeamLocked(ctx, roomID)
}

func (a *App) nextTeamLocked(ctx context.Context, roomID uuid.UUID) (*PublicState, error) {
	g, err := a.activeGame(ctx, roomID)
	if err != nil {
		return nil, err
	}

	prev, ok, err := a.turns.Lookup(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up turn: %w", err)
	}

	teamIndex := 0
	if ok {
		// Prefer the clock's own advance; fall back to computing from the
		// persisted state when this instance holds no local handle.
		if idx, advanced := a.turns.Advance(roomID, len(g.Teams)); advanced {
			teamIndex = idx
		} else {
			teamIndex = (prev.TeamIndex + 1) % len(g.Teams)
		}
	}

	duration := a.resolveTurnDuration(0, prev, ok)
	if _, err := a.turns.Start(ctx, roomID, teamIndex, duration, a.timeoutFunc(roomID)); err != nil {
		return nil, fmt.Errorf("failed to start next turn: %w", err)
	}
	return a.finishMutation(ctx, roomID, g)
}

// UpdateScore applies a signed delta to a team's score. The increment is
// atomic at the storage layer, so concurrent correct-guess events never
// lose updates.
func (a *App) UpdateScore(ctx context.Context, roomID uuid.UUID, teamID string, delta int) (*PublicState, error) {
	unlock := a.locks.Lock(roomID)
	defer unlock()

	room, err := a.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.ActiveGameID == nil {
		return nil, apperrors.NotFound("no active game in room")
	}

	updated, err := a.repo.IncrementTeamScore(ctx, *room.ActiveGameID, teamID, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to update score: %w", err)
	}
	if !updated {
		return nil, apperrors.NotFound("team not found in game")
	}

	g, err := a.repo.GetGame(ctx, *room.ActiveGameID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload game: %w", err)
	}
	return a.finishMutation(ctx, roomID, g)
}

// EndRound increments the round, resets the round-robin to team 0 and
// restarts the clock; on the last round it finishes the game instead.
func (a *App) EndRound(ctx context.Context, roomID uuid.UUID) (*PublicState, error) {
	unlock := a.locks.Lock(roomID)
	defer unlock()

	g, err := a.activeGame(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if g.CurrentRound >= g.MaxRounds {
		return a.finishGameLocked(ctx, roomID, g)
	}

	if err := a.repo.AdvanceRound(ctx, g.ID); err != nil {
		return nil, fmt.Errorf("failed to advance round: %w", err)
	}
	g.CurrentRound++

	prev, ok, err := a.turns.Lookup(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up turn: %w", err)
	}
	duration := a.resolveTurnDuration(0, prev, ok)
	if _, err := a.turns.Start(ctx, roomID, 0, duration, a.timeoutFunc(roomID)); err != nil {
		return nil, fmt.Errorf("failed to start round turn: %w", err)
	}

	log.Info().
		Str("room_id", roomID.String()).
		Int("current_round", g.CurrentRound).
		Msg("round advanced")
	return a.finishMutation(ctx, roomID, g)
}

// FinishGame marks the game finished, returns the room to the finished
// phase and clears the turn clock, all in one logical step.
func (a *App) FinishGame(ctx context.Context, roomID uuid.UUID) (*PublicState, error) {
	unlock := a.locks.Lock(roomID)
	defer unlock()

	g, err := a.activeGame(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return a.finishGameLocked(ctx, roomID, g)
}

func (a *App) finishGameLocked(ctx context.Context, roomID uuid.UUID, g *models.Game) (*PublicState, error) {
	if err := a.repo.MarkFinished(ctx, g.ID); err != nil {
		return nil, fmt.Errorf("failed to finish game: %w", err)
	}
	if err := a.rooms.MarkFinished(ctx, roomID); err != nil {
		return nil, fmt.Errorf("failed to transition room: %w", err)
	}
	if err := a.turns.Clear(ctx, roomID); err != nil {
		return nil, fmt.Errorf("failed to clear turn clock: %w", err)
	}
	g.Finished = true

	// The room no longer references the game, so build the projection from
	// the aggregate in hand rather than re-resolving through the room.
	state := projectionOf(roomID, g, nil)
	a.publish(ctx, roomID, state)
	a.notifyStats(ctx, roomID, g)

	log.Info().
		Str("room_id", roomID.String()).
		Str("game_id", g.ID.String()).
		Msg("game finished")
	return state, nil
}

// HandleTurnTimeout is the turn-timeout continuation: both the in-process
// timer and the recovery scheduler land here. The expiry claim decides the
// winner when several paths race; losers observe the state already consumed
// and no-op.
func (a *App) HandleTurnTimeout(ctx context.Context, roomID uuid.UUID) {
	unlock := a.locks.Lock(roomID)
	defer unlock()

	claimed, err := a.turns.ClaimExpiry(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to claim turn expiry")
		return
	}
	if !claimed {
		log.Debug().Str("room_id", roomID.String()).Msg("turn expiry already handled")
		return
	}

	if _, err := a.nextTeamLocked(ctx, roomID); err != nil {
		// The game may have finished between the fire and the claim.
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			log.Debug().Str("room_id", roomID.String()).Msg("turn timeout for finished game")
			return
		}
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("turn timeout handling failed")
	}
}

// timeoutFunc builds the onExpire continuation for a room. It runs on the
// timer goroutine, so it gets its own bounded context.
func (a *App) timeoutFunc(roomID uuid.UUID) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.HandleTurnTimeout(ctx, roomID)
	}
}

// resolveTurnDuration applies the duration resolution rule used at every
// call site: explicit argument, else the last-known turn duration, else the
// configured default.
func (a *App) resolveTurnDuration(turnSeconds int, prev models.TurnState, hasPrev bool) time.Duration {
	if turnSeconds > 0 {
		return secs(turnSeconds)
	}
	if hasPrev && prev.Duration > 0 {
		return prev.Duration
	}
	return secs(a.config.DefaultTurnSeconds)
}

// activeGame resolves the room's active game or reports NotFound.
func (a *App) activeGame(ctx context.Context, roomID uuid.UUID) (*models.Game, error) {
	room, err := a.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.ActiveGameID == nil {
		return nil, apperrors.NotFound("no active game in room")
	}
	g, err := a.repo.GetGame(ctx, *room.ActiveGameID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, apperrors.NotFound("active game lost")
	}
	return g, nil
}

// finishMutation recomputes the projection and broadcasts it; every
// successful mutating operation funnels through here.
func (a *App) finishMutation(ctx context.Context, roomID uuid.UUID, g *models.Game) (*PublicState, error) {
	state := a.projection(ctx, roomID, g)
	a.publish(ctx, roomID, state)
	return state, nil
}

func (a *App) projection(ctx context.Context, roomID uuid.UUID, g *models.Game) *PublicState {
	var turn *TurnInfo
	if !g.Finished {
		if t, ok, err := a.turns.Lookup(ctx, roomID); err == nil && ok {
			turn = &TurnInfo{
				TeamIndex:   t.TeamIndex,
				SecondsLeft: t.SecondsLeft(a.clock.Now()),
			}
			if t.TeamIndex >= 0 && t.TeamIndex < len(g.Teams) {
				turn.TeamID = g.Teams[t.TeamIndex].ID
			}
		}
	}
	return projectionOf(roomID, g, turn)
}

func projectionOf(roomID uuid.UUID, g *models.Game, turn *TurnInfo) *PublicState {
	state := &PublicState{
		RoomID:       roomID.String(),
		GameID:       g.ID.String(),
		CurrentRound: g.CurrentRound,
		MaxRounds:    g.MaxRounds,
		Finished:     g.Finished,
		Teams:        make([]TeamState, 0, len(g.Teams)),
		Turn:         turn,
	}
	for _, team := range g.Teams {
		players := make([]string, 0, len(team.Players))
		for _, p := range team.Players {
			players = append(players, p.String())
		}
		state.Teams = append(state.Teams, TeamState{
			ID:      team.ID,
			Name:    team.Name,
			Score:   team.Score,
			Players: players,
		})
	}
	return state
}

func (a *App) publish(ctx context.Context, roomID uuid.UUID, state *PublicState) {
	if a.broadcaster == nil {
		return
	}
	if err := a.broadcaster.PublishState(ctx, roomID, state); err != nil {
		log.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to broadcast state")
	}
}

// notifyStats reports the finished game to the stats sink. Best effort: a
// sink failure never fails the finish.
func (a *App) notifyStats(ctx context.Context, roomID uuid.UUID, g *models.Game) {
	if a.stats == nil {
		return
	}

	// Scores are unclamped and may all be negative, so seed from below any
	// reachable score rather than zero.
	best := math.MinInt
	for _, team := range g.Teams {
		if team.Score > best {
			best = team.Score
		}
	}
	report := StatsReport{
		RoomID: roomID.String(),
		GameID: g.ID.String(),
	}
	for _, team := range g.Teams {
		for _, p := range team.Players {
			report.Players = append(report.Players, p.String())
			if team.Score == best {
				report.Winners = append(report.Winners, p.String())
			}
		}
	}
	a.stats.GameFinished(ctx, report)
}

func cloneTeams(teams []models.Team) []models.Team {
	cloned := make([]models.Team, 0, len(teams))
	for _, t := range teams {
		players := make([]uuid.UUID, len(t.Players))
		copy(players, t.Players)
		cloned = append(cloned, models.Team{
			ID:      t.ID,
			Name:    t.Name,
			Score:   0,
			Players: players,
		})
	}
	return cloned
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
