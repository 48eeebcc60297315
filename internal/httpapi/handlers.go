// Package httpapi exposes the room and game operations as a JSON HTTP API.
// The realtime gateway covers the in-game path; this surface exists for room
// management, lobby listings and non-WebSocket clients.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/daniiar-pro/game-alias/internal/apperrors"
	"github.com/daniiar-pro/game-alias/internal/auth"
	"github.com/daniiar-pro/game-alias/internal/chat"
	"github.com/daniiar-pro/game-alias/internal/game"
	"github.com/daniiar-pro/game-alias/internal/models"
	"github.com/daniiar-pro/game-alias/internal/rooms"
)

// API routes the HTTP surface. Every handler runs behind token auth; the
// verified identity rides on the request context.
type API struct {
	rooms    *rooms.App
	games    *game.App
	chats    *chat.App
	verifier auth.Verifier
}

func NewAPI(roomApp *rooms.App, gameApp *game.App, chatApp *chat.App, verifier auth.Verifier) *API {
	return &API{rooms: roomApp, games: gameApp, chats: chatApp, verifier: verifier}
}

// Register mounts all routes on the mux.
func (api *API) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/rooms", api.authed(api.createRoom))
	mux.Handle("GET /api/rooms", api.authed(api.searchRooms))
	mux.Handle("GET /api/rooms/{roomId}", api.authed(api.getRoom))
	mux.Handle("DELETE /api/rooms/{roomId}", api.authed(api.deleteRoom))
	mux.Handle("POST /api/rooms/{roomId}/join", api.authed(api.joinRoom))
	mux.Handle("POST /api/rooms/{roomId}/leave", api.authed(api.leaveRoom))

	mux.Handle("POST /api/rooms/{roomId}/teams", api.authed(api.createTeam))
	mux.Handle("DELETE /api/rooms/{roomId}/teams/{teamId}", api.authed(api.deleteTeam))
	mux.Handle("POST /api/rooms/{roomId}/teams/{teamId}/players", api.authed(api.assignPlayer))
	mux.Handle("DELETE /api/rooms/{roomId}/teams/{teamId}/players/{userId}", api.authed(api.removePlayer))

	mux.Handle("POST /api/rooms/{roomId}/game/start", api.authed(api.startGame))
	mux.Handle("GET /api/rooms/{roomId}/game", api.authed(api.gameState))
	mux.Handle("POST /api/rooms/{roomId}/game/turn/start", api.authed(api.startTurn))
	mux.Handle("POST /api/rooms/{roomId}/game/turn/stop", api.authed(api.stopTurn))
	mux.Handle("POST /api/rooms/{roomId}/game/turn/next", api.authed(api.nextTeam))
	mux.Handle("POST /api/rooms/{roomId}/game/score", api.authed(api.updateScore))
	mux.Handle("POST /api/rooms/{roomId}/game/round/end", api.authed(api.endRound))
	mux.Handle("POST /api/rooms/{roomId}/game/finish", api.authed(api.finishGame))

	mux.Handle("GET /api/rooms/{roomId}/messages", api.authed(api.chatHistory))
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, identity auth.Identity)

// authed verifies the bearer token before delegating.
func (api *API) authed(next handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		identity, err := api.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next(w, r, identity)
	})
}

type createRoomBody struct {
	Name string `json:"name"`
}

func (api *API) createRoom(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	var body createRoomBody
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	creatorID, err := callerID(identity)
	if err != nil {
		writeAppError(w, err)
		return
	}
	room, err := api.rooms.CreateRoom(r.Context(), rooms.CreateRoomRequest{
		Name:      body.Name,
		CreatorID: creatorID,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (api *API) searchRooms(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	q := r.URL.Query()
	result, err := api.rooms.SearchRooms(r.Context(), rooms.SearchRoomsRequest{
		Query:  q.Get("q"),
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  result.Items,
		"total":  result.Total,
		"limit":  result.Limit,
		"offset": result.Offset,
	})
}

func (api *API) getRoom(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	room, err := api.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (api *API) deleteRoom(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	requesterID, err := callerID(identity)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := api.rooms.DeleteRoom(r.Context(), roomID, requesterID, identity.IsAdmin()); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) joinRoom(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	api.membershipOp(w, r, identity, api.rooms.JoinRoom)
}

func (api *API) leaveRoom(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	api.membershipOp(w, r, identity, api.rooms.LeaveRoom)
}

type membershipOpFunc func(ctx context.Context, roomID, userID uuid.UUID) (*models.Room, error)

func (api *API) membershipOp(w http.ResponseWriter, r *http.Request, identity auth.Identity, op membershipOpFunc) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	userID, err := callerID(identity)
	if err != nil {
		writeAppError(w, err)
		return
	}
	room, err := op(r.Context(), roomID, userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type createTeamBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (api *API) createTeam(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	var body createTeamBody
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	room, err := api.rooms.CreateTeam(r.Context(), rooms.CreateTeamRequest{
		RoomID: roomID,
		TeamID: body.ID,
		Name:   body.Name,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (api *API) deleteTeam(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	room, err := api.rooms.DeleteTeam(r.Context(), roomID, r.PathValue("teamId"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type assignPlayerBody struct {
	UserID uuid.UUID `json:"userId"`
}

func (api *API) assignPlayer(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	var body assignPlayerBody
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	room, err := api.rooms.AssignPlayer(r.Context(), roomID, r.PathValue("teamId"), body.UserID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (api *API) removePlayer(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	userID, err := pathUUID(r, "userId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	room, err := api.rooms.RemovePlayer(r.Context(), roomID, r.PathValue("teamId"), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type startGameBody struct {
	MaxRounds   int `json:"maxRounds"`
	TurnSeconds int `json:"turnSeconds"`
}

func (api *API) startGame(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	requesterID, err := callerID(identity)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var body startGameBody
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	state, err := api.games.StartGame(r.Context(), game.StartGameRequest{
		RoomID:      roomID,
		RequesterID: requesterID,
		MaxRounds:   body.MaxRounds,
		TurnSeconds: body.TurnSeconds,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (api *API) gameState(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	api.stateOp(w, r, api.games.GetPublicState)
}

type startTurnBody struct {
	TurnSeconds int `json:"turnSeconds"`
}

func (api *API) startTurn(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	var body startTurnBody
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	state, err := api.games.StartTurn(r.Context(), roomID, body.TurnSeconds)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (api *API) stopTurn(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	api.stateOp(w, r, api.games.StopTurn)
}

func (api *API) nextTeam(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	api.stateOp(w, r, api.games.NextTeam)
}

type scoreBody struct {
	TeamID string `json:"teamId"`
	Delta  int    `json:"delta"`
}

func (api *API) updateScore(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	var body scoreBody
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	state, err := api.games.UpdateScore(r.Context(), roomID, body.TeamID, body.Delta)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (api *API) endRound(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	api.stateOp(w, r, api.games.EndRound)
}

func (api *API) finishGame(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	api.stateOp(w, r, api.games.FinishGame)
}

func (api *API) chatHistory(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	userID, err := callerID(identity)
	if err != nil {
		writeAppError(w, err)
		return
	}
	q := r.URL.Query()
	var before *time.Time
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeAppError(w, apperrors.Validation("before must be RFC 3339"))
			return
		}
		before = &t
	}
	messages, err := api.chats.History(r.Context(), roomID, userID, queryInt(q.Get("limit")), before)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type stateOpFunc func(ctx context.Context, roomID uuid.UUID) (*game.PublicState, error)

func (api *API) stateOp(w http.ResponseWriter, r *http.Request, op stateOpFunc) {
	roomID, err := pathUUID(r, "roomId")
	if err != nil {
		writeAppError(w, err)
		return
	}
	state, err := op(r.Context(), roomID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func callerID(identity auth.Identity) (uuid.UUID, error) {
	id, err := uuid.Parse(identity.UserID)
	if err != nil {
		return uuid.Nil, apperrors.Validation("token subject is not a valid user id")
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, apperrors.Validation(name + " must be a UUID")
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Validation("malformed request body")
	}
	return nil
}

func queryInt(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Kind: kind, Message: message})
}

// writeAppError maps the domain error taxonomy onto HTTP statuses. Unknown
// errors become opaque 500s.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeError(w, statusFor(appErr.Kind), string(appErr.Kind), appErr.Message)
}

func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidPhase,
		apperrors.KindInsufficientTeams,
		apperrors.KindEmptyTeam,
		apperrors.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
