package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniiar-pro/game-alias/internal/apperrors"
	"github.com/daniiar-pro/game-alias/internal/auth"
	"github.com/daniiar-pro/game-alias/internal/models"
	"github.com/daniiar-pro/game-alias/internal/rooms"
)

// stubVerifier accepts exactly one token and returns a fixed identity.
type stubVerifier struct {
	token    string
	identity auth.Identity
}

func (v *stubVerifier) Verify(tokenString string) (auth.Identity, error) {
	if tokenString != v.token {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return v.identity, nil
}

// stubRoomRepo backs the rooms app with a single-room map; only the methods
// the routing tests reach are meaningful.
type stubRoomRepo struct {
	rooms map[uuid.UUID]*models.Room
}

func (r *stubRoomRepo) CreateRoom(_ context.Context, room *models.Room) error {
	r.rooms[room.ID] = room
	return nil
}

func (r *stubRoomRepo) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	room, ok := r.rooms[id]
	if !ok {
		return nil, apperrors.NotFound("room not found")
	}
	return room, nil
}

func (r *stubRoomRepo) SearchRooms(_ context.Context, req rooms.SearchRoomsRequest) (*rooms.SearchRoomsResult, error) {
	return &rooms.SearchRoomsResult{Limit: req.Limit}, nil
}

func (r *stubRoomRepo) DeleteRoom(_ context.Context, id uuid.UUID) error {
	delete(r.rooms, id)
	return nil
}

func (r *stubRoomRepo) AddMember(_ context.Context, roomID, userID uuid.UUID) error {
	if room, ok := r.rooms[roomID]; ok && !room.HasMember(userID) {
		room.Members = append(room.Members, userID)
	}
	return nil
}

func (r *stubRoomRepo) RemoveMember(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (r *stubRoomRepo) AddTeam(context.Context, uuid.UUID, models.Team) error   { return nil }
func (r *stubRoomRepo) RemoveTeam(context.Context, uuid.UUID, string) (bool, error) {
	return false, nil
}
func (r *stubRoomRepo) AssignPlayer(context.Context, uuid.UUID, string, uuid.UUID) error { return nil }
func (r *stubRoomRepo) RemovePlayer(context.Context, uuid.UUID, string, uuid.UUID) (bool, error) {
	return false, nil
}
func (r *stubRoomRepo) SetPhaseInGame(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (r *stubRoomRepo) SetPhaseFinished(context.Context, uuid.UUID) error          { return nil }

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	verifier := &stubVerifier{
		token:    "good-token",
		identity: auth.Identity{UserID: uuid.NewString(), Username: "alice"},
	}
	roomApp := rooms.NewApp(&stubRoomRepo{rooms: make(map[uuid.UUID]*models.Room)})
	api := NewAPI(roomApp, nil, nil, verifier)

	mux := http.NewServeMux()
	api.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, verifier.token
}

func doRequest(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, server.URL+"/api/rooms", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["kind"])

	resp, _ = doRequest(t, http.MethodGet, server.URL+"/api/rooms", "bad-token", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGetRoom(t *testing.T) {
	t.Parallel()
	server, token := newTestServer(t)

	resp, body := doRequest(t, http.MethodPost, server.URL+"/api/rooms", token, `{"name":"friday"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roomID := body["id"].(string)

	resp, body = doRequest(t, http.MethodGet, server.URL+"/api/rooms/"+roomID, token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "friday", body["name"])
	assert.Equal(t, "waiting", body["phase"])
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	server, token := newTestServer(t)

	// Unknown room id maps NotFound to 404.
	resp, body := doRequest(t, http.MethodGet, server.URL+"/api/rooms/"+uuid.NewString(), token, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])

	// Malformed uuid maps Validation to 400.
	resp, body = doRequest(t, http.MethodGet, server.URL+"/api/rooms/not-a-uuid", token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["kind"])

	// Empty room name maps Validation to 400.
	resp, body = doRequest(t, http.MethodPost, server.URL+"/api/rooms", token, `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["kind"])
}

func TestStatusForCoversTaxonomy(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusForbidden, statusFor(apperrors.KindForbidden))
	assert.Equal(t, http.StatusNotFound, statusFor(apperrors.KindNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(apperrors.KindInvalidPhase))
	assert.Equal(t, http.StatusBadRequest, statusFor(apperrors.KindInsufficientTeams))
	assert.Equal(t, http.StatusBadRequest, statusFor(apperrors.KindEmptyTeam))
	assert.Equal(t, http.StatusBadRequest, statusFor(apperrors.KindValidation))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperrors.Kind("mystery")))
}
