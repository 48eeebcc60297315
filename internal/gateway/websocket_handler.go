package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/daniiar-pro/game-alias/internal/apperrors"
	"github.com/daniiar-pro/game-alias/internal/auth"
	"github.com/daniiar-pro/game-alias/internal/chat"
	"github.com/daniiar-pro/game-alias/internal/game"
	"github.com/daniiar-pro/game-alias/internal/rooms"
)

// Command names accepted from clients.
const (
	CmdJoin        = "join"
	CmdLeave       = "leave"
	CmdState       = "state"
	CmdStart       = "start"
	CmdTurnStart   = "turn:start"
	CmdTurnStop    = "turn:stop"
	CmdTurnNext    = "turn:next"
	CmdScore       = "score"
	CmdRoundEnd    = "round:end"
	CmdFinish      = "finish"
	CmdChatSend    = "chat:send"
	CmdChatHistory = "chat:history"
)

const commandTimeout = 10 * time.Second

// Handler terminates WebSocket sessions: it authenticates the upgrade,
// parses client commands and routes them to the room, game and chat apps.
// Game results go out on the broadcast bus so every instance sees them;
// acks and errors go straight back on the issuing connection.
type Handler struct {
	cm          *ConnectionManager
	rooms       *rooms.App
	games       *game.App
	chats       *chat.App
	verifier    auth.Verifier
	broadcaster Broadcaster
}

func NewHandler(cm *ConnectionManager, roomApp *rooms.App, gameApp *game.App, chatApp *chat.App, verifier auth.Verifier, b Broadcaster) *Handler {
	h := &Handler{
		cm:          cm,
		rooms:       roomApp,
		games:       gameApp,
		chats:       chatApp,
		verifier:    verifier,
		broadcaster: b,
	}
	cm.SetMessageHandler(h.handleMessage)
	return h
}

// clientCommand is one inbound frame: an event name plus its payload.
type clientCommand struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomCommand struct {
	RoomID uuid.UUID `json:"roomId"`
}

type startCommand struct {
	RoomID      uuid.UUID `json:"roomId"`
	MaxRounds   int       `json:"maxRounds"`
	TurnSeconds int       `json:"turnSeconds"`
}

type turnStartCommand struct {
	RoomID      uuid.UUID `json:"roomId"`
	TurnSeconds int       `json:"turnSeconds"`
}

type scoreCommand struct {
	RoomID uuid.UUID `json:"roomId"`
	TeamID string    `json:"teamId"`
	Delta  int       `json:"delta"`
}

type chatSendCommand struct {
	RoomID  uuid.UUID `json:"roomId"`
	Content string    `json:"content"`
}

type chatHistoryCommand struct {
	RoomID uuid.UUID  `json:"roomId"`
	Limit  int        `json:"limit"`
	Before *time.Time `json:"before"`
}

// ServeHTTP handles the WebSocket upgrade endpoint. The token comes from
// the Authorization header or, for browser clients, the token query
// parameter. Unauthenticated requests never reach the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		log.Warn().Err(err).Msg("websocket auth failed")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.cm.Upgrade(w, r, identity.UserID, identity.Username)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.sendDirect(conn, "", EventReady, map[string]string{
		"connectionId": conn.ID,
		"userId":       identity.UserID,
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) handleMessage(conn *Connection, message []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		h.sendError(conn, apperrors.Validation("malformed command"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	userID, err := uuid.Parse(conn.UserID)
	if err != nil {
		h.sendError(conn, apperrors.Validation("invalid user id"))
		return
	}

	if err := h.dispatch(ctx, conn, userID, cmd); err != nil {
		h.sendError(conn, err)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Connection, userID uuid.UUID, cmd clientCommand) error {
	switch cmd.Event {
	case CmdJoin:
		return h.handleJoin(ctx, conn, userID, cmd.Data)
	case CmdLeave:
		return h.handleLeave(ctx, conn, userID, cmd.Data)
	case CmdState:
		var c roomCommand
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return apperrors.Validation("malformed state command")
		}
		state, err := h.games.GetPublicState(ctx, c.RoomID)
		if err != nil {
			return err
		}
		h.sendDirect(conn, GameChannel(c.RoomID), EventState, state)
		return nil
	case CmdStart:
		var c startCommand
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return apperrors.Validation("malformed start command")
		}
		_, err := h.games.StartGame(ctx, game.StartGameRequest{
			RoomID:      c.RoomID,
			RequesterID: userID,
			MaxRounds:   c.MaxRounds,
			TurnSeconds: c.TurnSeconds,
		})
		return err
	case CmdTurnStart:
		var c turnStartCommand
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return apperrors.Validation("malformed turn:start command")
		}
		_, err := h.games.StartTurn(ctx, c.RoomID, c.TurnSeconds)
		return err
	case CmdTurnStop:
		var c roomCommand
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return apperrors.Validation("malformed turn:stop command")
		}
		_, err := h.games.StopTurn(ctx, c.RoomID)
		return err
	case CmdTurnNext:
		var c roomCommand
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return apperrors.Validation("malformed turn:next command")
		}
		_, err := h.games.NextTeam(ctx, c.RoomID)
		return err
	case CmdScore:
		var c scoreCommand
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return apperrors.Validation("malformed score command")
		}
		_, err := h.games.UpdateScore(ctx, c.RoomID, c.TeamID, c.Delta)
		return err
	case CmdRoundEnd:
		var c roomCommand
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return apperrors.Validation("malformed round:end command")
		}
		_, err := h.games.EndRound(ctx, c.RoomID)
		return err
	case CmdFinish:
		var c roomCommand
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return apperrors.Validation("malformed finish command")
		}
		_, err := h.games.FinishGame(ctx, c.RoomID)
		return err
	case CmdChatSend:
		return h.handleChatSend(ctx, conn, userID, cmd.Data)
	case CmdChatHistory:
		return h.handleChatHistory(ctx, conn, userID, cmd.Data)
	default:
		return apperrors.Validation("unknown command: " + cmd.Event)
	}
}

// handleJoin subscribes the connection to the room's game and chat
// channels after a membership check, then acks with the current state so
// the client can render immediately.
func (h *Handler) handleJoin(ctx context.Context, conn *Connection, userID uuid.UUID, data json.RawMessage) error {
	var c roomCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return apperrors.Validation("malformed join command")
	}

	room, err := h.rooms.GetRoom(ctx, c.RoomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		return apperrors.Forbidden("not a room member")
	}

	h.cm.Subscribe(conn, GameChannel(c.RoomID))
	h.cm.Subscribe(conn, ChatChannel(c.RoomID))

	h.sendDirect(conn, GameChannel(c.RoomID), EventJoined, map[string]string{
		"roomId": c.RoomID.String(),
	})
	if state, err := h.games.GetPublicState(ctx, c.RoomID); err == nil {
		h.sendDirect(conn, GameChannel(c.RoomID), EventState, state)
	}
	return nil
}

func (h *Handler) handleLeave(_ context.Context, conn *Connection, _ uuid.UUID, data json.RawMessage) error {
	var c roomCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return apperrors.Validation("malformed leave command")
	}
	h.cm.Unsubscribe(conn, GameChannel(c.RoomID))
	h.cm.Unsubscribe(conn, ChatChannel(c.RoomID))
	h.sendDirect(conn, GameChannel(c.RoomID), EventLeft, map[string]string{
		"roomId": c.RoomID.String(),
	})
	return nil
}

func (h *Handler) handleChatSend(ctx context.Context, conn *Connection, userID uuid.UUID, data json.RawMessage) error {
	var c chatSendCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return apperrors.Validation("malformed chat:send command")
	}
	msg, err := h.chats.SendMessage(ctx, c.RoomID, userID, c.Content)
	if err != nil {
		return err
	}
	if err := h.broadcaster.Broadcast(ctx, ChatChannel(c.RoomID), EventMessage, msg); err != nil {
		log.Error().Err(err).
			Str("room_id", c.RoomID.String()).
			Msg("failed to broadcast chat message")
	}
	return nil
}

func (h *Handler) handleChatHistory(ctx context.Context, conn *Connection, userID uuid.UUID, data json.RawMessage) error {
	var c chatHistoryCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return apperrors.Validation("malformed chat:history command")
	}
	messages, err := h.chats.History(ctx, c.RoomID, userID, c.Limit, c.Before)
	if err != nil {
		return err
	}
	h.sendDirect(conn, ChatChannel(c.RoomID), EventHistory, messages)
	return nil
}

// sendDirect delivers an event to a single connection, bypassing the bus.
func (h *Handler) sendDirect(conn *Connection, channel, name string, payload any) {
	ev, err := NewEvent(channel, name, payload)
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("failed to build event")
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("failed to marshal event")
		return
	}
	h.cm.Send(conn, data)
}

// sendError reports a command failure on the issuing connection. Domain
// errors keep their kind; anything else is masked as internal.
func (h *Handler) sendError(conn *Connection, err error) {
	payload := ErrorPayload{Kind: "internal", Message: "internal error"}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		payload.Kind = string(appErr.Kind)
		payload.Message = appErr.Message
	} else {
		log.Error().Err(err).Str("user_id", conn.UserID).Msg("command failed")
	}
	h.sendDirect(conn, "", EventError, payload)
}
