// Package chat relays room chat messages. History storage is plain
// append/list; membership rules come from the rooms service.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daniiar-pro/game-alias/internal/apperrors"
	"github.com/daniiar-pro/game-alias/internal/models"
)

const defaultHistoryLimit = 50

// Message is one chat message in a room.
type Message struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"roomId"`
	UserID    uuid.UUID `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repository persists chat messages.
type Repository interface {
	InsertMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, roomID uuid.UUID, limit int, before *time.Time) ([]Message, error)
}

// RoomStore resolves rooms for membership checks.
type RoomStore interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
}

type App struct {
	repo  Repository
	rooms RoomStore
}

func NewApp(repo Repository, rooms RoomStore) *App {
	return &App{repo: repo, rooms: rooms}
}

// SendMessage persists a message from a room member.
func (a *App) SendMessage(ctx context.Context, roomID, userID uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.Validation("message content is required")
	}
	if err := a.ensureMembership(ctx, roomID, userID); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// History lists the most recent messages, newest first, optionally before a
// given timestamp.
func (a *App) History(ctx context.Context, roomID, userID uuid.UUID, limit int, before *time.Time) ([]Message, error) {
	if err := a.ensureMembership(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}
	return a.repo.ListMessages(ctx, roomID, limit, before)
}

func (a *App) ensureMembership(ctx context.Context, roomID, userID uuid.UUID) error {
	room, err := a.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		return apperrors.Forbidden("not a room member")
	}
	return nil
}
