package chat

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniiar-pro/game-alias/internal/apperrors"
	"github.com/daniiar-pro/game-alias/internal/models"
)

type memoryRepo struct {
	mu       sync.Mutex
	messages []Message
}

func (r *memoryRepo) InsertMessage(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *memoryRepo) ListMessages(_ context.Context, roomID uuid.UUID, limit int, before *time.Time) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Message
	for _, msg := range r.messages {
		if msg.RoomID != roomID {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		matched = append(matched, msg)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type stubRoomStore struct {
	room *models.Room
}

func (s *stubRoomStore) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	if s.room == nil || s.room.ID != id {
		return nil, apperrors.NotFound("room not found")
	}
	return s.room, nil
}

func newChatFixture() (*App, *memoryRepo, uuid.UUID, uuid.UUID) {
	member := uuid.New()
	room := &models.Room{
		ID:      uuid.New(),
		Phase:   models.RoomPhaseWaiting,
		Members: []uuid.UUID{member},
	}
	repo := &memoryRepo{}
	return NewApp(repo, &stubRoomStore{room: room}), repo, room.ID, member
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	t.Run("member can send", func(t *testing.T) {
		t.Parallel()
		app, repo, roomID, member := newChatFixture()

		msg, err := app.SendMessage(context.Background(), roomID, member, "  hello  ")
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, roomID, msg.RoomID)
		assert.Len(t, repo.messages, 1)
	})

	t.Run("empty content rejected", func(t *testing.T) {
		t.Parallel()
		app, _, roomID, member := newChatFixture()
		_, err := app.SendMessage(context.Background(), roomID, member, "   ")
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	})

	t.Run("non member forbidden", func(t *testing.T) {
		t.Parallel()
		app, _, roomID, _ := newChatFixture()
		_, err := app.SendMessage(context.Background(), roomID, uuid.New(), "hi")
		assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
	})
}

func TestHistory(t *testing.T) {
	t.Parallel()
	app, _, roomID, member := newChatFixture()

	for i := 0; i < 5; i++ {
		_, err := app.SendMessage(context.Background(), roomID, member, "message")
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	messages, err := app.History(context.Background(), roomID, member, 3, nil)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
	// Newest first.
	assert.True(t, messages[0].CreatedAt.After(messages[2].CreatedAt))

	// Out-of-range limits fall back to the default.
	messages, err = app.History(context.Background(), roomID, member, 0, nil)
	require.NoError(t, err)
	assert.Len(t, messages, 5)

	// Pagination via the before cursor.
	cursor := messages[2].CreatedAt
	older, err := app.History(context.Background(), roomID, member, 50, &cursor)
	require.NoError(t, err)
	assert.Len(t, older, 2)

	// Non-members cannot read.
	_, err = app.History(context.Background(), roomID, uuid.New(), 10, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
}
