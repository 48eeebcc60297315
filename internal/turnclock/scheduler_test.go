package turnclock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFiresDueRoom(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewRealClock()
	store := NewMemoryStore()
	roomID := uuid.New()
	expiresAt := clk.Now().Add(-time.Second)
	require.NoError(t, store.SaveTurn(context.Background(), turnState(roomID, 0, time.Minute, &expiresAt)))

	fired := make(chan uuid.UUID, 1)
	sched := NewScheduler(store, clk, func(ctx context.Context, id uuid.UUID) {
		// Claim like the real handler so the scheduler stops re-dispatching.
		claimed, err := store.ClaimExpiry(ctx, id, clk.Now())
		assert.NoError(t, err)
		if claimed {
			fired <- id
		}
	}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	select {
	case id := <-fired:
		assert.Equal(t, roomID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not dispatch due room")
	}

	cancel()
	<-done
}

func TestSchedulerWakeInterruptsIdle(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewRealClock()
	store := NewMemoryStore()

	var mu sync.Mutex
	var seen []uuid.UUID
	sched := NewScheduler(store, clk, func(ctx context.Context, id uuid.UUID) {
		_, _ = store.ClaimExpiry(ctx, id, clk.Now())
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	// The store starts empty, so the scheduler idles. Persisting a due turn
	// and waking it must get the room dispatched well before the idle poll.
	roomID := uuid.New()
	expiresAt := clk.Now().Add(-time.Millisecond)
	require.NoError(t, store.SaveTurn(context.Background(), turnState(roomID, 0, time.Minute, &expiresAt)))
	sched.Wake()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == roomID
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
