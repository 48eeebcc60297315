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

	"github.com/daniiar-pro/game-alias/internal/models"
)

func turnState(roomID uuid.UUID, teamIndex int, duration time.Duration, expiresAt *time.Time) models.TurnState {
	return models.TurnState{
		RoomID:    roomID,
		TeamIndex: teamIndex,
		Duration:  duration,
		ExpiresAt: expiresAt,
	}
}

func newTestClock(t *testing.T) (*Clock, *clockwork.FakeClock, *MemoryStore) {
	t.Helper()
	fake := clockwork.NewFakeClock()
	store := NewMemoryStore()
	return NewClock(fake, store), fake, store
}

func waitFired(t *testing.T, fired <-chan struct{}) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry continuation did not run")
	}
}

func assertNotFired(t *testing.T, fired <-chan struct{}) {
	t.Helper()
	select {
	case <-fired:
		t.Fatal("expiry continuation ran unexpectedly")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClockStartFiresOnExpiry(t *testing.T) {
	t.Parallel()
	clock, fake, _ := newTestClock(t)
	roomID := uuid.New()
	fired := make(chan struct{}, 1)

	state, err := clock.Start(context.Background(), roomID, 0, 60*time.Second, func() {
		fired <- struct{}{}
	})
	require.NoError(t, err)
	require.NotNil(t, state.ExpiresAt)
	assert.Equal(t, 60, state.SecondsLeft(fake.Now()))

	fake.Advance(59 * time.Second)
	assertNotFired(t, fired)
	assert.Equal(t, 1, state.SecondsLeft(fake.Now()))

	fake.Advance(time.Second)
	waitFired(t, fired)
}

func TestClockRestartReplacesPendingExpiry(t *testing.T) {
	t.Parallel()
	clock, fake, _ := newTestClock(t)
	roomID := uuid.New()
	firstFired := make(chan struct{}, 1)
	secondFired := make(chan struct{}, 1)

	_, err := clock.Start(context.Background(), roomID, 0, 30*time.Second, func() {
		firstFired <- struct{}{}
	})
	require.NoError(t, err)

	// Restarting before expiry must silence the first timer entirely.
	_, err = clock.Start(context.Background(), roomID, 1, 30*time.Second, func() {
		secondFired <- struct{}{}
	})
	require.NoError(t, err)

	fake.Advance(30 * time.Second)
	waitFired(t, secondFired)
	assertNotFired(t, firstFired)
}

func TestClockStopPausesButKeepsState(t *testing.T) {
	t.Parallel()
	clock, fake, store := newTestClock(t)
	roomID := uuid.New()
	fired := make(chan struct{}, 1)

	_, err := clock.Start(context.Background(), roomID, 2, 45*time.Second, func() {
		fired <- struct{}{}
	})
	require.NoError(t, err)
	require.NoError(t, clock.Stop(context.Background(), roomID))

	fake.Advance(time.Hour)
	assertNotFired(t, fired)

	// Team index and duration survive for the next start.
	state, ok := clock.Get(roomID)
	require.True(t, ok)
	assert.Equal(t, 2, state.TeamIndex)
	assert.Equal(t, 45*time.Second, state.Duration)
	assert.Nil(t, state.ExpiresAt)
	assert.Equal(t, 0, state.SecondsLeft(fake.Now()))

	// The paused state is persisted too.
	stored, err := store.GetTurn(context.Background(), roomID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ExpiresAt)
}

func TestClockStopWithoutLocalEntryClearsStoredExpiry(t *testing.T) {
	t.Parallel()
	fake := clockwork.NewFakeClock()
	store := NewMemoryStore()

	// Simulate a turn started by another instance: store row, no local timer.
	expiresAt := fake.Now().Add(30 * time.Second)
	require.NoError(t, store.SaveTurn(context.Background(), turnState(uuid.New(), 1, 30*time.Second, &expiresAt)))

	deadline, err := store.NextDeadline(context.Background())
	require.NoError(t, err)
	require.NotNil(t, deadline)

	clock := NewClock(fake, store)
	require.NoError(t, clock.Stop(context.Background(), deadline.RoomID))

	stored, err := store.GetTurn(context.Background(), deadline.RoomID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ExpiresAt)
}

func TestClockClearCancelsAndDeletes(t *testing.T) {
	t.Parallel()
	clock, fake, store := newTestClock(t)
	roomID := uuid.New()
	fired := make(chan struct{}, 1)

	_, err := clock.Start(context.Background(), roomID, 0, 10*time.Second, func() {
		fired <- struct{}{}
	})
	require.NoError(t, err)
	require.NoError(t, clock.Clear(context.Background(), roomID))

	fake.Advance(time.Minute)
	assertNotFired(t, fired)

	_, ok := clock.Get(roomID)
	assert.False(t, ok)

	stored, err := store.GetTurn(context.Background(), roomID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestClockAdvanceWraps(t *testing.T) {
	t.Parallel()
	clock, _, _ := newTestClock(t)
	roomID := uuid.New()

	_, err := clock.Start(context.Background(), roomID, 0, time.Minute, func() {})
	require.NoError(t, err)

	next, ok := clock.Advance(roomID, 3)
	require.True(t, ok)
	assert.Equal(t, 1, next)

	next, _ = clock.Advance(roomID, 3)
	assert.Equal(t, 2, next)

	next, _ = clock.Advance(roomID, 3)
	assert.Equal(t, 0, next)
}

func TestClockAdvanceUnknownRoom(t *testing.T) {
	t.Parallel()
	clock, _, _ := newTestClock(t)
	_, ok := clock.Advance(uuid.New(), 3)
	assert.False(t, ok)
}

func TestClockLookupFallsBackToStore(t *testing.T) {
	t.Parallel()
	fake := clockwork.NewFakeClock()
	store := NewMemoryStore()
	roomID := uuid.New()
	expiresAt := fake.Now().Add(20 * time.Second)
	require.NoError(t, store.SaveTurn(context.Background(), turnState(roomID, 1, 20*time.Second, &expiresAt)))

	clock := NewClock(fake, store)
	state, ok, err := clock.Lookup(context.Background(), roomID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, state.TeamIndex)

	_, ok, err = clock.Lookup(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimExpiryIsExclusive(t *testing.T) {
	t.Parallel()
	clock, fake, _ := newTestClock(t)
	roomID := uuid.New()

	_, err := clock.Start(context.Background(), roomID, 0, 10*time.Second, func() {})
	require.NoError(t, err)

	// Not due yet.
	claimed, err := clock.ClaimExpiry(context.Background(), roomID)
	require.NoError(t, err)
	assert.False(t, claimed)

	fake.Advance(10 * time.Second)

	claimed, err = clock.ClaimExpiry(context.Background(), roomID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim for the same expiry loses.
	claimed, err = clock.ClaimExpiry(context.Background(), roomID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClockConcurrentStartsKeepStoreAndEntryInSync(t *testing.T) {
	t.Parallel()
	clock, fake, store := newTestClock(t)
	roomID := uuid.New()

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(teamIndex int) {
			defer wg.Done()
			_, err := clock.Start(context.Background(), roomID, teamIndex, time.Duration(teamIndex+1)*time.Second, func() {})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Whichever call won, the persisted row and the local entry must
	// describe the same turn.
	local, ok := clock.Get(roomID)
	require.True(t, ok)
	stored, err := store.GetTurn(context.Background(), roomID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, local.TeamIndex, stored.TeamIndex)
	assert.Equal(t, local.Duration, stored.Duration)
	require.NotNil(t, local.ExpiresAt)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, local.ExpiresAt.Equal(*stored.ExpiresAt))
	assert.Equal(t, int(local.Duration/time.Second), local.SecondsLeft(fake.Now()))
}

type failingStore struct {
	TurnStore
	getErr error
}

func (s *failingStore) GetTurn(context.Context, uuid.UUID) (*models.TurnState, error) {
	return nil, s.getErr
}

func TestClockStopWrapsStoreErrors(t *testing.T) {
	t.Parallel()
	fake := clockwork.NewFakeClock()
	store := &failingStore{TurnStore: NewMemoryStore(), getErr: assert.AnError}
	clock := NewClock(fake, store)

	err := clock.Stop(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to load turn")
}

func TestClockWakesSchedulerOnStart(t *testing.T) {
	t.Parallel()
	clock, _, _ := newTestClock(t)
	woke := make(chan struct{}, 1)
	clock.SetWake(func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	})

	_, err := clock.Start(context.Background(), uuid.New(), 0, time.Minute, func() {})
	require.NoError(t, err)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("wake callback not invoked")
	}
}
