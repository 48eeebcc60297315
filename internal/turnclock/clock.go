// Package turnclock tracks which team is on the clock for each room and
// fires a caller-supplied continuation when a turn expires. State is data
// (team index, duration, expiry) persisted through a TurnStore; the
// in-process timer is only the fast path for the instance that started the
// turn. The recovery scheduler picks up expiries whose owning instance is
// gone, and an atomic store claim keeps every expiry at-most-once across
// the fleet.
package turnclock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/daniiar-pro/game-alias/internal/models"
)

// Clock is the per-room single-active-timer abstraction. At most one live
// timer exists per room; starting, stopping, or clearing a turn atomically
// invalidates any previously scheduled expiry.
type Clock struct {
	clock clockwork.Clock
	store TurnStore
	wake  func() // nudges the recovery scheduler, may be nil

	mu    sync.Mutex
	turns map[uuid.UUID]*turnEntry
	ops   map[uuid.UUID]*sync.Mutex
}

type turnEntry struct {
	state  models.TurnState
	timer  clockwork.Timer
	cancel chan struct{}
	gen    uint64
}

func NewClock(clk clockwork.Clock, store TurnStore) *Clock {
	return &Clock{
		clock: clk,
		store: store,
		turns: make(map[uuid.UUID]*turnEntry),
		ops:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockRoom serializes the persist-then-arm sequence per room, so the store
// row and the in-memory entry always describe the same turn even when
// callers race on the Clock directly.
func (c *Clock) lockRoom(roomID uuid.UUID) func() {
	c.mu.Lock()
	l, ok := c.ops[roomID]
	if !ok {
		l = &sync.Mutex{}
		c.ops[roomID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// SetWake registers a callback invoked whenever a new expiry is scheduled,
// so the recovery scheduler can re-evaluate its sleep. Must be called before
// the clock is used.
func (c *Clock) SetWake(wake func()) {
	c.wake = wake
}

// Start begins a turn for the room. Any pending expiry for the room is
// cancelled first, so the newest call always wins. onExpire runs at most
// once, and only if no Start/Stop/Clear invalidates it before the timer
// fires.
func (c *Clock) Start(ctx context.Context, roomID uuid.UUID, teamIndex int, duration time.Duration, onExpire func()) (models.TurnState, error) {
	unlock := c.lockRoom(roomID)
	defer unlock()

	expiresAt := c.clock.Now().Add(duration)
	state := models.TurnState{
		RoomID:    roomID,
		TeamIndex: teamIndex,
		Duration:  duration,
		ExpiresAt: &expiresAt,
	}

	// Persist before arming so another instance can recover this expiry if
	// we die right after returning.
	if err := c.store.SaveTurn(ctx, state); err != nil {
		return models.TurnState{}, fmt.Errorf("failed to persist turn: %w", err)
	}

	c.mu.Lock()
	entry := c.turns[roomID]
	if entry == nil {
		entry = &turnEntry{}
		c.turns[roomID] = entry
	}
	c.invalidateLocked(entry)
	entry.gen++
	entry.state = state
	entry.timer = c.clock.NewTimer(duration)
	entry.cancel = make(chan struct{})
	gen := entry.gen
	timer := entry.timer
	cancel := entry.cancel
	c.mu.Unlock()

	go c.watch(roomID, gen, timer, cancel, onExpire)

	if c.wake != nil {
		c.wake()
	}

	log.Debug().
		Str("room_id", roomID.String()).
		Int("team_index", teamIndex).
		Time("expires_at", expiresAt).
		Msg("turn started")
	return state, nil
}

// watch waits for the timer and hands control to onExpire unless the turn
// was replaced or cancelled first.
func (c *Clock) watch(roomID uuid.UUID, gen uint64, timer clockwork.Timer, cancel chan struct{}, onExpire func()) {
	select {
	case <-timer.Chan():
		if !c.consumeFire(roomID, gen) {
			return
		}
		onExpire()
	case <-cancel:
	}
}

// consumeFire checks, under the clock lock, that the fired timer is still
// the current one for the room. A concurrent Start/Stop/Clear bumps the
// generation and makes the fire a no-op.
func (c *Clock) consumeFire(roomID uuid.UUID, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.turns[roomID]
	if !ok || entry.gen != gen {
		return false
	}
	entry.timer = nil
	return true
}

// Stop cancels the pending expiry but keeps the team index and duration so
// a later Start can reuse them (pause semantics).
func (c *Clock) Stop(ctx context.Context, roomID uuid.UUID) error {
	unlock := c.lockRoom(roomID)
	defer unlock()

	c.mu.Lock()
	entry, ok := c.turns[roomID]
	if !ok {
		c.mu.Unlock()
		// The turn may live on another instance; clear the shared expiry so
		// no one fires it.
		state, err := c.store.GetTurn(ctx, roomID)
		if err != nil {
			return fmt.Errorf("failed to load turn: %w", err)
		}
		if state == nil {
			return nil
		}
		state.ExpiresAt = nil
		if err := c.store.SaveTurn(ctx, *state); err != nil {
			return fmt.Errorf("failed to persist stopped turn: %w", err)
		}
		return nil
	}
	c.invalidateLocked(entry)
	entry.gen++
	entry.state.ExpiresAt = nil
	state := entry.state
	c.mu.Unlock()

	if err := c.store.SaveTurn(ctx, state); err != nil {
		return fmt.Errorf("failed to persist stopped turn: %w", err)
	}
	log.Debug().Str("room_id", roomID.String()).Msg("turn stopped")
	return nil
}

// Advance moves the stored team index to the next team modulo totalTeams.
// It does not restart the timer; callers follow up with Start. Reports false
// when the room has no turn state on this instance.
func (c *Clock) Advance(roomID uuid.UUID, totalTeams int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.turns[roomID]
	if !ok || totalTeams <= 0 {
		return 0, false
	}
	entry.state.TeamIndex = (entry.state.TeamIndex + 1) % totalTeams
	return entry.state.TeamIndex, true
}

// Get returns this instance's view of the room's turn state.
func (c *Clock) Get(roomID uuid.UUID) (models.TurnState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.turns[roomID]
	if !ok {
		return models.TurnState{}, false
	}
	return entry.state, true
}

// Lookup returns the room's turn state, falling back to the shared store
// when this instance holds no local handle (e.g. after a failover).
func (c *Clock) Lookup(ctx context.Context, roomID uuid.UUID) (models.TurnState, bool, error) {
	if state, ok := c.Get(roomID); ok {
		return state, true, nil
	}
	state, err := c.store.GetTurn(ctx, roomID)
	if err != nil {
		return models.TurnState{}, false, err
	}
	if state == nil {
		return models.TurnState{}, false, nil
	}
	return *state, true, nil
}

// Clear cancels any pending expiry and removes the turn state entirely.
// Used when a game ends.
func (c *Clock) Clear(ctx context.Context, roomID uuid.UUID) error {
	unlock := c.lockRoom(roomID)
	defer unlock()

	c.mu.Lock()
	if entry, ok := c.turns[roomID]; ok {
		c.invalidateLocked(entry)
		entry.gen++
		delete(c.turns, roomID)
	}
	c.mu.Unlock()

	if err := c.store.DeleteTurn(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete turn: %w", err)
	}
	log.Debug().Str("room_id", roomID.String()).Msg("turn cleared")
	return nil
}

// ClaimExpiry consumes a due expiry for the room through the shared store.
// Exactly one caller across all instances wins a given expiry; the losers
// must treat their fire as stale and no-op.
func (c *Clock) ClaimExpiry(ctx context.Context, roomID uuid.UUID) (bool, error) {
	return c.store.ClaimExpiry(ctx, roomID, c.clock.Now())
}

// invalidateLocked stops and detaches the entry's live timer, releasing its
// watch goroutine. Callers hold c.mu and bump entry.gen afterwards.
func (c *Clock) invalidateLocked(entry *turnEntry) {
	if entry.timer != nil {
		stopAndDrainTimer(entry.timer)
		entry.timer = nil
	}
	if entry.cancel != nil {
		close(entry.cancel)
		entry.cancel = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already
// fired, per the time.Timer.Stop contract.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
