package turnclock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimeoutFunc is invoked for a room whose turn expiry is due. It must claim
// the expiry itself (Clock.ClaimExpiry) before acting, so a due room handed
// to several instances still advances exactly once.
type TimeoutFunc func(ctx context.Context, roomID uuid.UUID)

// Scheduler is the safety net behind the in-process timers: it sleeps until
// the soonest persisted expiry and dispatches due rooms to a worker pool.
// On a single instance it merely backs up the live timers; in a fleet it is
// what fires turns whose owning instance died.
type Scheduler struct {
	store      TurnStore
	clock      clockwork.Clock
	onDue      TimeoutFunc
	batchSize  int32
	instanceID string

	wakeCh     chan struct{}
	numWorkers int
	workCh     chan uuid.UUID

	// Track in-flight rooms to prevent duplicate processing by this
	// instance's own workers.
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

func NewScheduler(store TurnStore, clk clockwork.Clock, onDue TimeoutFunc, batchSize int32) *Scheduler {
	numWorkers := 8
	return &Scheduler{
		store:      store,
		clock:      clk,
		onDue:      onDue,
		batchSize:  batchSize,
		instanceID: uuid.NewString()[:8],
		wakeCh:     make(chan struct{}, 1),
		numWorkers: numWorkers,
		workCh:     make(chan uuid.UUID, numWorkers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Wake nudges the scheduler to re-read the next deadline, e.g. after a
// sooner expiry was scheduled on this instance.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled, sleeping until the next persisted
// deadline and firing due rooms through the worker pool.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Str("instance", s.instanceID).Int("workers", s.numWorkers).Msg("turn scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer func() {
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("turn scheduler stopped")
	}()

	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	timer := s.clock.NewTimer(0)
	defer timer.Stop()

	const idlePoll = 5 * time.Second

	for {
		select {
		case <-s.wakeCh:
		default:
		}

		next, err := s.store.NextDeadline(ctx)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error fetching next deadline")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if next == nil {
			// No turn running anywhere; idle until woken or the poll tick.
			timer.Reset(idlePoll)
			select {
			case <-timer.Chan():
				continue
			case <-s.wakeCh:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if wait := next.ExpiresAt.Sub(s.clock.Now()); wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.Chan():
			case <-s.wakeCh:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		due, err := s.store.DueRooms(ctx, s.clock.Now(), s.batchSize)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error fetching due rooms")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		for _, roomID := range due {
			s.inFlightMu.Lock()
			if s.inFlight[roomID] {
				s.inFlightMu.Unlock()
				continue
			}
			s.inFlight[roomID] = true
			s.inFlightMu.Unlock()

			select {
			case s.workCh <- roomID:
			case <-ctx.Done():
				s.inFlightMu.Lock()
				delete(s.inFlight, roomID)
				s.inFlightMu.Unlock()
				return nil
			}
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case roomID, ok := <-s.workCh:
			if !ok {
				return
			}
			log.Debug().
				Str("room_id", roomID.String()).
				Str("instance", s.instanceID).
				Int("worker_id", workerID).
				Msg("worker handling due turn")

			s.onDue(ctx, roomID)

			s.inFlightMu.Lock()
			delete(s.inFlight, roomID)
			s.inFlightMu.Unlock()
		}
	}
}
