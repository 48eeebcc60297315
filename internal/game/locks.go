package game

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes all mutating operations for one room. There is no
// global lock: two rooms never contend, and per-room read-then-write
// sequences against the game and turn state behave as one atomic unit.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// Lock acquires the mutex for the key and returns its unlock func.
func (k *keyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uuid.UUID]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
