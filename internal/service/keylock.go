package service

import (
	"sync"

	"github.com/google/uuid"
)

// KeyLock serializes mutating operations per booking ID. All state transitions
// on the same booking go through the same mutex, so concurrent callers observe
// either the already-applied state or an illegal-transition error, never a
// torn intermediate. Different bookings proceed fully in parallel.
//
// Entries are reference-counted and removed when the last holder unlocks, so
// the map does not grow with the total number of bookings ever seen.
type KeyLock struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[uuid.UUID]*lockEntry)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
// Callers must defer the returned function.
func (k *KeyLock) Lock(key uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
