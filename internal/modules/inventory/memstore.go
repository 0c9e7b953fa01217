// README: In-memory counter store with a mutex per ride.
package inventory

import (
	"context"
	"sync"

	"carpool/internal/types"
)

// MemStore keeps seat counters in memory. Each ride gets its own mutex, so
// concurrent reserves on one ride are strictly ordered while different rides
// proceed independently.
type MemStore struct {
	mu    sync.RWMutex
	rides map[types.ID]*counterEntry
}

type counterEntry struct {
	mu sync.Mutex
	c  types.SeatCounters
}

func NewMemStore() *MemStore {
	return &MemStore{rides: make(map[types.ID]*counterEntry)}
}

// Add registers a ride with total seats, all available.
func (s *MemStore) Add(rideID types.ID, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rides[rideID] = &counterEntry{c: types.SeatCounters{Total: total, Available: total}}
}

func (s *MemStore) entry(rideID types.ID) (*counterEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rides[rideID]
	return e, ok
}

func (s *MemStore) ReserveSeats(_ context.Context, rideID types.ID, seats int) (types.SeatCounters, error) {
	e, ok := s.entry(rideID)
	if !ok {
		return types.SeatCounters{}, ErrUnknownRide
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.Available < seats {
		return types.SeatCounters{}, ErrInsufficientSeats
	}
	e.c.Available -= seats
	e.c.Booked += seats
	return e.c, nil
}

func (s *MemStore) ReleaseSeats(_ context.Context, rideID types.ID, seats int) (types.SeatCounters, error) {
	e, ok := s.entry(rideID)
	if !ok {
		return types.SeatCounters{}, ErrUnknownRide
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.Booked < seats {
		return types.SeatCounters{}, ErrBadSeatCount
	}
	e.c.Available += seats
	e.c.Booked -= seats
	return e.c, nil
}

// Counters returns the current state, for assertions.
func (s *MemStore) Counters(rideID types.ID) (types.SeatCounters, bool) {
	e, ok := s.entry(rideID)
	if !ok {
		return types.SeatCounters{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c, true
}
