// README: In-memory ride store; one mutex per ride row covers counters and status.
package ride

import (
	"context"
	"sync"

	"carpool/internal/modules/inventory"
	"carpool/internal/types"
)

type MemStore struct {
	mu    sync.RWMutex
	rides map[types.ID]*rideRow
}

type rideRow struct {
	mu sync.Mutex
	r  Ride
}

func NewMemStore() *MemStore {
	return &MemStore{rides: make(map[types.ID]*rideRow)}
}

func (s *MemStore) row(id types.ID) (*rideRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rides[id]
	return row, ok
}

func (s *MemStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rides[r.ID] = &rideRow{r: *r}
	return nil
}

func (s *MemStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	row, ok := s.row(id)
	if !ok {
		return nil, ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	cp := row.r
	return &cp, nil
}

func (s *MemStore) ListByDriver(_ context.Context, driverID types.ID) ([]*Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Ride
	for _, row := range s.rides {
		row.mu.Lock()
		if row.r.DriverID == driverID {
			cp := row.r
			out = append(out, &cp)
		}
		row.mu.Unlock()
	}
	return out, nil
}

func (s *MemStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error) {
	row, ok := s.row(id)
	if !ok {
		return false, ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.r.Status != from || row.r.StatusVersion != version {
		return false, nil
	}
	row.r.Status = to
	row.r.StatusVersion++
	row.r.UpdatedAt = upd.At
	if upd.Reason != nil {
		row.r.CancelReason = upd.Reason
	}
	at := upd.At
	switch to {
	case StatusActive:
		if row.r.PublishedAt == nil {
			row.r.PublishedAt = &at
		}
	case StatusInProgress:
		row.r.StartedAt = &at
	case StatusCompleted:
		row.r.CompletedAt = &at
	case StatusCancelled:
		row.r.CancelledAt = &at
	}
	return true, nil
}

func (s *MemStore) UpdateOffer(_ context.Context, r *Ride) (bool, error) {
	row, ok := s.row(r.ID)
	if !ok {
		return false, ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.r.StatusVersion != r.StatusVersion || row.r.Seats.Booked > r.Seats.Total {
		return false, nil
	}
	booked := row.r.Seats.Booked
	status := row.r.Status
	version := row.r.StatusVersion
	updated := *r
	updated.Status = status
	updated.StatusVersion = version + 1
	updated.Seats = types.SeatCounters{Total: r.Seats.Total, Available: r.Seats.Total - booked, Booked: booked}
	updated.PublishedAt = row.r.PublishedAt
	updated.StartedAt = row.r.StartedAt
	updated.CompletedAt = row.r.CompletedAt
	updated.CancelledAt = row.r.CancelledAt
	updated.CreatedAt = row.r.CreatedAt
	row.r = updated
	return true, nil
}

func (s *MemStore) SyncCapacityStatus(_ context.Context, id types.ID) (Status, error) {
	row, ok := s.row(id)
	if !ok {
		return "", ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	switch {
	case row.r.Status == StatusActive && row.r.Seats.Available == 0:
		row.r.Status = StatusFull
		row.r.StatusVersion++
	case row.r.Status == StatusFull && row.r.Seats.Available > 0:
		row.r.Status = StatusActive
		row.r.StatusVersion++
	}
	return row.r.Status, nil
}

func (s *MemStore) ReserveSeats(_ context.Context, rideID types.ID, seats int) (types.SeatCounters, error) {
	row, ok := s.row(rideID)
	if !ok {
		return types.SeatCounters{}, inventory.ErrUnknownRide
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.r.Seats.Available < seats {
		return types.SeatCounters{}, inventory.ErrInsufficientSeats
	}
	row.r.Seats.Available -= seats
	row.r.Seats.Booked += seats
	return row.r.Seats, nil
}

func (s *MemStore) ReleaseSeats(_ context.Context, rideID types.ID, seats int) (types.SeatCounters, error) {
	row, ok := s.row(rideID)
	if !ok {
		return types.SeatCounters{}, inventory.ErrUnknownRide
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.r.Seats.Booked < seats {
		return types.SeatCounters{}, inventory.ErrBadSeatCount
	}
	row.r.Seats.Available += seats
	row.r.Seats.Booked -= seats
	return row.r.Seats, nil
}
