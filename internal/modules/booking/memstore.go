// README: In-memory booking store mirroring the Postgres compare-and-set semantics.
package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"carpool/internal/types"
)

type MemStore struct {
	mu       sync.RWMutex
	bookings map[types.ID]*Booking
}

func NewMemStore() *MemStore {
	return &MemStore{bookings: make(map[types.ID]*Booking)}
}

func (s *MemStore) Create(_ context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.bookings {
		if other.RideID == b.RideID && other.PassengerID == b.PassengerID && IsActive(other.Status) {
			return ErrDuplicate
		}
	}
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id types.ID) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != from || b.StatusVersion != version {
		return false, nil
	}
	b.Status = to
	b.StatusVersion++
	b.UpdatedAt = upd.At
	if upd.Reason != nil {
		b.CancelReason = upd.Reason
	}
	if upd.CancelledBy != nil {
		b.CancelledBy = upd.CancelledBy
	}
	if upd.PaymentStatus != nil {
		b.PaymentStatus = *upd.PaymentStatus
	}
	if upd.RefundAmount != nil {
		m := *upd.RefundAmount
		b.RefundAmount = &m
	}
	if upd.CancellationFee != nil {
		m := *upd.CancellationFee
		b.CancellationFee = &m
	}
	if upd.ClearExpiry {
		b.ExpiresAt = nil
	}
	at := upd.At
	switch to {
	case StatusConfirmed:
		b.ConfirmedAt = &at
	case StatusInProgress:
		b.PickedUpAt = &at
	case StatusCompleted:
		b.CompletedAt = &at
	case StatusCancelled, StatusNoShow:
		b.CancelledAt = &at
	}
	return true, nil
}

func (s *MemStore) SetCheckIn(_ context.Context, id types.ID, version int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != StatusConfirmed || b.StatusVersion != version || b.CheckedInAt != nil {
		return false, nil
	}
	b.CheckedInAt = &at
	b.StatusVersion++
	b.UpdatedAt = at
	return true, nil
}

func (s *MemStore) SetDropoff(_ context.Context, id types.ID, version int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != StatusInProgress || b.StatusVersion != version || b.DroppedOffAt != nil {
		return false, nil
	}
	b.DroppedOffAt = &at
	b.StatusVersion++
	b.UpdatedAt = at
	return true, nil
}

func (s *MemStore) SetPayment(_ context.Context, id types.ID, version int, to PaymentStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.StatusVersion != version || b.Status == StatusCancelled || b.Status == StatusNoShow {
		return false, nil
	}
	b.PaymentStatus = to
	b.StatusVersion++
	b.UpdatedAt = at
	return true, nil
}

func (s *MemStore) HasActiveByRideAndPassenger(_ context.Context, rideID, passengerID types.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bookings {
		if b.RideID == rideID && b.PassengerID == passengerID && IsActive(b.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) ActiveRefs(_ context.Context, rideID types.ID) ([]types.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ID
	for _, b := range s.bookings {
		if b.RideID == rideID && IsActive(b.Status) {
			out = append(out, b.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemStore) ListByRide(_ context.Context, rideID types.ID) ([]*Booking, error) {
	return s.filter(func(b *Booking) bool { return b.RideID == rideID }), nil
}

func (s *MemStore) ListByPassenger(_ context.Context, passengerID types.ID) ([]*Booking, error) {
	return s.filter(func(b *Booking) bool { return b.PassengerID == passengerID }), nil
}

func (s *MemStore) ListExpiredPending(_ context.Context, now time.Time) ([]*Booking, error) {
	return s.filter(func(b *Booking) bool {
		return b.Status == StatusPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now)
	}), nil
}

func (s *MemStore) DueReminders(_ context.Context, from, to time.Time) ([]*Booking, error) {
	return s.filter(func(b *Booking) bool {
		return b.Status == StatusConfirmed && b.DepartureAt.After(from) && !b.DepartureAt.After(to)
	}), nil
}

func (s *MemStore) SumActiveSeatsByRide(_ context.Context, rideID types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, b := range s.bookings {
		if b.RideID == rideID && IsActive(b.Status) {
			sum += b.Seats
		}
	}
	return sum, nil
}

func (s *MemStore) filter(keep func(*Booking) bool) []*Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Booking
	for _, b := range s.bookings {
		if keep(b) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
