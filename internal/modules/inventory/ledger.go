// README: Seat inventory ledger; the only path that mutates a ride's seat counters.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"carpool/internal/types"
)

var (
	ErrInsufficientSeats = errors.New("not enough seats available")
	ErrUnknownRide       = errors.New("unknown ride")
	ErrBadSeatCount      = errors.New("seat count must be positive")
)

// CounterStore applies one reserve or release as a single atomic unit against a
// ride's counters. Implementations serialize per ride: a conditional UPDATE in
// the Postgres store, a per-ride mutex in the memory store. No caller observes
// an intermediate state.
type CounterStore interface {
	ReserveSeats(ctx context.Context, rideID types.ID, seats int) (types.SeatCounters, error)
	ReleaseSeats(ctx context.Context, rideID types.ID, seats int) (types.SeatCounters, error)
}

// Ledger owns seat-counter mutation. Ride and booking lifecycle managers go
// through it so under concurrent reserves at most Total seats are ever granted.
type Ledger struct {
	store CounterStore
}

func NewLedger(store CounterStore) *Ledger {
	return &Ledger{store: store}
}

// Reserve takes seats from the ride's availability. The returned counters are
// the state immediately after the grant; Available == 0 tells the caller the
// ride just went full.
func (l *Ledger) Reserve(ctx context.Context, rideID types.ID, seats int) (types.SeatCounters, error) {
	if seats <= 0 {
		return types.SeatCounters{}, ErrBadSeatCount
	}
	c, err := l.store.ReserveSeats(ctx, rideID, seats)
	if err != nil {
		return types.SeatCounters{}, err
	}
	if !c.Consistent() {
		return c, fmt.Errorf("ride %s counters inconsistent after reserve: %+v", rideID, c)
	}
	return c, nil
}

// Release gives seats back. The inverse of Reserve; never drives Available
// above Total.
func (l *Ledger) Release(ctx context.Context, rideID types.ID, seats int) (types.SeatCounters, error) {
	if seats <= 0 {
		return types.SeatCounters{}, ErrBadSeatCount
	}
	c, err := l.store.ReleaseSeats(ctx, rideID, seats)
	if err != nil {
		return types.SeatCounters{}, err
	}
	if !c.Consistent() {
		return c, fmt.Errorf("ride %s counters inconsistent after release: %+v", rideID, c)
	}
	return c, nil
}
