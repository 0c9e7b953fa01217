// README: Counter store backed by PostgreSQL; one conditional UPDATE per operation.
package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ReserveSeats decrements availability in a single guarded UPDATE; the WHERE
// clause is the critical section, so concurrent reserves never oversell.
func (s *Store) ReserveSeats(ctx context.Context, rideID types.ID, seats int) (types.SeatCounters, error) {
	row := s.db.QueryRow(ctx, `
        UPDATE rides
        SET available_seats = available_seats - $2,
            booked_seats    = booked_seats + $2
        WHERE id = $1 AND available_seats >= $2
        RETURNING total_seats, available_seats, booked_seats`,
		string(rideID), seats,
	)
	var c types.SeatCounters
	err := row.Scan(&c.Total, &c.Available, &c.Booked)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.SeatCounters{}, s.classifyMiss(ctx, rideID)
	}
	if err != nil {
		return types.SeatCounters{}, err
	}
	return c, nil
}

func (s *Store) ReleaseSeats(ctx context.Context, rideID types.ID, seats int) (types.SeatCounters, error) {
	row := s.db.QueryRow(ctx, `
        UPDATE rides
        SET available_seats = available_seats + $2,
            booked_seats    = booked_seats - $2
        WHERE id = $1 AND booked_seats >= $2
        RETURNING total_seats, available_seats, booked_seats`,
		string(rideID), seats,
	)
	var c types.SeatCounters
	err := row.Scan(&c.Total, &c.Available, &c.Booked)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.SeatCounters{}, s.classifyMiss(ctx, rideID)
	}
	if err != nil {
		return types.SeatCounters{}, err
	}
	return c, nil
}

// classifyMiss tells a missing ride apart from a failed guard.
func (s *Store) classifyMiss(ctx context.Context, rideID types.ID) error {
	row := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, string(rideID))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrUnknownRide
	}
	return ErrInsufficientSeats
}
