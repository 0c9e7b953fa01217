// README: Ride store backed by PostgreSQL with optimistic status updates.
package ride

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/modules/inventory"
	"carpool/internal/types"
)

// StatusUpdate carries the side fields written together with a transition.
type StatusUpdate struct {
	At     time.Time
	Reason *string
}

// Store is the persistence contract for ride offers. It embeds the ledger's
// counter contract: the rides row owns the seat counters, so reserve and
// release land on the same record as the lifecycle fields.
type Store interface {
	inventory.CounterStore
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	ListByDriver(ctx context.Context, driverID types.ID) ([]*Ride, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error)
	UpdateOffer(ctx context.Context, r *Ride) (bool, error)
	SyncCapacityStatus(ctx context.Context, id types.ID) (Status, error)
}

type PGStore struct {
	db *pgxpool.Pool
	*inventory.Store
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db, Store: inventory.NewStore(db)}
}

const rideColumns = `
    id, driver_id, vehicle_id,
    origin_lat, origin_lng, destination_lat, destination_lng,
    origin_name, destination_name,
    departure_at, total_seats, available_seats, booked_seats,
    price_per_seat, currency, distance_km,
    status, status_version, recurrence_days, recurrence_until,
    cancellation_reason, created_at, updated_at,
    published_at, started_at, completed_at, cancelled_at`

func (s *PGStore) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO rides (`+rideColumns+`) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
            $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
        )`,
		string(r.ID), string(r.DriverID), string(r.VehicleID),
		r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng,
		r.OriginName, r.DestinationName,
		r.DepartureAt, r.Seats.Total, r.Seats.Available, r.Seats.Booked,
		r.PricePerSeat.Amount, r.PricePerSeat.Currency, r.DistanceKm,
		string(r.Status), r.StatusVersion, encodeWeekdays(r.Recurrence), recurrenceUntil(r.Recurrence),
		r.CancelReason, r.CreatedAt, r.UpdatedAt,
		r.PublishedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PGStore) ListByDriver(ctx context.Context, driverID types.ID) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+rideColumns+` FROM rides
        WHERE driver_id = $1
        ORDER BY departure_at`, string(driverID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET status = $1,
            status_version = status_version + 1,
            updated_at = $2,
            cancellation_reason = COALESCE($3, cancellation_reason),
            published_at = CASE WHEN $1 = 'active'      AND published_at IS NULL THEN $2 ELSE published_at END,
            started_at   = CASE WHEN $1 = 'in_progress' THEN $2 ELSE started_at END,
            completed_at = CASE WHEN $1 = 'completed'   THEN $2 ELSE completed_at END,
            cancelled_at = CASE WHEN $1 = 'cancelled'   THEN $2 ELSE cancelled_at END
        WHERE id = $4 AND status = $5 AND status_version = $6`,
		string(to), upd.At, upd.Reason,
		string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateOffer rewrites the mutable offer fields under the version guard. A
// seat-count change resizes availability in the same statement; it cannot go
// below what is already booked.
func (s *PGStore) UpdateOffer(ctx context.Context, r *Ride) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET origin_lat = $1, origin_lng = $2, destination_lat = $3, destination_lng = $4,
            origin_name = $5, destination_name = $6,
            departure_at = $7,
            total_seats = $8,
            available_seats = $8 - booked_seats,
            price_per_seat = $9, currency = $10, distance_km = $11,
            recurrence_days = $12, recurrence_until = $13,
            status_version = status_version + 1,
            updated_at = $14
        WHERE id = $15 AND status_version = $16 AND booked_seats <= $8`,
		r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng,
		r.OriginName, r.DestinationName,
		r.DepartureAt,
		r.Seats.Total,
		r.PricePerSeat.Amount, r.PricePerSeat.Currency, r.DistanceKm,
		encodeWeekdays(r.Recurrence), recurrenceUntil(r.Recurrence),
		r.UpdatedAt,
		string(r.ID), r.StatusVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SyncCapacityStatus flips active↔full from the current counters in one
// statement, so the flip cannot race the reserve that caused it.
func (s *PGStore) SyncCapacityStatus(ctx context.Context, id types.ID) (Status, error) {
	row := s.db.QueryRow(ctx, `
        UPDATE rides
        SET status = CASE
                WHEN status = 'active' AND available_seats = 0 THEN 'full'
                WHEN status = 'full'   AND available_seats > 0 THEN 'active'
                ELSE status
            END,
            status_version = status_version + 1
        WHERE id = $1 AND status IN ('active', 'full')
        RETURNING status`, string(id))
	var st string
	err := row.Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		// Ride missing or already past the bookable states; nothing to flip.
		r, getErr := s.Get(ctx, id)
		if getErr != nil {
			return "", getErr
		}
		return r.Status, nil
	}
	if err != nil {
		return "", err
	}
	return Status(st), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*Ride, error) {
	var r Ride
	var status string
	var days *string
	var until *time.Time
	err := row.Scan(
		&r.ID, &r.DriverID, &r.VehicleID,
		&r.Origin.Lat, &r.Origin.Lng, &r.Destination.Lat, &r.Destination.Lng,
		&r.OriginName, &r.DestinationName,
		&r.DepartureAt, &r.Seats.Total, &r.Seats.Available, &r.Seats.Booked,
		&r.PricePerSeat.Amount, &r.PricePerSeat.Currency, &r.DistanceKm,
		&status, &r.StatusVersion, &days, &until,
		&r.CancelReason, &r.CreatedAt, &r.UpdatedAt,
		&r.PublishedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.Recurrence = decodeRecurrence(days, until)
	return &r, nil
}

func encodeWeekdays(rec *Recurrence) *string {
	if rec == nil || len(rec.Weekdays) == 0 {
		return nil
	}
	parts := make([]string, len(rec.Weekdays))
	for i, wd := range rec.Weekdays {
		parts[i] = strconv.Itoa(int(wd))
	}
	s := strings.Join(parts, ",")
	return &s
}

func recurrenceUntil(rec *Recurrence) *time.Time {
	if rec == nil {
		return nil
	}
	t := rec.Until
	return &t
}

func decodeRecurrence(days *string, until *time.Time) *Recurrence {
	if days == nil || until == nil {
		return nil
	}
	var wds []time.Weekday
	for _, p := range strings.Split(*days, ",") {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		wds = append(wds, time.Weekday(n))
	}
	if len(wds) == 0 {
		return nil
	}
	return &Recurrence{Weekdays: wds, Until: *until}
}
