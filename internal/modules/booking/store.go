// README: Booking store backed by PostgreSQL with optimistic status updates.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

// StatusUpdate carries the side fields written atomically with a transition.
type StatusUpdate struct {
	At              time.Time
	Reason          *string
	CancelledBy     *string
	PaymentStatus   *PaymentStatus
	RefundAmount    *types.Money
	CancellationFee *types.Money
	ClearExpiry     bool
}

// Store is the persistence contract for bookings. Every write that can race is
// a compare-and-set on (status, status_version); the loser sees ok == false.
// Create enforces at most one active booking per (ride, passenger) and returns
// ErrDuplicate for the second.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error)
	SetCheckIn(ctx context.Context, id types.ID, version int, at time.Time) (bool, error)
	SetDropoff(ctx context.Context, id types.ID, version int, at time.Time) (bool, error)
	SetPayment(ctx context.Context, id types.ID, version int, to PaymentStatus, at time.Time) (bool, error)
	HasActiveByRideAndPassenger(ctx context.Context, rideID, passengerID types.ID) (bool, error)
	ActiveRefs(ctx context.Context, rideID types.ID) ([]types.ID, error)
	ListByRide(ctx context.Context, rideID types.ID) ([]*Booking, error)
	ListByPassenger(ctx context.Context, passengerID types.ID) ([]*Booking, error)
	ListExpiredPending(ctx context.Context, now time.Time) ([]*Booking, error)
	DueReminders(ctx context.Context, from, to time.Time) ([]*Booking, error)
	SumActiveSeatsByRide(ctx context.Context, rideID types.ID) (int, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const bookingColumns = `
    id, ride_id, passenger_id, driver_id, seats,
    status, status_version, payment_status, payment_method,
    reference_code, verification_code, terms_accepted,
    price_per_seat, total_price, currency, refund_amount, cancellation_fee,
    departure_at, expires_at, cancelled_by, cancellation_reason,
    created_at, updated_at, confirmed_at, checked_in_at,
    picked_up_at, dropped_off_at, completed_at, cancelled_at`

func (s *PGStore) Create(ctx context.Context, b *Booking) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO bookings (`+bookingColumns+`) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
            $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29
        )`,
		string(b.ID), string(b.RideID), string(b.PassengerID), string(b.DriverID), b.Seats,
		string(b.Status), b.StatusVersion, string(b.PaymentStatus), b.PaymentMethod,
		b.ReferenceCode, b.VerificationCode, b.TermsAccepted,
		b.PricePerSeat.Amount, b.TotalPrice.Amount, b.TotalPrice.Currency, moneyPtr(b.RefundAmount), moneyPtr(b.CancellationFee),
		b.DepartureAt, b.ExpiresAt, b.CancelledBy, b.CancelReason,
		b.CreatedAt, b.UpdatedAt, b.ConfirmedAt, b.CheckedInAt,
		b.PickedUpAt, b.DroppedOffAt, b.CompletedAt, b.CancelledAt,
	)
	// The partial unique index on (ride_id, passenger_id) closes the window
	// between the duplicate pre-check and the insert.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE bookings
        SET status = $1,
            status_version = status_version + 1,
            updated_at = $2,
            cancellation_reason = COALESCE($3, cancellation_reason),
            cancelled_by = COALESCE($4, cancelled_by),
            payment_status = COALESCE($5, payment_status),
            refund_amount = COALESCE($6, refund_amount),
            cancellation_fee = COALESCE($7, cancellation_fee),
            expires_at = CASE WHEN $8 THEN NULL ELSE expires_at END,
            confirmed_at = CASE WHEN $1 = 'confirmed'   THEN $2 ELSE confirmed_at END,
            picked_up_at = CASE WHEN $1 = 'in_progress' THEN $2 ELSE picked_up_at END,
            completed_at = CASE WHEN $1 = 'completed'   THEN $2 ELSE completed_at END,
            cancelled_at = CASE WHEN $1 IN ('cancelled', 'no_show') THEN $2 ELSE cancelled_at END
        WHERE id = $9 AND status = $10 AND status_version = $11`,
		string(to), upd.At, upd.Reason, upd.CancelledBy,
		payStatusPtr(upd.PaymentStatus), moneyPtr(upd.RefundAmount), moneyPtr(upd.CancellationFee),
		upd.ClearExpiry,
		string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetCheckIn(ctx context.Context, id types.ID, version int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE bookings
        SET checked_in_at = $1, status_version = status_version + 1, updated_at = $1
        WHERE id = $2 AND status = 'confirmed' AND status_version = $3 AND checked_in_at IS NULL`,
		at, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetDropoff(ctx context.Context, id types.ID, version int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE bookings
        SET dropped_off_at = $1, status_version = status_version + 1, updated_at = $1
        WHERE id = $2 AND status = 'in_progress' AND status_version = $3 AND dropped_off_at IS NULL`,
		at, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetPayment(ctx context.Context, id types.ID, version int, to PaymentStatus, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE bookings
        SET payment_status = $1, status_version = status_version + 1, updated_at = $2
        WHERE id = $3 AND status_version = $4
          AND status NOT IN ('cancelled', 'no_show')`,
		string(to), at, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) HasActiveByRideAndPassenger(ctx context.Context, rideID, passengerID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM bookings
            WHERE ride_id = $1 AND passenger_id = $2
              AND status IN ('pending', 'confirmed', 'in_progress')
        )`, string(rideID), string(passengerID))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PGStore) ActiveRefs(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id FROM bookings
        WHERE ride_id = $1 AND status IN ('pending', 'confirmed', 'in_progress')
        ORDER BY created_at`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, types.ID(id))
	}
	return out, rows.Err()
}

func (s *PGStore) ListByRide(ctx context.Context, rideID types.ID) ([]*Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE ride_id = $1 ORDER BY created_at`, string(rideID))
}

func (s *PGStore) ListByPassenger(ctx context.Context, passengerID types.ID) ([]*Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE passenger_id = $1 ORDER BY created_at DESC`, string(passengerID))
}

func (s *PGStore) ListExpiredPending(ctx context.Context, now time.Time) ([]*Booking, error) {
	return s.list(ctx, `
        SELECT `+bookingColumns+` FROM bookings
        WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
        ORDER BY expires_at`, now)
}

func (s *PGStore) DueReminders(ctx context.Context, from, to time.Time) ([]*Booking, error) {
	return s.list(ctx, `
        SELECT `+bookingColumns+` FROM bookings
        WHERE status = 'confirmed' AND departure_at > $1 AND departure_at <= $2
        ORDER BY departure_at`, from, to)
}

func (s *PGStore) SumActiveSeatsByRide(ctx context.Context, rideID types.ID) (int, error) {
	row := s.db.QueryRow(ctx, `
        SELECT COALESCE(SUM(seats), 0) FROM bookings
        WHERE ride_id = $1 AND status IN ('pending', 'confirmed', 'in_progress')`, string(rideID))
	var sum int
	if err := row.Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var b Booking
	var status, payStatus string
	var refund, fee *int64
	err := row.Scan(
		&b.ID, &b.RideID, &b.PassengerID, &b.DriverID, &b.Seats,
		&status, &b.StatusVersion, &payStatus, &b.PaymentMethod,
		&b.ReferenceCode, &b.VerificationCode, &b.TermsAccepted,
		&b.PricePerSeat.Amount, &b.TotalPrice.Amount, &b.TotalPrice.Currency, &refund, &fee,
		&b.DepartureAt, &b.ExpiresAt, &b.CancelledBy, &b.CancelReason,
		&b.CreatedAt, &b.UpdatedAt, &b.ConfirmedAt, &b.CheckedInAt,
		&b.PickedUpAt, &b.DroppedOffAt, &b.CompletedAt, &b.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(payStatus)
	b.PricePerSeat.Currency = b.TotalPrice.Currency
	if refund != nil {
		b.RefundAmount = &types.Money{Amount: *refund, Currency: b.TotalPrice.Currency}
	}
	if fee != nil {
		b.CancellationFee = &types.Money{Amount: *fee, Currency: b.TotalPrice.Currency}
	}
	return &b, nil
}

func moneyPtr(m *types.Money) *int64 {
	if m == nil {
		return nil
	}
	n := m.Amount
	return &n
}

func payStatusPtr(p *PaymentStatus) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}
