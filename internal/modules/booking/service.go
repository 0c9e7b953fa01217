// README: Booking lifecycle service; reserves seats, freezes prices, and drives the booking state machine.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"

	"carpool/internal/identity"
	"carpool/internal/modules/inventory"
	"carpool/internal/modules/policy"
	"carpool/internal/modules/pricing"
	"carpool/internal/modules/ride"
	"carpool/internal/notify"
	"carpool/internal/types"
)

var (
	ErrValidation         = errors.New("invalid booking request")
	ErrNotFound           = errors.New("booking not found")
	ErrConflict           = errors.New("booking state conflict")
	ErrInvalidState       = errors.New("invalid booking state transition")
	ErrForbidden          = errors.New("actor may not act on this booking")
	ErrDuplicate          = errors.New("passenger already holds an active booking on this ride")
	ErrNotBookable        = errors.New("ride is not open for booking")
	ErrExpired            = errors.New("booking hold has expired")
	ErrTermsNotAccepted   = errors.New("terms must be accepted before booking")
	ErrPaymentOutstanding = errors.New("payment has not completed")
	ErrLateCancel         = errors.New("cancellation window has closed")
	ErrNotCheckedIn       = errors.New("passenger has not checked in")
	ErrCodeMismatch       = errors.New("verification code does not match")
	ErrNoShowTooEarly     = errors.New("no-show grace period has not elapsed")
	ErrCheckInClosed      = errors.New("check-in window is not open")
)

// RideDirectory is the slice of the ride service a booking needs: offer
// lookup plus the capacity status flips that follow seat movements. The ride
// service satisfies it.
type RideDirectory interface {
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	MarkFull(ctx context.Context, rideID types.ID) error
	MarkAvailable(ctx context.Context, rideID types.ID) error
}

type Service struct {
	store    Store
	rides    RideDirectory
	ledger   *inventory.Ledger
	ident    identity.Directory
	notifier notify.Dispatcher
	clock    types.Clock
}

func NewService(store Store, rides RideDirectory, ledger *inventory.Ledger, ident identity.Directory, notifier notify.Dispatcher, clock types.Clock) *Service {
	if clock == nil {
		clock = types.SystemClock
	}
	if notifier == nil {
		notifier = notify.LogDispatcher{}
	}
	return &Service{
		store:    store,
		rides:    rides,
		ledger:   ledger,
		ident:    ident,
		notifier: notifier,
		clock:    clock,
	}
}

type CreateCommand struct {
	RideID        types.ID
	PassengerID   types.ID
	Seats         int
	PaymentMethod string
	TermsAccepted bool
}

type ConfirmCommand struct {
	BookingID   types.ID
	PassengerID types.ID
}

type CancelCommand struct {
	BookingID types.ID
	ActorID   types.ID
	Reason    string
}

type CheckInCommand struct {
	BookingID   types.ID
	PassengerID types.ID
}

type PickupCommand struct {
	BookingID        types.ID
	DriverID         types.ID
	VerificationCode string
}

type DropoffCommand struct {
	BookingID types.ID
	DriverID  types.ID
}

type NoShowCommand struct {
	BookingID types.ID
	DriverID  types.ID
}

// Create places a pending hold: seats come off the ride first, then the
// booking row freezes the price. On any failure after the reserve the seats
// go straight back, so a failed create never leaks inventory.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	if err := s.requireVerified(ctx, cmd.PassengerID); err != nil {
		return nil, err
	}
	if cmd.Seats < 1 || cmd.Seats > MaxSeatsPerBooking {
		return nil, fmt.Errorf("%w: seats must be between 1 and %d", ErrValidation, MaxSeatsPerBooking)
	}
	if cmd.PaymentMethod != PaymentMethodCash && cmd.PaymentMethod != PaymentMethodCard {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, cmd.PaymentMethod)
	}
	if !cmd.TermsAccepted {
		return nil, ErrTermsNotAccepted
	}
	r, err := s.rides.Get(ctx, cmd.RideID)
	if err != nil {
		if errors.Is(err, ride.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if cmd.PassengerID == r.DriverID {
		return nil, fmt.Errorf("%w: drivers cannot book their own ride", ErrValidation)
	}
	now := s.clock()
	if r.Status != ride.StatusActive || !policy.IsBookable(now, r.DepartureAt) {
		return nil, ErrNotBookable
	}
	if dup, err := s.store.HasActiveByRideAndPassenger(ctx, cmd.RideID, cmd.PassengerID); err != nil {
		return nil, err
	} else if dup {
		return nil, ErrDuplicate
	}

	counters, err := s.ledger.Reserve(ctx, cmd.RideID, cmd.Seats)
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientSeats) {
			return nil, ErrNotBookable
		}
		return nil, err
	}

	expires := now.Add(PendingTTL)
	b := &Booking{
		ID:               types.NewID(),
		RideID:           r.ID,
		PassengerID:      cmd.PassengerID,
		DriverID:         r.DriverID,
		Seats:            cmd.Seats,
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		PaymentMethod:    cmd.PaymentMethod,
		ReferenceCode:    newReferenceCode(),
		VerificationCode: newVerificationCode(),
		TermsAccepted:    cmd.TermsAccepted,
		PricePerSeat:     r.PricePerSeat,
		TotalPrice:       pricing.TotalPrice(r.PricePerSeat, cmd.Seats),
		DepartureAt:      r.DepartureAt,
		ExpiresAt:        &expires,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, b); err != nil {
		if _, relErr := s.ledger.Release(ctx, cmd.RideID, cmd.Seats); relErr != nil {
			log.Printf("booking: compensating release failed for ride %s: %v", cmd.RideID, relErr)
		}
		return nil, err
	}
	if counters.Available == 0 {
		if err := s.rides.MarkFull(ctx, r.ID); err != nil {
			log.Printf("booking: mark full for ride %s: %v", r.ID, err)
		}
	}
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:      notify.KindBookingCreated,
		RideID:    string(r.ID),
		BookingID: string(b.ID),
		UserID:    string(cmd.PassengerID),
		At:        now,
	})
	return b, nil
}

// Confirm promotes a pending hold. Card payments must have cleared first;
// cash settles at dropoff.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) error {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if b.PassengerID != cmd.PassengerID {
		return ErrForbidden
	}
	if b.Status != StatusPending {
		return ErrInvalidState
	}
	now := s.clock()
	if b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
		if err := s.expireOne(ctx, b); err != nil {
			log.Printf("booking: lazy expiry of %s: %v", b.ID, err)
		}
		return ErrExpired
	}
	if b.PaymentMethod == PaymentMethodCard && b.PaymentStatus != PaymentCompleted {
		return ErrPaymentOutstanding
	}
	ok, err := s.store.UpdateStatus(ctx, b.ID, StatusPending, StatusConfirmed, b.StatusVersion, StatusUpdate{
		At:          now,
		ClearExpiry: true,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:      notify.KindBookingConfirmed,
		RideID:    string(b.RideID),
		BookingID: string(b.ID),
		UserID:    string(b.PassengerID),
		At:        now,
	})
	return nil
}

// Cancel ends a pending or confirmed booking and returns the seats. Who
// cancels decides the money: the driver refunds everything, a passenger gets
// the schedule for a confirmed booking and keeps all but the flat fee for a
// pending one. A confirmed passenger cancel inside the cutoff is refused.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Booking, error) {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	var by string
	switch cmd.ActorID {
	case b.PassengerID:
		by = "passenger"
	case b.DriverID:
		by = "driver"
	default:
		return nil, ErrForbidden
	}
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return nil, ErrInvalidState
	}
	now := s.clock()
	departure := b.DepartureAt
	if r, err := s.rides.Get(ctx, b.RideID); err == nil {
		departure = r.DepartureAt
	}
	if by == "passenger" && b.Status == StatusConfirmed && !policy.CanCancel(now, departure) {
		return nil, ErrLateCancel
	}
	hours := departure.Sub(now).Hours()

	var refund, fee types.Money
	switch {
	case by == "driver":
		refund = b.TotalPrice
		fee = types.Money{Currency: b.TotalPrice.Currency}
	case b.Status == StatusConfirmed:
		refund = pricing.Refund(b.TotalPrice, hours)
		fee = b.TotalPrice.Sub(refund)
	default:
		fee = pricing.CancellationFee(b.TotalPrice, hours)
		refund = b.TotalPrice.Sub(fee)
	}

	upd := StatusUpdate{
		At:              now,
		CancelledBy:     &by,
		RefundAmount:    &refund,
		CancellationFee: &fee,
		ClearExpiry:     true,
	}
	if cmd.Reason != "" {
		upd.Reason = &cmd.Reason
	}
	if b.PaymentStatus == PaymentCompleted && !refund.IsZero() {
		refunded := PaymentRefunded
		upd.PaymentStatus = &refunded
	}
	ok, err := s.store.UpdateStatus(ctx, b.ID, b.Status, StatusCancelled, b.StatusVersion, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	if err := s.returnSeats(ctx, b); err != nil {
		return nil, err
	}
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:      notify.KindBookingCancelled,
		RideID:    string(b.RideID),
		BookingID: string(b.ID),
		UserID:    string(cmd.ActorID),
		At:        now,
	})
	return s.store.Get(ctx, b.ID)
}

// CancelBatch cancels each listed booking on behalf of actorID, carrying on
// past bookings that are already terminal or lost a concurrent race. A ride
// cancellation cascade can therefore be re-driven until every passenger is
// out. Returns the IDs cancelled by this call and the first hard error.
func (s *Service) CancelBatch(ctx context.Context, ids []types.ID, actorID types.ID, reason string) ([]types.ID, error) {
	var done []types.ID
	var firstErr error
	for _, id := range ids {
		if _, err := s.Cancel(ctx, CancelCommand{BookingID: id, ActorID: actorID, Reason: reason}); err != nil {
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
				continue
			}
			log.Printf("booking: cascade cancel of %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done = append(done, id)
	}
	return done, firstErr
}

// CheckIn records the passenger's presence ahead of departure.
func (s *Service) CheckIn(ctx context.Context, cmd CheckInCommand) error {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if b.PassengerID != cmd.PassengerID {
		return ErrForbidden
	}
	if b.Status != StatusConfirmed {
		return ErrInvalidState
	}
	now := s.clock()
	departure := b.DepartureAt
	if r, err := s.rides.Get(ctx, b.RideID); err == nil {
		departure = r.DepartureAt
	}
	if !policy.InCheckInWindow(now, departure) {
		return ErrCheckInClosed
	}
	ok, err := s.store.SetCheckIn(ctx, b.ID, b.StatusVersion, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// RecordPickup moves a checked-in passenger on board. The driver proves the
// handoff with the passenger's verification code.
func (s *Service) RecordPickup(ctx context.Context, cmd PickupCommand) error {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if b.DriverID != cmd.DriverID {
		return ErrForbidden
	}
	if b.Status != StatusConfirmed {
		return ErrInvalidState
	}
	if b.CheckedInAt == nil {
		return ErrNotCheckedIn
	}
	if cmd.VerificationCode != b.VerificationCode {
		return ErrCodeMismatch
	}
	ok, err := s.store.UpdateStatus(ctx, b.ID, StatusConfirmed, StatusInProgress, b.StatusVersion, StatusUpdate{At: s.clock()})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// RecordDropoff stamps the dropoff and runs the booking to completed.
func (s *Service) RecordDropoff(ctx context.Context, cmd DropoffCommand) error {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if b.DriverID != cmd.DriverID {
		return ErrForbidden
	}
	if b.Status != StatusInProgress {
		return ErrInvalidState
	}
	ok, err := s.store.SetDropoff(ctx, b.ID, b.StatusVersion, s.clock())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return s.Complete(ctx, cmd.BookingID, cmd.DriverID)
}

// Complete finishes an in-progress booking that already has a dropoff stamp.
// Only the ride's driver may call it.
func (s *Service) Complete(ctx context.Context, bookingID, actorID types.ID) error {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.DriverID != actorID {
		return ErrForbidden
	}
	if b.Status != StatusInProgress {
		return ErrInvalidState
	}
	if b.DroppedOffAt == nil {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, b.ID, StatusInProgress, StatusCompleted, b.StatusVersion, StatusUpdate{At: s.clock()})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// MarkNoShow releases the seats of a confirmed passenger who never turned up.
// No refund: the fare is forfeit once the grace period has run out.
func (s *Service) MarkNoShow(ctx context.Context, cmd NoShowCommand) error {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if b.DriverID != cmd.DriverID {
		return ErrForbidden
	}
	if b.Status != StatusConfirmed {
		return ErrInvalidState
	}
	now := s.clock()
	departure := b.DepartureAt
	if r, err := s.rides.Get(ctx, b.RideID); err == nil {
		departure = r.DepartureAt
	}
	if !policy.IsNoShowEligible(now, departure) {
		return ErrNoShowTooEarly
	}
	zero := types.Money{Currency: b.TotalPrice.Currency}
	ok, err := s.store.UpdateStatus(ctx, b.ID, StatusConfirmed, StatusNoShow, b.StatusVersion, StatusUpdate{
		At:              now,
		RefundAmount:    &zero,
		CancellationFee: &b.TotalPrice,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := s.returnSeats(ctx, b); err != nil {
		return err
	}
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:      notify.KindBookingNoShow,
		RideID:    string(b.RideID),
		BookingID: string(b.ID),
		UserID:    string(b.PassengerID),
		At:        now,
	})
	return nil
}

// ConfirmCashPayment is the driver acknowledging cash in hand.
func (s *Service) ConfirmCashPayment(ctx context.Context, bookingID, driverID types.ID) error {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.DriverID != driverID {
		return ErrForbidden
	}
	if b.PaymentMethod != PaymentMethodCash {
		return ErrValidation
	}
	return s.setPayment(ctx, b, PaymentCompleted)
}

// RecordPaymentResult lands the outcome of an external card charge. It has no
// actor of its own: the caller is the payment provider, authenticated by the
// shared-secret hook at the transport layer.
func (s *Service) RecordPaymentResult(ctx context.Context, bookingID types.ID, success bool) error {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	to := PaymentFailed
	if success {
		to = PaymentCompleted
	}
	return s.setPayment(ctx, b, to)
}

func (s *Service) setPayment(ctx context.Context, b *Booking, to PaymentStatus) error {
	if !CanPayTransition(b.PaymentStatus, to) {
		return ErrInvalidState
	}
	ok, err := s.store.SetPayment(ctx, b.ID, b.StatusVersion, to, s.clock())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// ExpirePending sweeps pending holds past their TTL. Each expiry runs the
// same status-then-seats path as a cancel, so a hold expires at most once
// even with concurrent sweeps. Returns the number of holds expired.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	now := s.clock()
	stale, err := s.store.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, b := range stale {
		if err := s.expireOne(ctx, b); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, b *Booking) error {
	now := s.clock()
	by := "system"
	reason := "hold expired"
	zero := types.Money{Currency: b.TotalPrice.Currency}
	// An expired hold usually carries no money yet; only a charge that already
	// landed is paid back.
	refund := zero
	upd := StatusUpdate{
		At:              now,
		Reason:          &reason,
		CancelledBy:     &by,
		RefundAmount:    &refund,
		CancellationFee: &zero,
		ClearExpiry:     true,
	}
	if b.PaymentStatus == PaymentCompleted {
		refund = b.TotalPrice
		refunded := PaymentRefunded
		upd.PaymentStatus = &refunded
	}
	ok, err := s.store.UpdateStatus(ctx, b.ID, StatusPending, StatusCancelled, b.StatusVersion, upd)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := s.returnSeats(ctx, b); err != nil {
		return err
	}
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:      notify.KindBookingExpired,
		RideID:    string(b.RideID),
		BookingID: string(b.ID),
		UserID:    string(b.PassengerID),
		At:        now,
	})
	return nil
}

// returnSeats gives a dead booking's seats back and reopens the ride if the
// release freed it up. The status flip above is the once-guard: seats move
// only after this caller won the compare-and-set.
func (s *Service) returnSeats(ctx context.Context, b *Booking) error {
	counters, err := s.ledger.Release(ctx, b.RideID, b.Seats)
	if err != nil {
		log.Printf("booking: seat release failed for booking %s: %v", b.ID, err)
		return err
	}
	if counters.Available > 0 {
		if err := s.rides.MarkAvailable(ctx, b.RideID); err != nil {
			log.Printf("booking: mark available for ride %s: %v", b.RideID, err)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, bookingID, actorID types.ID) (*Booking, error) {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.PassengerID != actorID && b.DriverID != actorID {
		return nil, ErrForbidden
	}
	return b, nil
}

func (s *Service) ListByPassenger(ctx context.Context, passengerID types.ID) ([]*Booking, error) {
	return s.store.ListByPassenger(ctx, passengerID)
}

// ListByRide is the driver's manifest; only the ride's driver may read it.
func (s *Service) ListByRide(ctx context.Context, rideID, driverID types.ID) ([]*Booking, error) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		if errors.Is(err, ride.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrForbidden
	}
	return s.store.ListByRide(ctx, rideID)
}

func (s *Service) requireVerified(ctx context.Context, userID types.ID) error {
	u, err := s.ident.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !u.Verified {
		return fmt.Errorf("%w: account is not verified", ErrForbidden)
	}
	return nil
}
