// README: Ride lifecycle service; owns the offer state machine and offer validation.
package ride

import (
	"context"
	"errors"
	"log"
	"time"

	"carpool/internal/identity"
	"carpool/internal/modules/policy"
	"carpool/internal/modules/pricing"
	"carpool/internal/notify"
	"carpool/internal/types"
)

var (
	ErrValidation   = errors.New("invalid ride offer")
	ErrNotFound     = errors.New("ride not found")
	ErrConflict     = errors.New("ride state conflict")
	ErrInvalidState = errors.New("invalid ride state transition")
	ErrForbidden    = errors.New("actor is not the ride's driver")
	ErrLateCancel   = errors.New("ride has active bookings inside the cancellation cutoff")
)

// Distance estimates route length through an external maps provider.
type Distance interface {
	RouteKm(ctx context.Context, origin, destination types.Point) (float64, error)
}

// ActiveBookings is the persistence-layer index from ride ID to its active
// booking IDs. The booking store implements it.
type ActiveBookings interface {
	ActiveRefs(ctx context.Context, rideID types.ID) ([]types.ID, error)
}

type Service struct {
	store    Store
	bookings ActiveBookings
	ident    identity.Directory
	distance Distance
	notifier notify.Dispatcher
	anchor   types.Point
	clock    types.Clock
}

func NewService(store Store, bookings ActiveBookings, ident identity.Directory, distance Distance, notifier notify.Dispatcher, anchor types.Point, clock types.Clock) *Service {
	if clock == nil {
		clock = types.SystemClock
	}
	if notifier == nil {
		notifier = notify.LogDispatcher{}
	}
	return &Service{
		store:    store,
		bookings: bookings,
		ident:    ident,
		distance: distance,
		notifier: notifier,
		anchor:   anchor,
		clock:    clock,
	}
}

type CreateCommand struct {
	DriverID        types.ID
	VehicleID       types.ID
	Origin          types.Point
	Destination     types.Point
	OriginName      string
	DestinationName string
	DepartureAt     time.Time
	Seats           int
	PricePerSeat    types.Money
	Recurrence      *Recurrence
}

type PublishCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type UpdateCommand struct {
	RideID          types.ID
	DriverID        types.ID
	Origin          *types.Point
	Destination     *types.Point
	OriginName      *string
	DestinationName *string
	DepartureAt     *time.Time
	Seats           *int
	PricePerSeat    *types.Money
	Recurrence      *Recurrence
}

type StartCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	RideID   types.ID
	DriverID types.ID
	Reason   string
}

// Create stores a draft offer. Validation happens here and again at publish,
// so a stale draft cannot sneak past the departure lead time.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if err := s.requireVerified(ctx, cmd.DriverID); err != nil {
		return "", err
	}
	now := s.clock()
	r := &Ride{
		ID:              types.NewID(),
		DriverID:        cmd.DriverID,
		VehicleID:       cmd.VehicleID,
		Origin:          cmd.Origin,
		Destination:     cmd.Destination,
		OriginName:      cmd.OriginName,
		DestinationName: cmd.DestinationName,
		DepartureAt:     cmd.DepartureAt,
		Seats:           types.SeatCounters{Total: cmd.Seats, Available: cmd.Seats},
		PricePerSeat:    cmd.PricePerSeat,
		Status:          StatusDraft,
		Recurrence:      cmd.Recurrence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.validateOffer(r, now); err != nil {
		return "", err
	}
	r.DistanceKm = s.estimateDistance(ctx, r)
	if err := s.store.Create(ctx, r); err != nil {
		return "", err
	}
	return r.ID, nil
}

// Publish takes a draft live after full re-validation.
func (s *Service) Publish(ctx context.Context, cmd PublishCommand) error {
	r, err := s.ownedRide(ctx, cmd.RideID, cmd.DriverID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusActive) {
		return ErrInvalidState
	}
	now := s.clock()
	if err := s.validateOffer(r, now); err != nil {
		return err
	}
	return s.transition(ctx, r, StatusActive, StatusUpdate{At: now})
}

// Update edits a draft or active offer. Shrinking the seat count below what is
// already booked is rejected by the store guard.
func (s *Service) Update(ctx context.Context, cmd UpdateCommand) error {
	r, err := s.ownedRide(ctx, cmd.RideID, cmd.DriverID)
	if err != nil {
		return err
	}
	if r.Status != StatusDraft && r.Status != StatusActive {
		return ErrInvalidState
	}
	if cmd.Origin != nil {
		r.Origin = *cmd.Origin
	}
	if cmd.Destination != nil {
		r.Destination = *cmd.Destination
	}
	if cmd.OriginName != nil {
		r.OriginName = *cmd.OriginName
	}
	if cmd.DestinationName != nil {
		r.DestinationName = *cmd.DestinationName
	}
	if cmd.DepartureAt != nil {
		r.DepartureAt = *cmd.DepartureAt
	}
	if cmd.Seats != nil {
		r.Seats.Total = *cmd.Seats
	}
	if cmd.PricePerSeat != nil {
		r.PricePerSeat = *cmd.PricePerSeat
	}
	if cmd.Recurrence != nil {
		r.Recurrence = cmd.Recurrence
	}
	now := s.clock()
	if err := s.validateOffer(r, now); err != nil {
		return err
	}
	if r.Seats.Total < r.Seats.Booked {
		return ErrValidation
	}
	r.DistanceKm = s.estimateDistance(ctx, r)
	r.UpdatedAt = now
	ok, err := s.store.UpdateOffer(ctx, r)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Start moves the ride onto the road; allowed from 15 minutes before departure.
func (s *Service) Start(ctx context.Context, cmd StartCommand) error {
	r, err := s.ownedRide(ctx, cmd.RideID, cmd.DriverID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusInProgress) {
		return ErrInvalidState
	}
	now := s.clock()
	if !policy.CanStartRide(now, r.DepartureAt) {
		return ErrValidation
	}
	return s.transition(ctx, r, StatusInProgress, StatusUpdate{At: now})
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) error {
	r, err := s.ownedRide(ctx, cmd.RideID, cmd.DriverID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCompleted) {
		return ErrInvalidState
	}
	return s.transition(ctx, r, StatusCompleted, StatusUpdate{At: s.clock()})
}

// Cancel soft-cancels the offer and returns the active booking IDs so the
// caller can drive batched booking cancellation. Seat release stays with each
// booking's own transition; cancelling the ride never touches counters here.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) ([]types.ID, error) {
	r, err := s.ownedRide(ctx, cmd.RideID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return nil, ErrInvalidState
	}
	affected, err := s.bookings.ActiveRefs(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if len(affected) > 0 && !policy.CanCancel(now, r.DepartureAt) {
		return nil, ErrLateCancel
	}
	reason := cmd.Reason
	if err := s.transition(ctx, r, StatusCancelled, StatusUpdate{At: now, Reason: &reason}); err != nil {
		return nil, err
	}
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:   notify.KindRideCancelled,
		RideID: string(r.ID),
		UserID: string(r.DriverID),
		At:     now,
	})
	return affected, nil
}

// MarkFull reconciles the offer status after the ledger reported zero
// availability. Safe to call when no flip is needed.
func (s *Service) MarkFull(ctx context.Context, rideID types.ID) error {
	_, err := s.store.SyncCapacityStatus(ctx, rideID)
	return err
}

// MarkAvailable is the inverse flip after a release freed seats on a full ride.
func (s *Service) MarkAvailable(ctx context.Context, rideID types.ID) error {
	_, err := s.store.SyncCapacityStatus(ctx, rideID)
	return err
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID) ([]*Ride, error) {
	return s.store.ListByDriver(ctx, driverID)
}

// CheckAvailability reports whether seats could currently be reserved, without
// reserving anything.
func (s *Service) CheckAvailability(ctx context.Context, rideID types.ID, seats int) (bool, error) {
	if seats <= 0 {
		return false, ErrValidation
	}
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return false, err
	}
	if r.Status != StatusActive {
		return false, nil
	}
	return r.Seats.Available >= seats, nil
}

func (s *Service) ownedRide(ctx context.Context, rideID, driverID types.ID) (*Ride, error) {
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrForbidden
	}
	return r, nil
}

func (s *Service) transition(ctx context.Context, r *Ride, to Status, upd StatusUpdate) error {
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, to, r.StatusVersion, upd)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (s *Service) requireVerified(ctx context.Context, userID types.ID) error {
	u, err := s.ident.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if !u.Verified {
		return ErrForbidden
	}
	return nil
}

func (s *Service) validateOffer(r *Ride, now time.Time) error {
	if r.DriverID == "" || r.VehicleID == "" {
		return ErrValidation
	}
	if r.Seats.Total < MinSeats || r.Seats.Total > MaxSeats {
		return ErrValidation
	}
	if !pricing.ValidPerSeat(r.PricePerSeat) {
		return ErrValidation
	}
	if r.DepartureAt.Sub(now) < policy.MinBookingLead {
		return ErrValidation
	}
	if !anchoredAt(s.anchor, r) {
		return ErrValidation
	}
	if r.Recurrence != nil && (len(r.Recurrence.Weekdays) == 0 || r.Recurrence.Until.Before(r.DepartureAt)) {
		return ErrValidation
	}
	return nil
}

// estimateDistance asks the maps collaborator, falling back to straight-line
// distance. A maps outage never fails the offer.
func (s *Service) estimateDistance(ctx context.Context, r *Ride) float64 {
	if s.distance != nil {
		if km, err := s.distance.RouteKm(ctx, r.Origin, r.Destination); err == nil {
			return km
		} else {
			log.Printf("ride %s: route estimate failed: %v", r.ID, err)
		}
	}
	return distanceKm(r.Origin, r.Destination)
}
