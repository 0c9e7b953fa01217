// README: Fire-and-forget notification dispatch; failures are logged, never propagated.
package notify

import (
	"context"
	"log"
	"time"
)

const (
	KindBookingCreated   = "booking.created"
	KindBookingConfirmed = "booking.confirmed"
	KindBookingCancelled = "booking.cancelled"
	KindBookingNoShow    = "booking.no_show"
	KindBookingExpired   = "booking.expired"
	KindRideCancelled    = "ride.cancelled"
	KindRideReminder     = "ride.reminder"
)

type Event struct {
	Kind      string    `json:"kind"`
	RideID    string    `json:"ride_id,omitempty"`
	BookingID string    `json:"booking_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	At        time.Time `json:"at"`
}

// Dispatcher delivers an event best-effort. Implementations must not block the
// caller on broker trouble and must not return errors.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event)
}

// LogDispatcher is the fallback when no broker is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, e Event) {
	log.Printf("notify: %s ride=%s booking=%s user=%s", e.Kind, e.RideID, e.BookingID, e.UserID)
}
