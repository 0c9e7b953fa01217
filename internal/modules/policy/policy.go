// README: Time-window predicates classifying "now" against a ride's departure.
package policy

import "time"

// Window constants shared by the lifecycle services and their tests.
const (
	// MinBookingLead is the closest to departure a booking or publish is accepted.
	MinBookingLead = 30 * time.Minute
	// MaxBookingLead is the furthest ahead a ride can be booked.
	MaxBookingLead = 7 * 24 * time.Hour
	// CancelCutoff is the last moment a confirmed booking or a ride with active
	// bookings can still be cancelled.
	CancelCutoff = time.Hour
	// CheckInWindow opens this long before departure.
	CheckInWindow = 30 * time.Minute
	// NoShowGrace is how long after departure a passenger gets before a no-show.
	NoShowGrace = 15 * time.Minute
	// StartLead is how early a driver may start the ride.
	StartLead = 15 * time.Minute
	// ReminderWindow opens this long before departure.
	ReminderWindow = 2 * time.Hour
)

// IsBookable reports whether a ride departing at departure accepts new bookings.
func IsBookable(now, departure time.Time) bool {
	lead := departure.Sub(now)
	return lead >= MinBookingLead && lead <= MaxBookingLead
}

// CanCancel reports whether a cancellation at now is still outside the cutoff.
func CanCancel(now, departure time.Time) bool {
	return departure.Sub(now) > CancelCutoff
}

// InCheckInWindow reports whether check-in is open: at most CheckInWindow before
// departure and not after it.
func InCheckInWindow(now, departure time.Time) bool {
	return !now.After(departure) && departure.Sub(now) <= CheckInWindow
}

// IsNoShowEligible reports whether the no-show grace period has elapsed.
func IsNoShowEligible(now, departure time.Time) bool {
	return now.Sub(departure) >= NoShowGrace
}

// CanStartRide reports whether the driver may start the ride.
func CanStartRide(now, departure time.Time) bool {
	return now.Sub(departure) >= -StartLead
}

// InReminderWindow reports whether a departure reminder should go out now.
func InReminderWindow(now, departure time.Time) bool {
	lead := departure.Sub(now)
	return lead > 0 && lead <= ReminderWindow
}
