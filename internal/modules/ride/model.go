// README: Ride offer aggregate, status definitions, and the transition table.
package ride

import (
	"math"
	"time"

	"carpool/internal/types"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusFull       Status = "full"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

const (
	MinSeats = 1
	MaxSeats = 7
)

// anchorRadiusKm is how close a route endpoint must be to the platform anchor.
const anchorRadiusKm = 2.0

// Recurrence describes an offer repeated on fixed weekdays until a cutoff.
// It is a descriptor only; occurrences are not materialized as rides.
type Recurrence struct {
	Weekdays []time.Weekday
	Until    time.Time
}

// NextOccurrences lists up to n departures after from that match the descriptor.
func (r Recurrence) NextOccurrences(from time.Time, departureTime time.Time, n int) []time.Time {
	var out []time.Time
	day := from.Truncate(24 * time.Hour)
	for len(out) < n {
		if day.After(r.Until) {
			break
		}
		for _, wd := range r.Weekdays {
			if day.Weekday() != wd {
				continue
			}
			dep := time.Date(day.Year(), day.Month(), day.Day(),
				departureTime.Hour(), departureTime.Minute(), 0, 0, departureTime.Location())
			if dep.After(from) && !dep.After(r.Until) {
				out = append(out, dep)
			}
		}
		day = day.Add(24 * time.Hour)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type Ride struct {
	ID              types.ID
	DriverID        types.ID
	VehicleID       types.ID
	Origin          types.Point
	Destination     types.Point
	OriginName      string
	DestinationName string
	DepartureAt     time.Time
	Seats           types.SeatCounters
	PricePerSeat    types.Money
	DistanceKm      float64
	Status          Status
	StatusVersion   int
	Recurrence      *Recurrence
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PublishedAt     *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
}

// AllowedTransitions represents the offer state flow as code. Cancelled is
// reachable from draft, active, and full only; a ride already on the road runs
// to completion.
var AllowedTransitions = map[Status][]Status{
	StatusDraft:      {StatusActive, StatusCancelled},
	StatusActive:     {StatusFull, StatusInProgress, StatusCancelled},
	StatusFull:       {StatusActive, StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// distanceKm is the haversine distance between two points.
func distanceKm(a, b types.Point) float64 {
	const R = 6371.0
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dlat := (b.Lat - a.Lat) * math.Pi / 180.0
	dlng := (b.Lng - a.Lng) * math.Pi / 180.0
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * R * math.Asin(math.Sqrt(h))
}

// anchoredAt reports whether the route starts or ends at the platform anchor.
func anchoredAt(anchor types.Point, r *Ride) bool {
	return distanceKm(anchor, r.Origin) <= anchorRadiusKm || distanceKm(anchor, r.Destination) <= anchorRadiusKm
}
