// README: Refund and cancellation-fee policy, pure functions over money.
package pricing

import "carpool/internal/types"

// Per-seat price bounds enforced when a ride offer is published. Amounts are in
// the currency's minor unit.
const (
	MinPerSeat = 50
	MaxPerSeat = 50000
)

// Refund percentage thresholds, in hours before departure.
const (
	fullRefundAfterHours = 24.0
	highRefundAfterHours = 6.0
	halfRefundAfterHours = 1.0
)

// lateFeePercent is the flat fee charged on a late cancellation attempt.
const lateFeePercent = 50

// Refund returns how much of total comes back to the passenger when the booking
// is cancelled hoursUntilDeparture before departure.
func Refund(total types.Money, hoursUntilDeparture float64) types.Money {
	switch {
	case hoursUntilDeparture > fullRefundAfterHours:
		return total.Percent(100)
	case hoursUntilDeparture > highRefundAfterHours:
		return total.Percent(75)
	case hoursUntilDeparture > halfRefundAfterHours:
		return total.Percent(50)
	default:
		return total.Percent(0)
	}
}

// CancellationFee returns the flat fee charged when a cancellation lands inside
// the last hour before departure. It is deliberately a separate function from
// Refund: the fee is charged to the cancelling party, the refund schedule pays
// the passenger, and the two move independently.
func CancellationFee(total types.Money, hoursUntilDeparture float64) types.Money {
	if hoursUntilDeparture > halfRefundAfterHours {
		return total.Percent(0)
	}
	return total.Percent(lateFeePercent)
}

// TotalPrice is the booking total frozen at creation.
func TotalPrice(perSeat types.Money, seats int) types.Money {
	return perSeat.Scale(int64(seats))
}

// ValidPerSeat reports whether a per-seat price is inside platform bounds.
func ValidPerSeat(perSeat types.Money) bool {
	return perSeat.Amount >= MinPerSeat && perSeat.Amount <= MaxPerSeat
}
