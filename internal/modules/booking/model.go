// README: Booking aggregate, status definitions, transition table, and code generation.
package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"carpool/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

const (
	// MaxSeatsPerBooking is the platform cap, independent of ride capacity.
	MaxSeatsPerBooking = 4
	// PendingTTL is how long an unconfirmed booking holds its seats.
	PendingTTL = 10 * time.Minute
)

// ActiveStatuses are the states in which a booking holds seats on its ride.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusInProgress}

func IsActive(st Status) bool {
	for _, s := range ActiveStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// AllowedTransitions represents the booking state flow as code. No-show is
// reachable from confirmed only; check-in does not change status.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
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

// paymentTransitions guards the payment flow, which moves independently of the
// booking status.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentCompleted, PaymentFailed},
	PaymentProcessing: {PaymentCompleted, PaymentFailed},
	PaymentFailed:     {PaymentProcessing},
	PaymentCompleted:  {PaymentRefunded},
}

func CanPayTransition(from, to PaymentStatus) bool {
	next, ok := paymentTransitions[from]
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

type Booking struct {
	ID               types.ID
	RideID           types.ID
	PassengerID      types.ID
	DriverID         types.ID
	Seats            int
	Status           Status
	StatusVersion    int
	PaymentStatus    PaymentStatus
	PaymentMethod    string
	ReferenceCode    string
	VerificationCode string
	TermsAccepted    bool
	// Monetary fields frozen at creation; refund and fee are written by the
	// cancellation policy only.
	PricePerSeat    types.Money
	TotalPrice      types.Money
	RefundAmount    *types.Money
	CancellationFee *types.Money
	// DepartureAt is a copy of the ride's departure taken at creation, used by
	// the reminder sweep. Lifecycle checks read the live ride.
	DepartureAt  time.Time
	ExpiresAt    *time.Time
	CancelledBy  *string
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ConfirmedAt  *time.Time
	CheckedInAt  *time.Time
	PickedUpAt   *time.Time
	DroppedOffAt *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
}

// newReferenceCode is the immutable human-facing booking reference.
func newReferenceCode() string {
	return "BK-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// newVerificationCode is the 4-digit pickup code shown to the driver.
func newVerificationCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "0000"
	}
	return fmt.Sprintf("%04d", n.Int64())
}
