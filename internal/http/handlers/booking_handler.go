// README: Booking handlers covering the hold/confirm/cancel flow and ride-day events.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/booking"
	"carpool/internal/types"
)

type BookingHandler struct {
	bookings *booking.Service
}

func NewBookingHandler(svc *booking.Service) *BookingHandler {
	return &BookingHandler{bookings: svc}
}

type createBookingReq struct {
	RideID        string `json:"ride_id"`
	Seats         int    `json:"seats"`
	PaymentMethod string `json:"payment_method"`
	TermsAccepted bool   `json:"terms_accepted"`
}

type bookingView struct {
	ID               string     `json:"id"`
	RideID           string     `json:"ride_id"`
	PassengerID      string     `json:"passenger_id"`
	Seats            int        `json:"seats"`
	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	PaymentMethod    string     `json:"payment_method"`
	ReferenceCode    string     `json:"reference_code"`
	PricePerSeat     int64      `json:"price_per_seat"`
	TotalPrice       int64      `json:"total_price"`
	Currency         string     `json:"currency"`
	RefundAmount     *int64     `json:"refund_amount,omitempty"`
	CancellationFee  *int64     `json:"cancellation_fee,omitempty"`
	DepartureAt      time.Time  `json:"departure_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
	CancelledBy      *string    `json:"cancelled_by,omitempty"`
	VerificationCode string     `json:"verification_code,omitempty"`
}

// toBookingView renders b for viewer. The verification code is the
// passenger's secret; the driver learns it at pickup, not from the API.
func toBookingView(b *booking.Booking, viewer types.ID) bookingView {
	v := bookingView{
		ID:            string(b.ID),
		RideID:        string(b.RideID),
		PassengerID:   string(b.PassengerID),
		Seats:         b.Seats,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		PaymentMethod: b.PaymentMethod,
		ReferenceCode: b.ReferenceCode,
		PricePerSeat:  b.PricePerSeat.Amount,
		TotalPrice:    b.TotalPrice.Amount,
		Currency:      b.TotalPrice.Currency,
		DepartureAt:   b.DepartureAt,
		ExpiresAt:     b.ExpiresAt,
		CheckedInAt:   b.CheckedInAt,
		CancelledBy:   b.CancelledBy,
	}
	if b.RefundAmount != nil {
		v.RefundAmount = &b.RefundAmount.Amount
	}
	if b.CancellationFee != nil {
		v.CancellationFee = &b.CancellationFee.Amount
	}
	if viewer == b.PassengerID {
		v.VerificationCode = b.VerificationCode
	}
	return v
}

func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.RideID) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	passenger := types.ID(middleware.CallerUID(c))
	b, err := h.bookings.Create(c.Request.Context(), booking.CreateCommand{
		RideID:        types.ID(req.RideID),
		PassengerID:   passenger,
		Seats:         req.Seats,
		PaymentMethod: req.PaymentMethod,
		TermsAccepted: req.TermsAccepted,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toBookingView(b, passenger))
}

func (h *BookingHandler) Confirm(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	err := h.bookings.Confirm(c.Request.Context(), booking.ConfirmCommand{
		BookingID:   types.ID(id),
		PassengerID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "status": booking.StatusConfirmed})
}

type cancelBookingReq struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	var req cancelBookingReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	actor := types.ID(middleware.CallerUID(c))
	b, err := h.bookings.Cancel(c.Request.Context(), booking.CancelCommand{
		BookingID: types.ID(id),
		ActorID:   actor,
		Reason:    req.Reason,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toBookingView(b, actor))
}

func (h *BookingHandler) CheckIn(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	err := h.bookings.CheckIn(c.Request.Context(), booking.CheckInCommand{
		BookingID:   types.ID(id),
		PassengerID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "checked_in": true})
}

type pickupReq struct {
	VerificationCode string `json:"verification_code"`
}

func (h *BookingHandler) Pickup(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	var req pickupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.bookings.RecordPickup(c.Request.Context(), booking.PickupCommand{
		BookingID:        types.ID(id),
		DriverID:         types.ID(middleware.CallerUID(c)),
		VerificationCode: req.VerificationCode,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "status": booking.StatusInProgress})
}

func (h *BookingHandler) Dropoff(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	err := h.bookings.RecordDropoff(c.Request.Context(), booking.DropoffCommand{
		BookingID: types.ID(id),
		DriverID:  types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "status": booking.StatusCompleted})
}

func (h *BookingHandler) Complete(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	if err := h.bookings.Complete(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c))); err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "status": booking.StatusCompleted})
}

func (h *BookingHandler) NoShow(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	err := h.bookings.MarkNoShow(c.Request.Context(), booking.NoShowCommand{
		BookingID: types.ID(id),
		DriverID:  types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "status": booking.StatusNoShow})
}

func (h *BookingHandler) CashPayment(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	err := h.bookings.ConfirmCashPayment(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "payment_status": booking.PaymentCompleted})
}

type paymentResultReq struct {
	Success bool `json:"success"`
}

// PaymentResult is the payment provider's callback. It is mounted on the
// shared-secret hook route, never behind user auth: a passenger must not be
// able to mark their own card charge as completed.
func (h *BookingHandler) PaymentResult(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	var req paymentResultReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.bookings.RecordPaymentResult(c.Request.Context(), types.ID(id), req.Success); err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id})
}

func (h *BookingHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	viewer := types.ID(middleware.CallerUID(c))
	b, err := h.bookings.Get(c.Request.Context(), types.ID(id), viewer)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toBookingView(b, viewer))
}

func (h *BookingHandler) ListMine(c *gin.Context) {
	viewer := types.ID(middleware.CallerUID(c))
	list, err := h.bookings.ListByPassenger(c.Request.Context(), viewer)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]bookingView, 0, len(list))
	for _, b := range list {
		out = append(out, toBookingView(b, viewer))
	}
	writeJSON(c, http.StatusOK, out)
}

// Manifest lists a ride's bookings for its driver.
func (h *BookingHandler) Manifest(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	viewer := types.ID(middleware.CallerUID(c))
	list, err := h.bookings.ListByRide(c.Request.Context(), types.ID(id), viewer)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]bookingView, 0, len(list))
	for _, b := range list {
		out = append(out, toBookingView(b, viewer))
	}
	writeJSON(c, http.StatusOK, out)
}
