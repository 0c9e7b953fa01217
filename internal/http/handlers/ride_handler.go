// README: Ride offer handlers for create/publish/update/start/complete/cancel.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/booking"
	"carpool/internal/modules/ride"
	"carpool/internal/types"
)

type RideHandler struct {
	rides    *ride.Service
	bookings *booking.Service
}

func NewRideHandler(rides *ride.Service, bookings *booking.Service) *RideHandler {
	return &RideHandler{rides: rides, bookings: bookings}
}

type recurrenceReq struct {
	Weekdays []int     `json:"weekdays"`
	Until    time.Time `json:"until"`
}

func (r *recurrenceReq) toModel() *ride.Recurrence {
	if r == nil {
		return nil
	}
	rec := &ride.Recurrence{Until: r.Until}
	for _, d := range r.Weekdays {
		rec.Weekdays = append(rec.Weekdays, time.Weekday(d))
	}
	return rec
}

type createRideReq struct {
	VehicleID       string         `json:"vehicle_id"`
	OriginLat       float64        `json:"origin_lat"`
	OriginLng       float64        `json:"origin_lng"`
	DestinationLat  float64        `json:"destination_lat"`
	DestinationLng  float64        `json:"destination_lng"`
	OriginName      string         `json:"origin_name"`
	DestinationName string         `json:"destination_name"`
	DepartureAt     time.Time      `json:"departure_at"`
	Seats           int            `json:"seats"`
	PricePerSeat    int64          `json:"price_per_seat"`
	Currency        string         `json:"currency"`
	Recurrence      *recurrenceReq `json:"recurrence"`
}

type rideView struct {
	ID              string     `json:"id"`
	DriverID        string     `json:"driver_id"`
	Status          string     `json:"status"`
	OriginName      string     `json:"origin_name"`
	DestinationName string     `json:"destination_name"`
	DepartureAt     time.Time  `json:"departure_at"`
	SeatsTotal      int        `json:"seats_total"`
	SeatsAvailable  int        `json:"seats_available"`
	PricePerSeat    int64      `json:"price_per_seat"`
	Currency        string     `json:"currency"`
	DistanceKm      float64    `json:"distance_km"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
}

func toRideView(r *ride.Ride) rideView {
	return rideView{
		ID:              string(r.ID),
		DriverID:        string(r.DriverID),
		Status:          string(r.Status),
		OriginName:      r.OriginName,
		DestinationName: r.DestinationName,
		DepartureAt:     r.DepartureAt,
		SeatsTotal:      r.Seats.Total,
		SeatsAvailable:  r.Seats.Available,
		PricePerSeat:    r.PricePerSeat.Amount,
		Currency:        r.PricePerSeat.Currency,
		DistanceKm:      r.DistanceKm,
		PublishedAt:     r.PublishedAt,
		CancelReason:    r.CancelReason,
	}
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "TWD"
	}
	id, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		DriverID:        types.ID(middleware.CallerUID(c)),
		VehicleID:       types.ID(req.VehicleID),
		Origin:          types.Point{Lat: req.OriginLat, Lng: req.OriginLng},
		Destination:     types.Point{Lat: req.DestinationLat, Lng: req.DestinationLng},
		OriginName:      req.OriginName,
		DestinationName: req.DestinationName,
		DepartureAt:     req.DepartureAt,
		Seats:           req.Seats,
		PricePerSeat:    types.Money{Amount: req.PricePerSeat, Currency: currency},
		Recurrence:      req.Recurrence.toModel(),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"ride_id": id, "status": ride.StatusDraft})
}

func (h *RideHandler) Publish(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	err := h.rides.Publish(c.Request.Context(), ride.PublishCommand{
		RideID:   types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "status": ride.StatusActive})
}

type updateRideReq struct {
	OriginLat       *float64       `json:"origin_lat"`
	OriginLng       *float64       `json:"origin_lng"`
	DestinationLat  *float64       `json:"destination_lat"`
	DestinationLng  *float64       `json:"destination_lng"`
	OriginName      *string        `json:"origin_name"`
	DestinationName *string        `json:"destination_name"`
	DepartureAt     *time.Time     `json:"departure_at"`
	Seats           *int           `json:"seats"`
	PricePerSeat    *int64         `json:"price_per_seat"`
	Currency        *string        `json:"currency"`
	Recurrence      *recurrenceReq `json:"recurrence"`
}

func (h *RideHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	var req updateRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := ride.UpdateCommand{
		RideID:          types.ID(id),
		DriverID:        types.ID(middleware.CallerUID(c)),
		OriginName:      req.OriginName,
		DestinationName: req.DestinationName,
		DepartureAt:     req.DepartureAt,
		Seats:           req.Seats,
		Recurrence:      req.Recurrence.toModel(),
	}
	if req.OriginLat != nil && req.OriginLng != nil {
		cmd.Origin = &types.Point{Lat: *req.OriginLat, Lng: *req.OriginLng}
	}
	if req.DestinationLat != nil && req.DestinationLng != nil {
		cmd.Destination = &types.Point{Lat: *req.DestinationLat, Lng: *req.DestinationLng}
	}
	if req.PricePerSeat != nil {
		currency := "TWD"
		if req.Currency != nil {
			currency = *req.Currency
		}
		cmd.PricePerSeat = &types.Money{Amount: *req.PricePerSeat, Currency: currency}
	}
	if err := h.rides.Update(c.Request.Context(), cmd); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id})
}

func (h *RideHandler) Start(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	err := h.rides.Start(c.Request.Context(), ride.StartCommand{
		RideID:   types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "status": ride.StatusInProgress})
}

func (h *RideHandler) Complete(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	err := h.rides.Complete(c.Request.Context(), ride.CompleteCommand{
		RideID:   types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "status": ride.StatusCompleted})
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

// Cancel cancels the offer and then cascades through its active bookings,
// each on the driver-initiated path so every passenger gets a full refund.
// The cascade never stops at one failed booking, and cancelling an
// already-cancelled ride re-drives it over whatever is still active, so a
// partial cascade is always recoverable by retrying the request.
func (h *RideHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	var req cancelRideReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	driver := types.ID(middleware.CallerUID(c))
	affected, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID:   types.ID(id),
		DriverID: driver,
		Reason:   req.Reason,
	})
	if err != nil {
		if !errors.Is(err, ride.ErrInvalidState) {
			writeRideError(c, err)
			return
		}
		affected, err = h.strandedBookings(c, types.ID(id), driver)
		if err != nil {
			writeRideError(c, ride.ErrInvalidState)
			return
		}
	}
	done, cascadeErr := h.bookings.CancelBatch(c.Request.Context(), affected, driver, "ride cancelled")
	if cascadeErr != nil {
		writeError(c, http.StatusInternalServerError, "some bookings could not be cancelled; retry the cancellation")
		return
	}
	cancelled := make([]string, 0, len(done))
	for _, bid := range done {
		cancelled = append(cancelled, string(bid))
	}
	writeJSON(c, http.StatusOK, gin.H{
		"ride_id":            id,
		"status":             ride.StatusCancelled,
		"cancelled_bookings": cancelled,
	})
}

// strandedBookings handles the retry of a cancel whose cascade did not finish:
// when the ride is already cancelled by its driver, the remaining active
// bookings become the cascade set. Any other state keeps the original error.
func (h *RideHandler) strandedBookings(c *gin.Context, rideID, driver types.ID) ([]types.ID, error) {
	r, err := h.rides.Get(c.Request.Context(), rideID)
	if err != nil || r.Status != ride.StatusCancelled || r.DriverID != driver {
		return nil, ride.ErrInvalidState
	}
	list, err := h.bookings.ListByRide(c.Request.Context(), rideID, driver)
	if err != nil {
		return nil, err
	}
	var out []types.ID
	for _, b := range list {
		if booking.IsActive(b.Status) {
			out = append(out, b.ID)
		}
	}
	return out, nil
}

func (h *RideHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	r, err := h.rides.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideView(r))
}

func (h *RideHandler) ListMine(c *gin.Context) {
	rides, err := h.rides.ListByDriver(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeRideError(c, err)
		return
	}
	out := make([]rideView, 0, len(rides))
	for _, r := range rides {
		out = append(out, toRideView(r))
	}
	writeJSON(c, http.StatusOK, out)
}

func (h *RideHandler) Availability(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	seats, err := strconv.Atoi(c.DefaultQuery("seats", "1"))
	if err != nil || seats < 1 {
		writeError(c, http.StatusBadRequest, "invalid seats")
		return
	}
	ok, err := h.rides.CheckAvailability(c.Request.Context(), types.ID(id), seats)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "seats": seats, "available": ok})
}
