// README: End-to-end router tests over the in-memory stores.
package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	carpoolhttp "carpool/internal/http"
	"carpool/internal/identity"
	"carpool/internal/modules/booking"
	"carpool/internal/modules/inventory"
	"carpool/internal/modules/ride"
	"carpool/internal/types"
)

const (
	testSecret     = "router-test-secret"
	testHookSecret = "hook-test-secret"
)

var anchor = types.Point{Lat: 24.7870, Lng: 120.9967}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	rideStore := ride.NewMemStore()
	bookingStore := booking.NewMemStore()
	ledger := inventory.NewLedger(rideStore)

	rideSvc := ride.NewService(rideStore, bookingStore, identity.AllowAll{}, nil, nil, anchor, nil)
	bookingSvc := booking.NewService(bookingStore, rideSvc, ledger, identity.AllowAll{}, nil, nil)
	return carpoolhttp.NewRouter(rideSvc, bookingSvc, testSecret, testHookSecret)
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, h http.Handler, method, path, sub string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, sub))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// doHook posts to a provider callback route, optionally with the shared secret.
func doHook(t *testing.T, h http.Handler, path, secret string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Hook-Secret", secret)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func createPublishedRide(t *testing.T, h http.Handler, seats int) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/rides", "driver1", map[string]any{
		"vehicle_id":       "1a2b3c",
		"origin_lat":       anchor.Lat,
		"origin_lng":       anchor.Lng,
		"destination_lat":  25.0330,
		"destination_lng":  121.5654,
		"origin_name":      "HSR Station",
		"destination_name": "Taipei Main",
		"departure_at":     time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		"seats":            seats,
		"price_per_seat":   1000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rideID := decode(t, w)["ride_id"].(string)

	w = do(t, h, http.MethodPost, "/api/rides/"+rideID+"/publish", "driver1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return rideID
}

func TestRouterRequiresAuth(t *testing.T) {
	h := newTestHandler(t)
	w := do(t, h, http.MethodGet, "/api/rides", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	rideID := createPublishedRide(t, h, 2)

	// Availability before anything is booked.
	w := do(t, h, http.MethodGet, "/api/rides/"+rideID+"/availability?seats=2", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["available"])

	w = do(t, h, http.MethodPost, "/api/bookings", "alice", map[string]any{
		"ride_id":        rideID,
		"seats":          2,
		"payment_method": "cash",
		"terms_accepted": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	bookingID := body["id"].(string)
	assert.Equal(t, "pending", body["status"])
	assert.NotEmpty(t, body["reference_code"])
	assert.NotEmpty(t, body["verification_code"], "passenger should see their code")
	assert.EqualValues(t, 2000, body["total_price"])

	// The ride fills and a second passenger is turned away.
	w = do(t, h, http.MethodPost, "/api/bookings", "bob", map[string]any{
		"ride_id":        rideID,
		"seats":          1,
		"payment_method": "cash",
		"terms_accepted": true,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodPost, "/api/bookings/"+bookingID+"/confirm", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The driver's manifest hides the verification code.
	w = do(t, h, http.MethodGet, "/api/rides/"+rideID+"/bookings", "driver1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var manifest []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &manifest))
	require.Len(t, manifest, 1)
	assert.Equal(t, "confirmed", manifest[0]["status"])
	assert.Nil(t, manifest[0]["verification_code"])

	// Cancelling 48 hours out refunds in full and reopens the ride.
	w = do(t, h, http.MethodPost, "/api/bookings/"+bookingID+"/cancel", "alice", map[string]any{"reason": "overslept"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "cancelled", body["status"])
	assert.EqualValues(t, 2000, body["refund_amount"])

	w = do(t, h, http.MethodGet, "/api/rides/"+rideID+"/availability?seats=2", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["available"])
}

func TestBookingErrorsOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	rideID := createPublishedRide(t, h, 3)

	// Unknown booking.
	w := do(t, h, http.MethodGet, "/api/bookings/deadbeef", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Terms left unchecked.
	w = do(t, h, http.MethodPost, "/api/bookings", "alice", map[string]any{
		"ride_id":        rideID,
		"seats":          1,
		"payment_method": "cash",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Drivers cannot book their own ride.
	w = do(t, h, http.MethodPost, "/api/bookings", "driver1", map[string]any{
		"ride_id":        rideID,
		"seats":          1,
		"payment_method": "cash",
		"terms_accepted": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A stranger cannot read the manifest.
	w = do(t, h, http.MethodGet, "/api/rides/"+rideID+"/bookings", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Card bookings cannot confirm before the charge lands.
	w = do(t, h, http.MethodPost, "/api/bookings", "alice", map[string]any{
		"ride_id":        rideID,
		"seats":          1,
		"payment_method": "card",
		"terms_accepted": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	bookingID := decode(t, w)["id"].(string)

	w = do(t, h, http.MethodPost, "/api/bookings/"+bookingID+"/confirm", "alice", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	// The passenger cannot land their own charge result; that is the
	// provider's hook, gated by the shared secret.
	w = do(t, h, http.MethodPost, "/api/bookings/"+bookingID+"/payment-result", "alice", map[string]any{"success": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doHook(t, h, "/hooks/payments/"+bookingID+"/result", "", map[string]any{"success": true})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doHook(t, h, "/hooks/payments/"+bookingID+"/result", "wrong-secret", map[string]any{"success": true})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doHook(t, h, "/hooks/payments/"+bookingID+"/result", testHookSecret, map[string]any{"success": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, h, http.MethodPost, "/api/bookings/"+bookingID+"/confirm", "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	rideID := createPublishedRide(t, h, 3)

	// Starting two days early is refused.
	w := do(t, h, http.MethodPost, "/api/rides/"+rideID+"/start", "driver1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Only the owner may cancel.
	w = do(t, h, http.MethodPost, "/api/rides/"+rideID+"/cancel", "driver2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodPost, "/api/rides/"+rideID+"/cancel", "driver1", map[string]any{"reason": "car trouble"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/rides/"+rideID, "driver1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode(t, w)["status"])
}

func TestRideCancelCascadeAndRetry(t *testing.T) {
	h := newTestHandler(t)
	rideID := createPublishedRide(t, h, 3)

	w := do(t, h, http.MethodPost, "/api/bookings", "alice", map[string]any{
		"ride_id":        rideID,
		"seats":          2,
		"payment_method": "cash",
		"terms_accepted": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bookingID := decode(t, w)["id"].(string)
	w = do(t, h, http.MethodPost, "/api/bookings/"+bookingID+"/confirm", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/rides/"+rideID+"/cancel", "driver1", map[string]any{"reason": "car trouble"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, decode(t, w)["cancelled_bookings"], 1)

	// The cascade ran the driver-initiated path: full refund.
	w = do(t, h, http.MethodGet, "/api/bookings/"+bookingID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "cancelled", got["status"])
	assert.EqualValues(t, 2000, got["refund_amount"])
	assert.Equal(t, "driver", got["cancelled_by"])

	// Retrying the cancel is a no-op, not a conflict, so a cascade that was
	// cut short can always be driven to completion.
	w = do(t, h, http.MethodPost, "/api/rides/"+rideID+"/cancel", "driver1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decode(t, w)["cancelled_bookings"])

	// A stranger's retry is still refused.
	w = do(t, h, http.MethodPost, "/api/rides/"+rideID+"/cancel", "driver2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
