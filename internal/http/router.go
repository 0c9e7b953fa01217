// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/handlers"
	"carpool/internal/http/middleware"
	"carpool/internal/modules/booking"
	"carpool/internal/modules/ride"
)

func NewRouter(rideService *ride.Service, bookingService *booking.Service, jwtSecret, hookSecret string) http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(), middleware.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	rideHandler := handlers.NewRideHandler(rideService, bookingService)
	bookingHandler := handlers.NewBookingHandler(bookingService)

	api := r.Group("/api", middleware.Auth(jwtSecret))

	api.POST("/rides", rideHandler.Create)
	api.GET("/rides", rideHandler.ListMine)
	api.GET("/rides/:id", rideHandler.Get)
	api.PATCH("/rides/:id", rideHandler.Update)
	api.POST("/rides/:id/publish", rideHandler.Publish)
	api.POST("/rides/:id/start", rideHandler.Start)
	api.POST("/rides/:id/complete", rideHandler.Complete)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.GET("/rides/:id/availability", rideHandler.Availability)
	api.GET("/rides/:id/bookings", bookingHandler.Manifest)

	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings", bookingHandler.ListMine)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.POST("/bookings/:id/confirm", bookingHandler.Confirm)
	api.POST("/bookings/:id/cancel", bookingHandler.Cancel)
	api.POST("/bookings/:id/check-in", bookingHandler.CheckIn)
	api.POST("/bookings/:id/pickup", bookingHandler.Pickup)
	api.POST("/bookings/:id/dropoff", bookingHandler.Dropoff)
	api.POST("/bookings/:id/complete", bookingHandler.Complete)
	api.POST("/bookings/:id/no-show", bookingHandler.NoShow)
	api.POST("/bookings/:id/cash-payment", bookingHandler.CashPayment)

	// Provider callbacks live outside user auth; the payment gateway reports
	// charge outcomes here with the shared hook secret.
	hooks := r.Group("/hooks", middleware.HookAuth(hookSecret))
	hooks.POST("/payments/:id/result", bookingHandler.PaymentResult)

	return r
}
