// README: Entry point; loads config, wires services, starts HTTP server and the booking sweeper.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carpool/internal/config"
	httptransport "carpool/internal/http"
	"carpool/internal/identity"
	"carpool/internal/infra"
	"carpool/internal/maps"
	"carpool/internal/modules/booking"
	"carpool/internal/modules/inventory"
	"carpool/internal/modules/ride"
	"carpool/internal/notify"
	"carpool/internal/types"
)

const serverShutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	var notifier notify.Dispatcher = notify.LogDispatcher{}
	if cfg.AMQP.URL != "" {
		conn, ch, err := infra.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatalf("amqp init: %v", err)
		}
		defer conn.Close()
		defer ch.Close()
		notifier = notify.NewRabbit(ch, cfg.AMQP.Exchange)
	}

	var distance ride.Distance
	if cfg.Maps.APIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		distance = routeSvc
	}

	users := identity.NewStore(dbPool)
	anchor := types.Point{Lat: cfg.Anchor.Lat, Lng: cfg.Anchor.Lng}

	rideStore := ride.NewPGStore(dbPool)
	bookingStore := booking.NewPGStore(dbPool)
	ledger := inventory.NewLedger(rideStore)

	rideSvc := ride.NewService(rideStore, bookingStore, users, distance, notifier, anchor, nil)
	bookingSvc := booking.NewService(bookingStore, rideSvc, ledger, users, notifier, nil)

	sweeper := booking.NewSweeper(bookingSvc, bookingStore, booking.NewRedisFlags(redisClient), notifier, cfg.Sweep.Interval, nil)
	go sweeper.Run(ctx)

	handler := httptransport.NewRouter(rideSvc, bookingSvc, cfg.Auth.JWTSecret, cfg.Payment.HookSecret)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("carpool api listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
