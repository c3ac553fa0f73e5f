package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/example/dispatch-client/internal/config"
	httpapi "github.com/example/dispatch-client/internal/http"
	"github.com/example/dispatch-client/internal/logging"
	"github.com/example/dispatch-client/internal/models"
	"github.com/example/dispatch-client/internal/ride"
	"github.com/example/dispatch-client/internal/session"
)

func main() {
	var pickupLat, pickupLon, dropLat, dropLon float64
	var request bool
	flag.BoolVar(&request, "request", false, "submit a ride request on startup")
	flag.Float64Var(&pickupLat, "pickup-lat", 0, "pickup latitude")
	flag.Float64Var(&pickupLon, "pickup-lon", 0, "pickup longitude")
	flag.Float64Var(&dropLat, "dropoff-lat", 0, "dropoff latitude")
	flag.Float64Var(&dropLon, "dropoff-lon", 0, "dropoff longitude")
	flag.Parse()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	sess := session.NewPassenger(cfg, logger)
	defer sess.Close()

	// Screen navigation hook; the CLI just logs what the app would act on.
	sess.Tracker.OnTransition = func(from, to ride.Phase, rideID string) {
		logger.Info("navigate", "from", from.String(), "to", to.String(), "ride_id", rideID)
	}

	go func() {
		srv := httpapi.NewServer(sess.Snapshot)
		log.Printf("diagnostics listening on %s", cfg.DiagAddr)
		if err := http.ListenAndServe(cfg.DiagAddr, srv); err != nil {
			log.Printf("diagnostics server stopped: %v", err)
		}
	}()

	if err := sess.Start(); err != nil {
		logger.Warn("initial connect failed, reconnecting in background", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if request {
		st, err := sess.Tracker.SubmitRequest(ctx,
			models.Coord{Lat: pickupLat, Lon: pickupLon},
			models.Coord{Lat: dropLat, Lon: dropLon})
		if err != nil {
			logger.Error("ride request failed", "error", err)
		} else {
			logger.Info("ride requested", "ride_id", st.RideID, "status", st.Status)
		}
	}

	<-ctx.Done()
	log.Println("shutting down passenger client")
}
