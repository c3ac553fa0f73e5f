package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/dispatch-client/internal/config"
	httpapi "github.com/example/dispatch-client/internal/http"
	"github.com/example/dispatch-client/internal/location"
	"github.com/example/dispatch-client/internal/logging"
	"github.com/example/dispatch-client/internal/models"
	"github.com/example/dispatch-client/internal/session"
)

func main() {
	var startLat, startLon float64
	flag.Float64Var(&startLat, "lat", 0, "initial latitude")
	flag.Float64Var(&startLon, "lon", 0, "initial longitude")
	flag.Parse()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	// optional migration: run the journal schema if requested
	if cfg.PGDSN != "" && os.Getenv("MIGRATE") == "true" {
		if db, err := sql.Open("postgres", cfg.PGDSN); err == nil {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_journal.sql")); err == nil {
				if _, err := db.Exec(string(b)); err != nil {
					log.Printf("migration exec error: %v", err)
				} else {
					log.Printf("migration applied: 001_create_journal.sql")
				}
			}
			_ = db.Close()
		} else {
			log.Printf("migration db open error: %v", err)
		}
	}

	sess := session.NewDriver(cfg, &stdinSource{}, logger)
	defer sess.Close()

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

	if err := sess.SetAvailable(ctx, true, models.Coord{Lat: startLat, Lon: startLon}); err != nil {
		logger.Error("going available failed", "error", err)
	}

	<-ctx.Done()
	log.Println("shutting down driver client")
}

// stdinSource feeds positions from stdin ("lat lon" per line) so the client
// can be driven by hand or by a replay script during development.
type stdinSource struct{}

func (s *stdinSource) Positions(ctx context.Context) (<-chan models.Coord, error) {
	out := make(chan models.Coord)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) != 2 {
				continue
			}
			lat, err1 := strconv.ParseFloat(fields[0], 64)
			lon, err2 := strconv.ParseFloat(fields[1], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			select {
			case out <- models.Coord{Lat: lat, Lon: lon}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ location.Source = (*stdinSource)(nil)
