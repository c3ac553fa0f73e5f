// Package httpapi serves the client's local diagnostics endpoint: liveness,
// prometheus metrics, and a state snapshot for support tooling.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateSnapshot is the /debug/state response.
type StateSnapshot struct {
	ChannelState      string `json:"channel_state"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	LastChannelError  string `json:"last_channel_error,omitempty"`
	PendingOffers     int    `json:"pending_offers"`
	TrackerPhase      string `json:"tracker_phase"`
	ActiveRideID      string `json:"active_ride_id,omitempty"`
}

// SnapshotFunc assembles the current snapshot; the session provides it.
type SnapshotFunc func() StateSnapshot

type Server struct {
	mux *mux.Router
}

func NewServer(snapshot SnapshotFunc) *Server {
	s := &Server{mux: mux.NewRouter()}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot())
	}).Methods("GET")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
