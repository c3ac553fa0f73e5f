package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz(t *testing.T) {
	srv := NewServer(func() StateSnapshot { return StateSnapshot{} })
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDebugStateSnapshot(t *testing.T) {
	srv := NewServer(func() StateSnapshot {
		return StateSnapshot{
			ChannelState:  "connected",
			PendingOffers: 2,
			TrackerPhase:  "offered",
		}
	})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap StateSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ChannelState != "connected" || snap.PendingOffers != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
