package offers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/dispatch-client/internal/api"
	"github.com/example/dispatch-client/internal/journal"
	"github.com/example/dispatch-client/internal/models"
	"github.com/example/dispatch-client/internal/rejected"
)

type fakeRemote struct {
	mu          sync.Mutex
	acceptErr   error
	rejectErr   error
	acceptCalls []string
	rejectCalls []string
}

func (f *fakeRemote) AcceptOffer(_ context.Context, id string) (api.RideStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceptCalls = append(f.acceptCalls, id)
	if f.acceptErr != nil {
		return api.RideStatus{}, f.acceptErr
	}
	return api.RideStatus{RideID: id, Status: "assigned", PartyName: "Pat"}, nil
}

func (f *fakeRemote) RejectOffer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectCalls = append(f.rejectCalls, id)
	return f.rejectErr
}

func (f *fakeRemote) rejects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rejectCalls...)
}

type fakeEngager struct {
	mu       sync.Mutex
	assigned []models.ActiveRide
	offered  int
	idled    int
}

func (f *fakeEngager) Assign(r models.ActiveRide) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = append(f.assigned, r)
}
func (f *fakeEngager) MarkOffered() { f.mu.Lock(); f.offered++; f.mu.Unlock() }
func (f *fakeEngager) MarkIdleFromOffered() {
	f.mu.Lock()
	f.idled++
	f.mu.Unlock()
}

func newTestMachine(window time.Duration) (*Machine, *fakeRemote, *fakeEngager, rejected.Store) {
	remote := &fakeRemote{}
	eng := &fakeEngager{}
	store := rejected.NewMemoryStore()
	m := NewMachine(remote, store, eng, journal.NewMemoryJournal(), window, nil)
	return m, remote, eng, store
}

func timedOffer(rideID string) models.RideOffer {
	return models.RideOffer{RideID: rideID, OfferID: "of-" + rideID, Status: models.OfferPending}
}

func broadcastOffer(rideID string) models.RideOffer {
	return models.RideOffer{RideID: rideID, Status: models.OfferPending}
}

func TestUpsertKeepsOneEntryPerRide(t *testing.T) {
	m, _, _, _ := newTestMachine(time.Minute)
	m.HandleOffer(broadcastOffer("1"))
	m.HandleOffer(broadcastOffer("2"))
	updated := broadcastOffer("1")
	updated.DistanceKm = 9.9
	m.HandleOffer(updated)

	p := m.Pending()
	if len(p) != 2 {
		t.Fatalf("pending = %d, want 2", len(p))
	}
	// Newest-first on insert; replacement keeps position.
	if p[0].RideID != "2" || p[1].RideID != "1" {
		t.Fatalf("order = %s,%s", p[0].RideID, p[1].RideID)
	}
	if p[1].DistanceKm != 9.9 {
		t.Fatalf("replacement did not update data: %v", p[1].DistanceKm)
	}
}

func TestNewestFirstInsertion(t *testing.T) {
	m, _, _, _ := newTestMachine(time.Minute)
	m.HandleOffer(broadcastOffer("a"))
	m.HandleOffer(broadcastOffer("b"))
	if p := m.Pending(); p[0].RideID != "b" {
		t.Fatalf("newest offer must be first, got %s", p[0].RideID)
	}
}

func TestRejectedIDNeverSurfaces(t *testing.T) {
	m, _, _, store := newTestMachine(time.Minute)
	if err := store.Add(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	m.HandleOffer(broadcastOffer("7"))
	if m.PendingCount() != 0 {
		t.Fatal("rejected ride surfaced")
	}

	// A fresh machine over the same store models a process restart.
	m2 := NewMachine(&fakeRemote{}, store, &fakeEngager{}, nil, time.Minute, nil)
	m2.HandleOffer(broadcastOffer("7"))
	if m2.PendingCount() != 0 {
		t.Fatal("rejected ride surfaced after restart")
	}
}

func TestRejectPersistsBeforeRemoteCompletes(t *testing.T) {
	m, remote, _, store := newTestMachine(time.Minute)
	remote.rejectErr = errors.New("network down")

	m.HandleOffer(timedOffer("5"))
	err := m.Reject(context.Background(), "5")
	if err == nil {
		t.Fatal("remote failure must surface")
	}
	if m.PendingCount() != 0 {
		t.Fatal("offer must leave the pending set regardless of remote outcome")
	}
	if ok, _ := store.Contains(context.Background(), "5"); !ok {
		t.Fatal("rejection must be durable even when the remote call fails")
	}
	// Never resurfaces locally.
	m.HandleOffer(timedOffer("5"))
	if m.PendingCount() != 0 {
		t.Fatal("rejected offer resurfaced")
	}
}

func TestDecisionWindowAutoRejectsExactlyOnce(t *testing.T) {
	m, remote, _, store := newTestMachine(30 * time.Millisecond)
	m.HandleOffer(timedOffer("9"))

	time.Sleep(150 * time.Millisecond)

	if got := remote.rejects(); len(got) != 1 {
		t.Fatalf("auto reject fired %d times, want 1", len(got))
	}
	if m.PendingCount() != 0 {
		t.Fatal("expired offer still pending")
	}
	if ok, _ := store.Contains(context.Background(), "9"); !ok {
		t.Fatal("auto reject must persist the id like a manual one")
	}
}

func TestServerRemovalCancelsCountdown(t *testing.T) {
	m, remote, _, store := newTestMachine(40 * time.Millisecond)
	m.HandleOffer(timedOffer("42"))
	m.HandleRideCancelled("42", "passenger cancelled")

	if m.PendingCount() != 0 {
		t.Fatal("pending set must end empty")
	}
	time.Sleep(120 * time.Millisecond)
	if got := remote.rejects(); len(got) != 0 {
		t.Fatalf("cancelled timer still fired: %v", got)
	}
	// Cancellation is not a rejection; the ride may legitimately reappear.
	if ok, _ := store.Contains(context.Background(), "42"); ok {
		t.Fatal("server cancellation must not enter the rejected set")
	}
}

func TestBroadcastThenCancelledScenario(t *testing.T) {
	m, remote, _, _ := newTestMachine(40 * time.Millisecond)
	m.HandleOffer(broadcastOffer("42"))
	m.HandleRideCancelled("42", "")

	if m.PendingCount() != 0 {
		t.Fatal("pending set must end empty")
	}
	time.Sleep(100 * time.Millisecond)
	if len(remote.rejects()) != 0 {
		t.Fatal("no countdown may exist for a broadcast request")
	}
}

func TestAcceptEstablishesActiveRide(t *testing.T) {
	m, remote, eng, _ := newTestMachine(time.Minute)
	m.HandleOffer(timedOffer("3"))

	active, err := m.Accept(context.Background(), "3")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if active.RideID != "3" || active.PartyName != "Pat" {
		t.Fatalf("active = %+v", active)
	}
	if m.PendingCount() != 0 {
		t.Fatal("accepted offer still pending")
	}
	if len(eng.assigned) != 1 {
		t.Fatalf("engager assigned %d times", len(eng.assigned))
	}
	// Timed offers accept through their offer id.
	if remote.acceptCalls[0] != "of-3" {
		t.Fatalf("accept id = %q", remote.acceptCalls[0])
	}
}

func TestAcceptFailureKeepsOfferPending(t *testing.T) {
	m, remote, eng, _ := newTestMachine(time.Minute)
	remote.acceptErr = &api.RemoteError{StatusCode: 500, Message: "boom"}
	m.HandleOffer(timedOffer("3"))

	if _, err := m.Accept(context.Background(), "3"); err == nil {
		t.Fatal("expected error")
	}
	if m.PendingCount() != 1 {
		t.Fatal("offer must remain pending after a failed accept")
	}
	if len(eng.assigned) != 0 {
		t.Fatal("no ride may be established on failure")
	}
}

func TestAcceptUnknownOffer(t *testing.T) {
	m, _, _, _ := newTestMachine(time.Minute)
	if _, err := m.Accept(context.Background(), "nope"); !errors.Is(err, ErrUnknownOffer) {
		t.Fatalf("err = %v", err)
	}
}

func TestAcceptedByOtherDriverRemovesOffer(t *testing.T) {
	m, _, _, store := newTestMachine(time.Minute)
	m.HandleOffer(timedOffer("8"))
	m.HandleRideAccepted("8")

	if m.PendingCount() != 0 {
		t.Fatal("offer taken by another driver still pending")
	}
	if ok, _ := store.Contains(context.Background(), "8"); ok {
		t.Fatal("acceptance by another driver is not a rejection")
	}
}

func TestJournalRecordsResolutions(t *testing.T) {
	remote := &fakeRemote{}
	store := rejected.NewMemoryStore()
	jnl := journal.NewMemoryJournal()
	m := NewMachine(remote, store, &fakeEngager{}, jnl, time.Minute, nil)

	m.HandleOffer(timedOffer("11"))
	_ = m.Reject(context.Background(), "11")

	res := jnl.OfferResolutions("11")
	if len(res) != 1 || res[0] != models.OfferRejected {
		t.Fatalf("journal = %v", res)
	}
}
