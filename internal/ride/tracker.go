// Package ride tracks the single currently engaged ride, reconciling
// channel-pushed transitions with the passenger-side REST poll backstop.
package ride

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/dispatch-client/internal/api"
	"github.com/example/dispatch-client/internal/journal"
	"github.com/example/dispatch-client/internal/logging"
	"github.com/example/dispatch-client/internal/models"
	"github.com/example/dispatch-client/internal/observability"
)

// Phase of the ride lifecycle.
type Phase int

const (
	Idle Phase = iota
	RequestSubmitted
	Offered
	Assigned
	InProgress
	Completed
	Cancelled
	Expired
)

func (p Phase) String() string {
	switch p {
	case RequestSubmitted:
		return "request_submitted"
	case Offered:
		return "offered"
	case Assigned:
		return "assigned"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "idle"
	}
}

func (p Phase) terminal() bool {
	return p == Completed || p == Cancelled || p == Expired
}

// Remote is the subset of the REST client the tracker calls.
type Remote interface {
	CreateRideRequest(ctx context.Context, pickupLat, pickupLon, dropLat, dropLon float64) (api.RideStatus, error)
	CurrentRideStatus(ctx context.Context) (api.RideStatus, error)
	DriverCancel(ctx context.Context, rideID string) error
	PassengerCancel(ctx context.Context, rideID string) error
	CompleteRide(ctx context.Context, rideID string) error
}

var ErrNoActiveRide = errors.New("ride: no active ride")

// Tracker drives Idle -> RequestSubmitted/Offered -> Assigned -> InProgress ->
// {Completed | Cancelled | Expired} -> Idle. Every transition is idempotent: a
// duplicate signal for an already-reached target is a no-op, so the channel
// event and the poll can race freely.
type Tracker struct {
	role         models.Role
	remote       Remote
	journal      journal.Journal
	log          *slog.Logger
	pollInterval time.Duration
	displayDelay time.Duration
	now          func() time.Time
	sleep        func(time.Duration)

	// OnTransition fires once per actual phase change; the UI navigates on it.
	OnTransition func(from, to Phase, rideID string)
	// OnIdle fires when the engaged ride ends for any reason; the driver
	// client reverts location streaming to availability broadcast here.
	OnIdle func()

	mu         sync.Mutex
	phase      Phase
	active     *models.ActiveRide
	pollCancel context.CancelFunc
}

func NewTracker(role models.Role, remote Remote, jnl journal.Journal, pollInterval, displayDelay time.Duration, log *slog.Logger) *Tracker {
	if log == nil {
		log = logging.Discard()
	}
	return &Tracker{
		role:         role,
		remote:       remote,
		journal:      jnl,
		log:          log,
		pollInterval: pollInterval,
		displayDelay: displayDelay,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// Phase reports the current lifecycle phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Active returns a copy of the engaged ride, if any.
func (t *Tracker) Active() (models.ActiveRide, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return models.ActiveRide{}, false
	}
	return *t.active, true
}

// ActiveRideID is the payload selector used by the location streamer.
func (t *Tracker) ActiveRideID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return "", false
	}
	return t.active.RideID, true
}

// SubmitRequest creates a passenger ride request and starts the poll
// backstop. Failure leaves the tracker Idle.
func (t *Tracker) SubmitRequest(ctx context.Context, pickup, dropoff models.Coord) (api.RideStatus, error) {
	st, err := t.remote.CreateRideRequest(ctx, pickup.Lat, pickup.Lon, dropoff.Lat, dropoff.Lon)
	if err != nil {
		return api.RideStatus{}, err
	}
	t.mu.Lock()
	from := t.phase
	t.phase = RequestSubmitted
	t.mu.Unlock()
	t.notify(from, RequestSubmitted, st.RideID)
	t.StartPoll()
	return st, nil
}

// MarkOffered flags the driver lifecycle while offers are pending; it never
// overwrites an engaged ride.
func (t *Tracker) MarkOffered() {
	t.mu.Lock()
	if t.phase != Idle {
		t.mu.Unlock()
		return
	}
	t.phase = Offered
	t.mu.Unlock()
	t.notify(Idle, Offered, "")
}

// MarkIdleFromOffered reverts Offered back to Idle when the pending set
// drains without an acceptance.
func (t *Tracker) MarkIdleFromOffered() {
	t.mu.Lock()
	if t.phase != Offered {
		t.mu.Unlock()
		return
	}
	t.phase = Idle
	t.mu.Unlock()
	t.notify(Offered, Idle, "")
}

// Assign establishes the ActiveRide. Duplicate assignment of the same ride is
// a no-op; assignment of a different ride while engaged is a logged conflict.
func (t *Tracker) Assign(r models.ActiveRide) {
	t.mu.Lock()
	if t.active != nil {
		same := t.active.RideID == r.RideID
		t.mu.Unlock()
		if !same {
			t.log.Warn("assignment conflict ignored", "ride_id", r.RideID)
		}
		return
	}
	if r.AcceptedAt.IsZero() {
		r.AcceptedAt = t.now()
	}
	r.Role = t.role
	from := t.phase
	t.active = &r
	t.phase = Assigned
	t.mu.Unlock()

	t.record(r.RideID, from, Assigned)
	t.notify(from, Assigned, r.RideID)
}

// Start marks the engaged ride as in progress. Unknown ids are a no-op.
func (t *Tracker) Start(rideID string) {
	t.mu.Lock()
	if t.active == nil || t.active.RideID != rideID || t.phase == InProgress {
		t.mu.Unlock()
		return
	}
	from := t.phase
	t.phase = InProgress
	t.active.Status = InProgress.String()
	t.mu.Unlock()

	t.record(rideID, from, InProgress)
	t.notify(from, InProgress, rideID)
}

// Finish resolves the engaged ride and returns the tracker to Idle. Signals
// for unknown or already-resolved rides are no-ops, which is what makes the
// event/poll race safe.
func (t *Tracker) Finish(rideID string, outcome Phase) {
	if !outcome.terminal() {
		return
	}
	t.mu.Lock()
	if t.active == nil || t.active.RideID != rideID {
		t.mu.Unlock()
		t.log.Debug("finish for unknown ride ignored", "ride_id", rideID)
		return
	}
	from := t.phase
	now := t.now()
	switch outcome {
	case Completed:
		t.active.CompletedAt = &now
	case Cancelled, Expired:
		t.active.CancelledAt = &now
	}
	t.active = nil
	t.phase = Idle
	t.mu.Unlock()

	t.record(rideID, from, outcome)
	t.notify(from, outcome, rideID)
	if t.OnIdle != nil {
		t.OnIdle()
	}
}

// Cancel performs the locally-initiated cancellation for the tracker's role.
// Success advances state and pauses for the display delay before returning;
// failure leaves state unchanged with no retry.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.mu.Lock()
	if t.active == nil {
		t.mu.Unlock()
		return ErrNoActiveRide
	}
	rideID := t.active.RideID
	t.mu.Unlock()

	var err error
	if t.role == models.RoleDriver {
		err = t.remote.DriverCancel(ctx, rideID)
	} else {
		err = t.remote.PassengerCancel(ctx, rideID)
	}
	if err != nil {
		return err
	}
	t.Finish(rideID, Cancelled)
	t.sleep(t.displayDelay)
	return nil
}

// Complete finishes the engaged ride through the remote operation. Same
// success/failure contract as Cancel.
func (t *Tracker) Complete(ctx context.Context) error {
	t.mu.Lock()
	if t.active == nil {
		t.mu.Unlock()
		return ErrNoActiveRide
	}
	rideID := t.active.RideID
	t.mu.Unlock()

	if err := t.remote.CompleteRide(ctx, rideID); err != nil {
		return err
	}
	t.Finish(rideID, Completed)
	t.sleep(t.displayDelay)
	return nil
}

// Channel-event entry points, wired to the dispatcher by the session.

func (t *Tracker) HandleRideAccepted(rideID string) {
	if t.role == models.RolePassenger {
		t.Assign(models.ActiveRide{RideID: rideID, Status: Assigned.String()})
		return
	}
	// Driver side: acceptance by another driver resolves through the offer
	// machine; for the engaged ride it is a duplicate of our own accept.
}

func (t *Tracker) HandleRideCancelled(rideID, _ string) { t.Finish(rideID, Cancelled) }
func (t *Tracker) HandleRideExpired(rideID, _ string)   { t.Finish(rideID, Expired) }

// StartPoll launches the periodic REST status poll. Idempotent; the passenger
// session starts it alongside the channel because channel delivery before a
// screen transition is not guaranteed.
func (t *Tracker) StartPoll() {
	t.mu.Lock()
	if t.pollCancel != nil || t.pollInterval <= 0 {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.pollCancel = cancel
	t.mu.Unlock()

	go t.pollLoop(ctx)
}

// StopPoll cancels the poll; released on every teardown path.
func (t *Tracker) StopPoll() {
	t.mu.Lock()
	cancel := t.pollCancel
	t.pollCancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Tracker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := t.remote.CurrentRideStatus(ctx)
			if err != nil {
				t.log.Debug("status poll failed", "error", err)
				continue
			}
			if t.applyPolled(st) {
				observability.PollTransitions.Inc()
			}
		}
	}
}

// applyPolled maps a polled status onto the same idempotent transitions the
// channel events use. Whichever signal lands first wins; the loser no-ops.
func (t *Tracker) applyPolled(st api.RideStatus) bool {
	if st.RideID == "" {
		return false
	}
	before := t.Phase()
	switch normalizeStatus(st.Status) {
	case "assigned", "accepted":
		t.Assign(models.ActiveRide{
			RideID:     st.RideID,
			Status:     Assigned.String(),
			PartyName:  st.PartyName,
			PartyPhone: st.PartyPhone,
		})
	case "in_progress", "ongoing":
		// A poll can skip straight past assignment.
		t.Assign(models.ActiveRide{RideID: st.RideID, Status: Assigned.String()})
		t.Start(st.RideID)
	case "completed":
		t.Finish(st.RideID, Completed)
	case "cancelled", "canceled":
		t.Finish(st.RideID, Cancelled)
	case "expired":
		t.Finish(st.RideID, Expired)
	}
	return t.Phase() != before
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (t *Tracker) record(rideID string, from, to Phase) {
	if t.journal == nil {
		return
	}
	if err := t.journal.SaveTransition(rideID, from.String(), to.String(), t.now()); err != nil {
		t.log.Debug("journal write failed", "error", err)
	}
}

func (t *Tracker) notify(from, to Phase, rideID string) {
	t.log.Info("ride transition", "from", from.String(), "to", to.String(), "ride_id", rideID)
	if t.OnTransition != nil && from != to {
		t.OnTransition(from, to, rideID)
	}
}
