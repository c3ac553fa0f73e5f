// Package offers holds the driver-side offer state machine: the pending set,
// the timed decision windows, and the race resolution against server-pushed
// cancellation, expiry, and acceptance by another driver.
package offers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/dispatch-client/internal/api"
	"github.com/example/dispatch-client/internal/journal"
	"github.com/example/dispatch-client/internal/logging"
	"github.com/example/dispatch-client/internal/models"
	"github.com/example/dispatch-client/internal/observability"
	"github.com/example/dispatch-client/internal/rejected"
)

// Remote is the subset of the REST client the machine calls.
type Remote interface {
	AcceptOffer(ctx context.Context, id string) (api.RideStatus, error)
	RejectOffer(ctx context.Context, id string) error
}

// Engager receives the outcome of offer decisions; the ride tracker
// implements it.
type Engager interface {
	Assign(r models.ActiveRide)
	MarkOffered()
	MarkIdleFromOffered()
}

var ErrUnknownOffer = errors.New("offers: unknown offer")

// entry pairs a pending offer with its decision-window timer. resolved flips
// exactly once; every decision path checks it under the machine lock, which
// is what makes timer cancellation idempotent.
type entry struct {
	offer    models.RideOffer
	timer    *time.Timer
	resolved bool
}

// Machine manages the pending offer set, newest first.
type Machine struct {
	remote  Remote
	store   rejected.Store
	engager Engager
	journal journal.Journal
	window  time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending []*entry
	index   map[string]*entry
}

func NewMachine(remote Remote, store rejected.Store, engager Engager, jnl journal.Journal, window time.Duration, log *slog.Logger) *Machine {
	if log == nil {
		log = logging.Discard()
	}
	return &Machine{
		remote:  remote,
		store:   store,
		engager: engager,
		journal: jnl,
		window:  window,
		log:     log,
		now:     time.Now,
		index:   make(map[string]*entry),
	}
}

// HandleOffer is the inbound path for both ride_offer and new_ride_request.
// Rejected ids are filtered before anything is surfaced; otherwise the offer
// is upserted into the pending set.
func (m *Machine) HandleOffer(offer models.RideOffer) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	contained, err := m.store.Contains(ctx, offer.RideID)
	cancel()
	if err != nil {
		// Persistence trouble never blocks the flow; worst case a
		// previously rejected offer shows up again this session.
		m.log.Warn("rejected-set lookup failed", "error", err)
	}
	if contained {
		observability.OffersFiltered.Inc()
		m.log.Debug("offer filtered by rejected set", "ride_id", offer.RideID)
		return
	}

	m.mu.Lock()
	if offer.Timed() {
		offer.DecisionDeadline = m.now().Add(m.window)
	}
	if old, ok := m.index[offer.RideID]; ok {
		// Replace in place, keeping list position.
		m.stopTimerLocked(old)
		old.offer = offer
		old.resolved = false
		if offer.Timed() {
			m.armTimerLocked(old)
		}
		m.mu.Unlock()
		m.log.Info("offer replaced", "ride_id", offer.RideID)
		m.syncEngagement()
		return
	}
	e := &entry{offer: offer}
	if offer.Timed() {
		m.armTimerLocked(e)
	}
	m.pending = append([]*entry{e}, m.pending...)
	m.index[offer.RideID] = e
	observability.OffersPending.Set(float64(len(m.pending)))
	m.mu.Unlock()

	m.log.Info("offer pending", "ride_id", offer.RideID, "timed", offer.Timed())
	m.syncEngagement()
}

// Accept performs the remote accept. On success the offer resolves and the
// engaged ride is established; on failure it stays pending with no retry.
func (m *Machine) Accept(ctx context.Context, rideID string) (models.ActiveRide, error) {
	m.mu.Lock()
	e, ok := m.index[rideID]
	if !ok || e.resolved {
		m.mu.Unlock()
		return models.ActiveRide{}, ErrUnknownOffer
	}
	offer := e.offer
	m.mu.Unlock()

	st, err := m.remote.AcceptOffer(ctx, acceptID(offer))
	if err != nil {
		m.log.Warn("accept failed", "ride_id", rideID, "error", err)
		return models.ActiveRide{}, err
	}

	m.resolve(rideID, models.OfferAccepted)

	active := models.ActiveRide{
		RideID:     rideID,
		Status:     st.Status,
		PartyName:  firstNonEmpty(st.PartyName, offer.PassengerName),
		PartyPhone: firstNonEmpty(st.PartyPhone, offer.PassengerPhone),
		AcceptedAt: m.now(),
	}
	m.engager.Assign(active)
	return active, nil
}

// Reject declines an offer. The id is persisted into the rejected set and the
// offer removed from the pending list before the remote call completes; that
// local outcome is durable and never rolled back, so the offer cannot
// resurface even if the remote reject fails.
func (m *Machine) Reject(ctx context.Context, rideID string) error {
	return m.reject(ctx, rideID, false)
}

func (m *Machine) reject(ctx context.Context, rideID string, auto bool) error {
	m.mu.Lock()
	e, ok := m.index[rideID]
	if !ok || e.resolved {
		m.mu.Unlock()
		return ErrUnknownOffer
	}
	offer := e.offer
	m.mu.Unlock()

	storeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := m.store.Add(storeCtx, rideID); err != nil {
		m.log.Warn("rejected-set persist failed", "ride_id", rideID, "error", err)
	}
	cancel()

	if !m.resolve(rideID, models.OfferRejected) {
		// A server-pushed removal won the race; nothing left to decline.
		return nil
	}
	if auto {
		observability.OffersAutoRejected.Inc()
	}

	if err := m.remote.RejectOffer(ctx, acceptID(offer)); err != nil {
		m.log.Warn("remote reject failed", "ride_id", rideID, "error", err)
		return err
	}
	return nil
}

// Channel-event entry points: any lifecycle event referencing a pending id
// removes it, countdown included.

func (m *Machine) HandleRideCancelled(rideID, _ string) { m.resolve(rideID, models.OfferCancelled) }
func (m *Machine) HandleRideExpired(rideID, _ string)   { m.resolve(rideID, models.OfferExpired) }

// HandleRideAccepted covers acceptance by another driver; our own accept has
// already resolved the entry, so this is a no-op for it.
func (m *Machine) HandleRideAccepted(rideID string) { m.resolve(rideID, models.OfferAccepted) }

// Pending returns a newest-first snapshot of the pending offers.
func (m *Machine) Pending() []models.RideOffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RideOffer, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, e.offer)
	}
	return out
}

func (m *Machine) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Shutdown cancels every decision window; part of session teardown.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.pending {
		m.stopTimerLocked(e)
		e.resolved = true
	}
	m.pending = nil
	m.index = make(map[string]*entry)
	observability.OffersPending.Set(0)
}

// resolve removes the entry and stops its timer; it acts at most once per
// entry regardless of which decision path got there first, and reports
// whether this call was the one that resolved it.
func (m *Machine) resolve(rideID string, status models.OfferStatus) bool {
	m.mu.Lock()
	e, ok := m.index[rideID]
	if !ok || e.resolved {
		m.mu.Unlock()
		if !ok {
			m.log.Debug("event for unknown offer ignored", "ride_id", rideID)
		}
		return false
	}
	e.resolved = true
	m.stopTimerLocked(e)
	delete(m.index, rideID)
	for i, p := range m.pending {
		if p == e {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	offer := e.offer
	observability.OffersPending.Set(float64(len(m.pending)))
	m.mu.Unlock()

	offer.Status = status
	m.log.Info("offer resolved", "ride_id", rideID, "status", string(status))
	if m.journal != nil {
		if err := m.journal.SaveOfferResolution(offer, status, m.now()); err != nil {
			m.log.Debug("journal write failed", "error", err)
		}
	}
	m.syncEngagement()
	return true
}

// armTimerLocked opens the decision window. Expiry funnels through the same
// path as a manual reject.
func (m *Machine) armTimerLocked(e *entry) {
	rideID := e.offer.RideID
	e.timer = time.AfterFunc(m.window, func() {
		m.log.Info("decision window elapsed", "ride_id", rideID)
		if err := m.reject(context.Background(), rideID, true); err != nil && !errors.Is(err, ErrUnknownOffer) {
			m.log.Warn("auto reject failed", "ride_id", rideID, "error", err)
		}
	})
}

func (m *Machine) stopTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// syncEngagement keeps the driver lifecycle phase in step with the pending
// set.
func (m *Machine) syncEngagement() {
	if m.engager == nil {
		return
	}
	if m.PendingCount() > 0 {
		m.engager.MarkOffered()
	} else {
		m.engager.MarkIdleFromOffered()
	}
}

func acceptID(o models.RideOffer) string {
	if o.OfferID != "" {
		return o.OfferID
	}
	return o.RideID
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
