// Package journal keeps an append-only local record of offer resolutions and
// ride transitions. Writes are always best-effort: callers log failures and
// move on, the realtime flow never blocks on the journal.
package journal

import (
	"sync"
	"time"

	"github.com/example/dispatch-client/internal/models"
)

// Journal defines persistence operations for the dispatch history.
type Journal interface {
	SaveOfferResolution(offer models.RideOffer, resolution models.OfferStatus, at time.Time) error
	SaveTransition(rideID, from, to string, at time.Time) error
}

type offerRecord struct {
	offer      models.RideOffer
	resolution models.OfferStatus
	at         time.Time
}

type transitionRecord struct {
	rideID   string
	from, to string
	at       time.Time
}

type MemoryJournal struct {
	mu          sync.RWMutex
	offers      []offerRecord
	transitions []transitionRecord
}

func NewMemoryJournal() *MemoryJournal { return &MemoryJournal{} }

func (m *MemoryJournal) SaveOfferResolution(offer models.RideOffer, resolution models.OfferStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = append(m.offers, offerRecord{offer: offer, resolution: resolution, at: at})
	return nil
}

func (m *MemoryJournal) SaveTransition(rideID, from, to string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, transitionRecord{rideID: rideID, from: from, to: to, at: at})
	return nil
}

// Transitions returns recorded (from, to) pairs for a ride, oldest first.
func (m *MemoryJournal) Transitions(rideID string) [][2]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out [][2]string
	for _, t := range m.transitions {
		if t.rideID == rideID {
			out = append(out, [2]string{t.from, t.to})
		}
	}
	return out
}

// OfferResolutions returns recorded resolutions for a ride, oldest first.
func (m *MemoryJournal) OfferResolutions(rideID string) []models.OfferStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OfferStatus
	for _, o := range m.offers {
		if o.offer.RideID == rideID {
			out = append(out, o.resolution)
		}
	}
	return out
}
