// Package location samples a movement-filtered position source and turns each
// sample into the right outbound channel payload for the driver's current
// engagement state.
package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/dispatch-client/internal/events"
	"github.com/example/dispatch-client/internal/logging"
	"github.com/example/dispatch-client/internal/models"
	"github.com/example/dispatch-client/internal/observability"
)

// Source delivers raw device positions. The channel closes when ctx is done.
type Source interface {
	Positions(ctx context.Context) (<-chan models.Coord, error)
}

// MovementFilter forwards a position only once it has moved at least
// ThresholdM meters from the last forwarded one, bounding bandwidth and
// battery use. The first position always passes.
type MovementFilter struct {
	Src        Source
	ThresholdM float64
}

func (f *MovementFilter) Positions(ctx context.Context) (<-chan models.Coord, error) {
	in, err := f.Src.Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan models.Coord)
	go func() {
		defer close(out)
		var last *models.Coord
		for pos := range in {
			if last != nil && Haversine(last.Lat, last.Lon, pos.Lat, pos.Lon) < f.ThresholdM {
				continue
			}
			p := pos
			last = &p
			select {
			case out <- pos:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Sender is satisfied by the channel manager.
type Sender interface {
	Send(payload any)
}

// Mirror receives a copy of every transmitted sample; nil disables mirroring.
type Mirror interface {
	PublishSample(identity string, s models.LocationSample) error
}

// Streamer owns the position subscription. Availability toggling starts and
// stops it; engagement state picks the payload per sample.
type Streamer struct {
	src      Source
	send     Sender
	active   func() (rideID string, ok bool)
	mirror   Mirror
	identity string
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

func NewStreamer(src Source, send Sender, active func() (string, bool), log *slog.Logger) *Streamer {
	if log == nil {
		log = logging.Discard()
	}
	return &Streamer{src: src, send: send, active: active, log: log, now: time.Now}
}

// SetMirror wires the optional kafka sample mirror.
func (s *Streamer) SetMirror(identity string, m Mirror) {
	s.identity = identity
	s.mirror = m
}

// SetAvailable starts the subscription when the driver goes available and
// cancels it, dropping any in-flight sample, when they go unavailable.
func (s *Streamer) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if available == s.running {
		return
	}
	if !available {
		s.cancel()
		s.cancel = nil
		s.running = false
		s.log.Info("location streaming stopped")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.src.Positions(ctx)
	if err != nil {
		cancel()
		s.log.Error("position source unavailable", "error", err)
		return
	}
	s.cancel = cancel
	s.running = true
	go s.run(ctx, ch)
	s.log.Info("location streaming started")
}

// Running reports whether the subscription is live.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Streamer) run(ctx context.Context, ch <-chan models.Coord) {
	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-ch:
			if !ok {
				return
			}
			s.emit(pos)
		}
	}
}

func (s *Streamer) emit(pos models.Coord) {
	sample := models.LocationSample{
		Lat:        RoundCoord(pos.Lat),
		Lon:        RoundCoord(pos.Lon),
		CapturedAt: s.now(),
	}
	if rideID, ok := s.active(); ok {
		s.send.Send(events.NewTrackingUpdate(rideID, sample.Lat, sample.Lon))
		observability.SamplesSent.WithLabelValues("tracking").Inc()
	} else {
		s.send.Send(events.NewDriverLocationUpdate(sample.Lat, sample.Lon))
		observability.SamplesSent.WithLabelValues("broadcast").Inc()
	}
	if s.mirror != nil {
		if err := s.mirror.PublishSample(s.identity, sample); err != nil {
			s.log.Debug("sample mirror failed", "error", err)
		}
	}
}
