package events

import (
	"log/slog"
	"time"

	"github.com/example/dispatch-client/internal/logging"
	"github.com/example/dispatch-client/internal/models"
	"github.com/example/dispatch-client/internal/observability"
)

// dedupeKey suppresses duplicate delivery of the same logical ride-lifecycle
// event within one client session.
type dedupeKey struct {
	t  Type
	id ID
}

// Dispatcher decodes frames, drops duplicates, and routes typed events to the
// configured callbacks. It implements channel.Listener, so transferring
// channel ownership means attaching a different Dispatcher.
//
// Callbacks run sequentially on the channel's read goroutine; a nil callback
// means the event is not interesting to this role.
type Dispatcher struct {
	log  *slog.Logger
	now  func() time.Time
	seen map[dedupeKey]struct{}

	OnConnected      func(message string)
	OnOffer          func(offer models.RideOffer)
	OnRideCancelled  func(rideID, message string)
	OnRideExpired    func(rideID, message string)
	OnRideAccepted   func(rideID string)
	OnDriverStatus   func(ev DriverStatusChanged)
	OnDriverLocation func(ev DriverLocationUpdated)
	OnPong           func()
	OnChannelLost    func(err error)
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = logging.Discard()
	}
	return &Dispatcher{
		log:  log,
		now:  time.Now,
		seen: make(map[dedupeKey]struct{}),
	}
}

// OnFrame implements channel.Listener. Malformed frames are logged and
// dropped; they never disturb the connection.
func (d *Dispatcher) OnFrame(data []byte) {
	ev, err := Decode(data)
	if err != nil {
		observability.FramesInvalid.Inc()
		d.log.Warn("frame dropped", "error", err)
		return
	}
	observability.EventsTotal.WithLabelValues(string(ev.Kind())).Inc()

	switch e := ev.(type) {
	case *ConnectionEstablished:
		if d.OnConnected != nil {
			d.OnConnected(e.Message)
		}
	case *RideOfferEvent:
		if e.RideData.ID == "" {
			d.dropMissingID(TypeRideOffer)
			return
		}
		if d.OnOffer != nil {
			d.OnOffer(e.RideData.Offer(e.OfferID, d.now()))
		}
	case *NewRideRequest:
		if e.Ride.ID == "" {
			d.dropMissingID(TypeNewRideRequest)
			return
		}
		// Broadcast requests already claimed by another driver carry a
		// non-pending status; only fresh ones are surfaced.
		if e.Ride.Status != "" && e.Ride.Status != string(models.OfferPending) {
			d.log.Debug("request skipped", "ride_id", e.Ride.ID, "status", e.Ride.Status)
			return
		}
		if d.OnOffer != nil {
			d.OnOffer(e.Ride.Offer("", d.now()))
		}
	case *RideCancelled:
		if e.RideID == "" {
			d.dropMissingID(TypeRideCancelled)
			return
		}
		if d.duplicate(TypeRideCancelled, e.RideID) {
			return
		}
		if d.OnRideCancelled != nil {
			d.OnRideCancelled(string(e.RideID), e.Message)
		}
	case *RideExpired:
		if e.RideID == "" {
			d.dropMissingID(TypeRideExpired)
			return
		}
		if d.duplicate(TypeRideExpired, e.RideID) {
			return
		}
		if d.OnRideExpired != nil {
			d.OnRideExpired(string(e.RideID), e.Message)
		}
	case *RideAccepted:
		if e.RideID == "" {
			d.dropMissingID(TypeRideAccepted)
			return
		}
		if d.duplicate(TypeRideAccepted, e.RideID) {
			return
		}
		if d.OnRideAccepted != nil {
			d.OnRideAccepted(string(e.RideID))
		}
	case *DriverStatusChanged:
		if d.OnDriverStatus != nil {
			d.OnDriverStatus(*e)
		}
	case *DriverLocationUpdated:
		if d.OnDriverLocation != nil {
			d.OnDriverLocation(*e)
		}
	case *Pong:
		if d.OnPong != nil {
			d.OnPong()
		}
	case *Unknown:
		d.log.Info("unknown event ignored", "type", e.Type)
	}
}

// OnDisconnect implements channel.Listener. The seen-set survives reconnects:
// dedupe is session-scoped, not connection-scoped.
func (d *Dispatcher) OnDisconnect(err error) {
	if d.OnChannelLost != nil {
		d.OnChannelLost(err)
	}
}

// dropMissingID discards offer and lifecycle frames that carry no ride id:
// nothing can be keyed or routed on an empty id, and letting one through would
// occupy the (type, "") dedupe slot or surface an empty pending offer.
func (d *Dispatcher) dropMissingID(t Type) {
	observability.FramesInvalid.Inc()
	d.log.Warn("frame dropped, missing ride id", "type", string(t))
}

func (d *Dispatcher) duplicate(t Type, id ID) bool {
	k := dedupeKey{t: t, id: id}
	if _, ok := d.seen[k]; ok {
		observability.EventsDuplicate.Inc()
		return true
	}
	d.seen[k] = struct{}{}
	return false
}
