package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/example/dispatch-client/internal/models"
)

// Type tags an inbound frame. The set is closed here; anything else decodes as
// an Unknown event so new server-side types never fail decoding.
type Type string

const (
	TypeConnectionEstablished Type = "connection_established"
	TypeRideOffer             Type = "ride_offer"
	TypeNewRideRequest        Type = "new_ride_request"
	TypeRideCancelled         Type = "ride_cancelled"
	TypeRideExpired           Type = "ride_expired"
	TypeRideAccepted          Type = "ride_accepted"
	TypeDriverStatusChanged   Type = "driver_status_changed"
	TypeDriverLocationUpdated Type = "driver_location_updated"
	TypePong                  Type = "pong"
)

// ErrBadFrame marks frames that are not JSON objects or lack the type field.
var ErrBadFrame = errors.New("events: bad frame")

// ID accepts ride ids sent either as JSON strings or numbers.
type ID string

func (i *ID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty id")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*i = ID(n.String())
	return nil
}

func (i ID) String() string { return string(i) }

// IDFromInt is a test helper mirroring servers that send numeric ids.
func IDFromInt(n int64) ID { return ID(strconv.FormatInt(n, 10)) }

// Event is the decoded form of one inbound frame.
type Event interface {
	Kind() Type
}

type ConnectionEstablished struct {
	Message string `json:"message"`
}

func (ConnectionEstablished) Kind() Type { return TypeConnectionEstablished }

// Ride is the wire shape shared by ride_offer.ride_data and
// new_ride_request.ride.
type Ride struct {
	ID             ID      `json:"id"`
	PickupAddress  string  `json:"pickup_address"`
	DropoffAddress string  `json:"dropoff_address"`
	PickupLat      float64 `json:"pickup_lat"`
	PickupLon      float64 `json:"pickup_lon"`
	DropoffLat     float64 `json:"dropoff_lat"`
	DropoffLon     float64 `json:"dropoff_lon"`
	PassengerCount int     `json:"passenger_count"`
	DistanceKm     float64 `json:"distance_km"`
	PassengerName  string  `json:"passenger_name"`
	PassengerPhone string  `json:"passenger_phone"`
	Status         string  `json:"status"`
}

// Offer converts the wire ride into the domain offer type. offerID is empty
// for broadcast requests.
func (r Ride) Offer(offerID string, now time.Time) models.RideOffer {
	return models.RideOffer{
		RideID:         string(r.ID),
		OfferID:        offerID,
		PickupAddress:  r.PickupAddress,
		DropoffAddress: r.DropoffAddress,
		Pickup:         models.Coord{Lat: r.PickupLat, Lon: r.PickupLon},
		Dropoff:        models.Coord{Lat: r.DropoffLat, Lon: r.DropoffLon},
		PassengerCount: r.PassengerCount,
		DistanceKm:     r.DistanceKm,
		PassengerName:  r.PassengerName,
		PassengerPhone: r.PassengerPhone,
		Status:         models.OfferPending,
		ReceivedAt:     now,
	}
}

// RideOfferEvent is the timed single-offer protocol: one driver, one offer id,
// one decision window.
type RideOfferEvent struct {
	OfferID  string `json:"offer_id"`
	RideData Ride   `json:"ride_data"`
}

func (RideOfferEvent) Kind() Type { return TypeRideOffer }

// NewRideRequest is the broadcast protocol: every nearby driver sees it,
// first accept wins.
type NewRideRequest struct {
	Ride Ride `json:"ride"`
}

func (NewRideRequest) Kind() Type { return TypeNewRideRequest }

type RideCancelled struct {
	RideID  ID     `json:"ride_id"`
	Message string `json:"message"`
}

func (RideCancelled) Kind() Type { return TypeRideCancelled }

type RideExpired struct {
	RideID  ID     `json:"ride_id"`
	Message string `json:"message"`
}

func (RideExpired) Kind() Type { return TypeRideExpired }

type RideAccepted struct {
	RideID ID `json:"ride_id"`
}

func (RideAccepted) Kind() Type { return TypeRideAccepted }

type DriverStatusChanged struct {
	DriverID  ID      `json:"driver_id"`
	Status    string  `json:"status"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (DriverStatusChanged) Kind() Type { return TypeDriverStatusChanged }

type DriverLocationUpdated struct {
	DriverID      ID      `json:"driver_id"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Username      string  `json:"username"`
	VehicleNumber string  `json:"vehicle_number"`
}

func (DriverLocationUpdated) Kind() Type { return TypeDriverLocationUpdated }

type Pong struct{}

func (Pong) Kind() Type { return TypePong }

// Unknown carries any frame whose type we do not recognize. Logged and
// ignored upstream.
type Unknown struct {
	Type Type
	Raw  json.RawMessage
}

func (u Unknown) Kind() Type { return u.Type }

type envelope struct {
	Type *string `json:"type"`
}

// Decode parses one frame into its typed event. It returns ErrBadFrame for
// non-objects and frames without a type; unrecognized types decode into
// Unknown rather than failing.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if env.Type == nil || *env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrBadFrame)
	}

	t := Type(*env.Type)
	var ev Event
	switch t {
	case TypeConnectionEstablished:
		ev = &ConnectionEstablished{}
	case TypeRideOffer:
		ev = &RideOfferEvent{}
	case TypeNewRideRequest:
		ev = &NewRideRequest{}
	case TypeRideCancelled:
		ev = &RideCancelled{}
	case TypeRideExpired:
		ev = &RideExpired{}
	case TypeRideAccepted:
		ev = &RideAccepted{}
	case TypeDriverStatusChanged:
		ev = &DriverStatusChanged{}
	case TypeDriverLocationUpdated:
		ev = &DriverLocationUpdated{}
	case TypePong:
		return &Pong{}, nil
	default:
		return &Unknown{Type: t, Raw: append(json.RawMessage(nil), frame...)}, nil
	}
	if err := json.Unmarshal(frame, ev); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrBadFrame, t, err)
	}
	return ev, nil
}

// Outbound payloads.

type SubscribeNearby struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

func NewSubscribeNearby(lat, lon, radius float64) SubscribeNearby {
	return SubscribeNearby{Type: "subscribe_nearby", Latitude: lat, Longitude: lon, Radius: radius}
}

type DriverLocationUpdate struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func NewDriverLocationUpdate(lat, lon float64) DriverLocationUpdate {
	return DriverLocationUpdate{Type: "driver_location_update", Latitude: lat, Longitude: lon}
}

type TrackingUpdate struct {
	Type      string  `json:"type"`
	RideID    string  `json:"ride_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func NewTrackingUpdate(rideID string, lat, lon float64) TrackingUpdate {
	return TrackingUpdate{Type: "tracking_update", RideID: rideID, Latitude: lat, Longitude: lon}
}
