package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Role distinguishes the two client flavors sharing this layer.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// OfferStatus is the resolution state of a ride offer.
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferExpired   OfferStatus = "expired"
	OfferCancelled OfferStatus = "cancelled"
)

// RideOffer is a candidate ride pushed to a driver client. OfferID is set only
// for timed single offers; broadcast requests carry just the ride id.
type RideOffer struct {
	RideID           string      `json:"ride_id"`
	OfferID          string      `json:"offer_id,omitempty"`
	PickupAddress    string      `json:"pickup_address"`
	DropoffAddress   string      `json:"dropoff_address"`
	Pickup           Coord       `json:"pickup"`
	Dropoff          Coord       `json:"dropoff"`
	PassengerCount   int         `json:"passenger_count"`
	DistanceKm       float64     `json:"distance_km"`
	PassengerName    string      `json:"passenger_name,omitempty"`
	PassengerPhone   string      `json:"passenger_phone,omitempty"`
	Status           OfferStatus `json:"status"`
	ReceivedAt       time.Time   `json:"received_at"`
	DecisionDeadline time.Time   `json:"decision_deadline,omitempty"`
}

// Timed reports whether the offer came through the single-offer protocol and
// therefore runs a decision window.
func (o RideOffer) Timed() bool { return o.OfferID != "" }

// ActiveRide is the single currently engaged ride. At most one exists per
// client; the tracker owns it.
type ActiveRide struct {
	RideID      string     `json:"ride_id"`
	Role        Role       `json:"role"`
	Status      string     `json:"status"`
	PartyName   string     `json:"party_name,omitempty"`
	PartyPhone  string     `json:"party_phone,omitempty"`
	AcceptedAt  time.Time  `json:"accepted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// LocationSample is one emission of the movement-filtered position source,
// already rounded to storage precision.
type LocationSample struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	CapturedAt time.Time `json:"captured_at"`
}
