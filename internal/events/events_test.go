package events

import (
	"errors"
	"testing"
)

func TestDecodeRideOffer(t *testing.T) {
	frame := []byte(`{"type":"ride_offer","offer_id":"of-9","ride_data":{"id":7,"pickup_address":"A","dropoff_address":"B","pickup_lat":1.5,"pickup_lon":2.5,"passenger_count":2,"distance_km":3.2,"status":"pending"}}`)
	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	off, ok := ev.(*RideOfferEvent)
	if !ok {
		t.Fatalf("expected RideOfferEvent, got %T", ev)
	}
	if off.OfferID != "of-9" {
		t.Fatalf("offer_id = %q", off.OfferID)
	}
	if off.RideData.ID != "7" {
		t.Fatalf("numeric id not normalized: %q", off.RideData.ID)
	}
	if off.RideData.PassengerCount != 2 {
		t.Fatalf("passenger_count = %d", off.RideData.PassengerCount)
	}
}

func TestDecodeStringID(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"ride_cancelled","ride_id":"r-42","message":"gone"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := ev.(*RideCancelled)
	if c.RideID != "r-42" || c.Message != "gone" {
		t.Fatalf("got %+v", c)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{"no_type":1}`,
		`{"type":""}`,
		`{"type":"ride_cancelled","ride_id":{"bad":"shape"}}`,
	} {
		if _, err := Decode([]byte(frame)); !errors.Is(err, ErrBadFrame) {
			t.Fatalf("frame %q: expected ErrBadFrame, got %v", frame, err)
		}
	}
}

func TestDecodeUnknownTypeNeverFails(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"surge_pricing_update","multiplier":2.5}`))
	if err != nil {
		t.Fatalf("unknown types must decode: %v", err)
	}
	u, ok := ev.(*Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", ev)
	}
	if u.Kind() != "surge_pricing_update" {
		t.Fatalf("kind = %q", u.Kind())
	}
}

func TestOutboundPayloadTypes(t *testing.T) {
	if p := NewSubscribeNearby(1, 2, 5000); p.Type != "subscribe_nearby" {
		t.Fatalf("type = %q", p.Type)
	}
	if p := NewDriverLocationUpdate(1, 2); p.Type != "driver_location_update" {
		t.Fatalf("type = %q", p.Type)
	}
	if p := NewTrackingUpdate("r1", 1, 2); p.Type != "tracking_update" || p.RideID != "r1" {
		t.Fatalf("got %+v", p)
	}
}
