// Package api wraps the dispatch server's REST endpoints consumed by the
// realtime layer: offer decisions, ride lifecycle operations, and the
// passenger status-poll backstop.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteError is any non-200 response. Status 400 marks a client-correctable
// precondition (for example a missing location); everything else is a hard
// failure surfaced to the user. Neither is retried.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote operation failed: status=%d %s", e.StatusCode, e.Message)
}

// IsPrecondition reports whether err is a 400-class correctable failure.
func IsPrecondition(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == http.StatusBadRequest
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{BaseURL: baseURL, Token: token, HTTP: &http.Client{Timeout: timeout}}
}

// RideStatus is the shared response shape for lifecycle operations and the
// status poll.
type RideStatus struct {
	RideID     string `json:"ride_id"`
	Status     string `json:"status"`
	PartyName  string `json:"party_name,omitempty"`
	PartyPhone string `json:"party_phone,omitempty"`
	Message    string `json:"message,omitempty"`
}

// CreateRideRequest submits a passenger ride request.
func (c *Client) CreateRideRequest(ctx context.Context, pickupLat, pickupLon, dropLat, dropLon float64) (RideStatus, error) {
	body := map[string]any{
		"pickup_lat":  pickupLat,
		"pickup_lon":  pickupLon,
		"dropoff_lat": dropLat,
		"dropoff_lon": dropLon,
	}
	var out RideStatus
	err := c.do(ctx, http.MethodPost, "/rides/request", body, &out)
	return out, err
}

// AcceptOffer accepts a ride offer. id is the offer id for timed offers and
// the ride id for broadcast requests.
func (c *Client) AcceptOffer(ctx context.Context, id string) (RideStatus, error) {
	var out RideStatus
	err := c.do(ctx, http.MethodPost, "/rides/accept/"+id, nil, &out)
	return out, err
}

// RejectOffer declines a ride offer. Callers persist the rejection locally
// before invoking this; a failure here is logged, never rolled back.
func (c *Client) RejectOffer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/rides/reject/"+id, nil, nil)
}

func (c *Client) DriverCancel(ctx context.Context, rideID string) error {
	return c.do(ctx, http.MethodPost, "/rides/driver-cancel/"+rideID, nil, nil)
}

func (c *Client) PassengerCancel(ctx context.Context, rideID string) error {
	return c.do(ctx, http.MethodPost, "/rides/passenger-cancel/"+rideID, nil, nil)
}

func (c *Client) CompleteRide(ctx context.Context, rideID string) error {
	return c.do(ctx, http.MethodPost, "/rides/complete/"+rideID, nil, nil)
}

// CurrentRideStatus is the poll backstop: the passenger client calls it in
// parallel with the channel because delivery there is not guaranteed.
func (c *Client) CurrentRideStatus(ctx context.Context) (RideStatus, error) {
	var out RideStatus
	err := c.do(ctx, http.MethodGet, "/rides/current", nil, &out)
	return out, err
}

// PatchDriverStatus toggles driver availability, carrying the last known
// position so the server can place the driver immediately.
func (c *Client) PatchDriverStatus(ctx context.Context, status string, lat, lon float64) error {
	body := map[string]any{"status": status, "latitude": lat, "longitude": lon}
	return c.do(ctx, http.MethodPatch, "/drivers/status", body, nil)
}

// DriverProfile mirrors the profile-and-location resource.
type DriverProfile struct {
	DriverID      string  `json:"driver_id"`
	Username      string  `json:"username"`
	VehicleNumber string  `json:"vehicle_number"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
}

func (c *Client) GetDriverProfile(ctx context.Context) (DriverProfile, error) {
	var out DriverProfile
	err := c.do(ctx, http.MethodGet, "/drivers/profile", nil, &out)
	return out, err
}

func (c *Client) PutDriverProfile(ctx context.Context, p DriverProfile) error {
	return c.do(ctx, http.MethodPut, "/drivers/profile", p, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readMessage(resp.Body)
		return &RemoteError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readMessage pulls a human-readable message out of an error body, JSON or
// plain text.
func readMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(b) == 0 {
		return ""
	}
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return string(b)
}
