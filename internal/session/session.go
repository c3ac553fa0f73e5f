// Package session is the explicit session-scoped context that replaces the
// ambient globals of older clients: one object owns the channel handle, the
// rejected-id store, the tracker, and the role-specific components, and is
// passed to whatever screen needs them. Transferring the channel across
// screen boundaries goes through the channel manager's single-owner handle,
// never through a shared reference.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/dispatch-client/internal/api"
	"github.com/example/dispatch-client/internal/channel"
	"github.com/example/dispatch-client/internal/config"
	"github.com/example/dispatch-client/internal/events"
	httpapi "github.com/example/dispatch-client/internal/http"
	"github.com/example/dispatch-client/internal/ingest"
	"github.com/example/dispatch-client/internal/journal"
	"github.com/example/dispatch-client/internal/location"
	"github.com/example/dispatch-client/internal/logging"
	"github.com/example/dispatch-client/internal/models"
	"github.com/example/dispatch-client/internal/offers"
	"github.com/example/dispatch-client/internal/rejected"
	"github.com/example/dispatch-client/internal/ride"
)

type Session struct {
	cfg  config.ClientConfig
	role models.Role
	log  *slog.Logger

	Channel    *channel.Manager
	Dispatcher *events.Dispatcher
	API        *api.Client
	Rejected   rejected.Store
	Journal    journal.Journal
	Tracker    *ride.Tracker

	// Driver-only components; nil for the passenger role.
	Offers   *offers.Machine
	Streamer *location.Streamer

	// UI hooks for events this layer only forwards.
	OnDriverStatus   func(ev events.DriverStatusChanged)
	OnDriverLocation func(ev events.DriverLocationUpdated)

	available bool
	lastPos   models.Coord

	redisStore *rejected.RedisStore
	pgJournal  *journal.PostgresJournal
	mirror     *ingest.KafkaMirror
}

// NewDriver builds a driver-role session. src is the device position source;
// the session wraps it in the movement filter.
func NewDriver(cfg config.ClientConfig, src location.Source, log *slog.Logger) *Session {
	s := newSession(cfg, models.RoleDriver, log)

	filtered := &location.MovementFilter{Src: src, ThresholdM: cfg.MovementThresholdM}
	s.Streamer = location.NewStreamer(filtered, s.Channel, s.Tracker.ActiveRideID, logging.Component(s.log, "location"))
	if len(cfg.KafkaBrokers) > 0 {
		s.mirror = ingest.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaTopic)
		s.Streamer.SetMirror(cfg.Identity, s.mirror)
	}

	s.Offers = offers.NewMachine(s.API, s.Rejected, s.Tracker, s.Journal,
		cfg.DecisionWindow, logging.Component(s.log, "offers"))

	d := s.Dispatcher
	d.OnOffer = s.Offers.HandleOffer
	d.OnRideCancelled = func(id, msg string) {
		s.Offers.HandleRideCancelled(id, msg)
		s.Tracker.HandleRideCancelled(id, msg)
	}
	d.OnRideExpired = func(id, msg string) {
		s.Offers.HandleRideExpired(id, msg)
		s.Tracker.HandleRideExpired(id, msg)
	}
	d.OnRideAccepted = func(id string) {
		s.Offers.HandleRideAccepted(id)
		s.Tracker.HandleRideAccepted(id)
	}
	d.OnConnected = func(msg string) {
		s.log.Info("channel session established", "message", msg)
		if s.available {
			s.Channel.Send(events.NewSubscribeNearby(s.lastPos.Lat, s.lastPos.Lon, cfg.NearbyRadiusM))
		}
	}

	// The streamer selects its payload per sample from ActiveRideID, so the
	// ride ending reverts transmission to availability broadcast by itself.
	s.Tracker.OnIdle = func() {
		s.log.Info("ride ended, back to availability broadcast")
	}
	return s
}

// NewPassenger builds a passenger-role session: no offer machine, no location
// streaming, but the REST poll backstop runs alongside the channel.
func NewPassenger(cfg config.ClientConfig, log *slog.Logger) *Session {
	s := newSession(cfg, models.RolePassenger, log)

	d := s.Dispatcher
	d.OnRideAccepted = s.Tracker.HandleRideAccepted
	d.OnRideCancelled = s.Tracker.HandleRideCancelled
	d.OnRideExpired = s.Tracker.HandleRideExpired
	d.OnDriverStatus = func(ev events.DriverStatusChanged) {
		if s.OnDriverStatus != nil {
			s.OnDriverStatus(ev)
		}
	}
	d.OnDriverLocation = func(ev events.DriverLocationUpdated) {
		if s.OnDriverLocation != nil {
			s.OnDriverLocation(ev)
		}
	}
	d.OnConnected = func(msg string) {
		s.log.Info("channel session established", "message", msg)
	}
	return s
}

func newSession(cfg config.ClientConfig, role models.Role, log *slog.Logger) *Session {
	if log == nil {
		log = logging.Discard()
	}
	s := &Session{cfg: cfg, role: role, log: log}

	s.API = api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.APITimeout)
	s.Rejected = s.openRejectedStore()
	s.Journal = s.openJournal()
	s.Tracker = ride.NewTracker(role, s.API, s.Journal, cfg.PollInterval, cfg.DisplayDelay,
		logging.Component(log, "tracker"))

	s.Channel = channel.NewManager(cfg.ChannelURL, cfg.AuthToken, cfg.ReconnectDelay,
		logging.Component(log, "channel"))
	s.Dispatcher = events.NewDispatcher(logging.Component(log, "events"))
	s.Dispatcher.OnChannelLost = func(err error) {
		log.Warn("realtime degraded until reconnect", "error", err)
	}
	return s
}

// openRejectedStore prefers the durable redis set and falls back to a
// session-scoped memory set when redis is unreachable or unconfigured.
func (s *Session) openRejectedStore() rejected.Store {
	if s.cfg.RedisAddr == "" {
		return rejected.NewMemoryStore()
	}
	rs := rejected.NewRedisStore(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.Identity)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		s.log.Warn("rejected store unavailable, using session memory", "error", err)
		_ = rs.Close()
		return rejected.NewMemoryStore()
	}
	s.redisStore = rs
	return rs
}

func (s *Session) openJournal() journal.Journal {
	if s.cfg.PGDSN == "" {
		return journal.NewMemoryJournal()
	}
	pj, err := journal.NewPostgresJournal(s.cfg.PGDSN)
	if err != nil {
		s.log.Warn("ride journal unavailable, using memory", "error", err)
		return journal.NewMemoryJournal()
	}
	s.pgJournal = pj
	return pj
}

// Start attaches the dispatcher as the channel's listener and connects. The
// passenger poll starts with the session so a request submitted before the
// channel settles is still observed.
func (s *Session) Start() error {
	s.Channel.Attach(s.Dispatcher)
	err := s.Channel.Connect()
	if s.role == models.RolePassenger {
		s.Tracker.StartPoll()
	}
	return err
}

// SetAvailable toggles driver availability: remote status patch, then the
// location subscription and the nearby-offer subscription follow.
func (s *Session) SetAvailable(ctx context.Context, available bool, pos models.Coord) error {
	status := "offline"
	if available {
		status = "available"
	}
	if err := s.API.PatchDriverStatus(ctx, status, pos.Lat, pos.Lon); err != nil {
		return err
	}
	s.available = available
	s.lastPos = pos
	if s.Streamer != nil {
		s.Streamer.SetAvailable(available)
	}
	if available {
		s.Channel.Send(events.NewSubscribeNearby(pos.Lat, pos.Lon, s.cfg.NearbyRadiusM))
	}
	return nil
}

// Handoff transfers the live channel to another consumer, e.g. a tracking
// screen that wants raw frames. The session's dispatcher stops receiving the
// moment this returns; TakeBack reverses it.
func (s *Session) Handoff(l channel.Listener) { s.Channel.Transfer(l) }
func (s *Session) TakeBack()                  { s.Channel.Transfer(s.Dispatcher) }

// Snapshot feeds the diagnostics endpoint.
func (s *Session) Snapshot() httpapi.StateSnapshot {
	snap := httpapi.StateSnapshot{
		ChannelState:      s.Channel.State().String(),
		ReconnectAttempts: s.Channel.Attempts(),
		TrackerPhase:      s.Tracker.Phase().String(),
	}
	if err := s.Channel.LastError(); err != nil {
		snap.LastChannelError = err.Error()
	}
	if s.Offers != nil {
		snap.PendingOffers = s.Offers.PendingCount()
	}
	if id, ok := s.Tracker.ActiveRideID(); ok {
		snap.ActiveRideID = id
	}
	return snap
}

// Close releases every cancellable resource on all teardown paths: poll,
// decision windows, position subscription, reconnect timer, socket, and the
// backing stores.
func (s *Session) Close() {
	s.Tracker.StopPoll()
	if s.Offers != nil {
		s.Offers.Shutdown()
	}
	if s.Streamer != nil {
		s.Streamer.SetAvailable(false)
	}
	s.Channel.Shutdown()
	if s.mirror != nil {
		_ = s.mirror.Close()
	}
	if s.redisStore != nil {
		_ = s.redisStore.Close()
	}
	if s.pgJournal != nil {
		_ = s.pgJournal.Close()
	}
}
