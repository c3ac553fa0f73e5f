package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/dispatch-client/internal/logging"
	"github.com/example/dispatch-client/internal/observability"
)

// State of the managed connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Listener consumes inbound frames. The manager holds exactly one listener at
// any time; Transfer swaps it atomically.
type Listener interface {
	OnFrame(data []byte)
	OnDisconnect(err error)
}

// Conn is the subset of *websocket.Conn the manager needs; tests substitute
// their own implementation through SetDialFunc.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc establishes one connection attempt.
type DialFunc func(url string, header http.Header) (Conn, error)

var ErrShutdown = errors.New("channel: shut down")

// Manager owns the event-channel lifecycle: connect, failure detection,
// fixed-delay reconnect, send, and ownership transfer of the live socket.
type Manager struct {
	url   string
	token string
	delay time.Duration
	dial  DialFunc
	log   *slog.Logger

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     Conn
	gen      uint64
	state    State
	owner    Listener
	maintain bool
	attempts int
	lastErr  error
	timer    *time.Timer
}

func NewManager(url, token string, delay time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{
		url:   url,
		token: token,
		delay: delay,
		log:   log,
		dial:  gorillaDial,
	}
}

func gorillaDial(url string, header http.Header) (Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetDialFunc replaces the dialer; call before Connect.
func (m *Manager) SetDialFunc(d DialFunc) { m.dial = d }

// Attach installs the initial listener. It replaces any current one, so it is
// also usable as a transfer onto a fresh consumer.
func (m *Manager) Attach(l Listener) {
	m.mu.Lock()
	m.owner = l
	m.mu.Unlock()
}

// Transfer hands the live connection to newOwner without closing the socket.
// The relinquishing owner stops receiving frames the moment this returns; its
// later Release becomes a no-op.
func (m *Manager) Transfer(newOwner Listener) {
	m.mu.Lock()
	m.owner = newOwner
	m.mu.Unlock()
}

// Release tears the channel down only if owner still holds it. An owner that
// transferred the connection away must not close the socket under the new
// owner; this is the transferred marker from the state model.
func (m *Manager) Release(owner Listener) {
	m.mu.Lock()
	if m.owner != owner {
		m.mu.Unlock()
		return
	}
	m.owner = nil
	m.mu.Unlock()
	m.Shutdown()
}

// Connect establishes the channel. Idempotent while connected or already
// connecting; a failed attempt schedules a reconnect and returns the error.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.state == Connected || m.state == Connecting {
		m.mu.Unlock()
		return nil
	}
	m.maintain = true
	m.state = Connecting
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	return m.attempt()
}

// Reconnect is the manual entry point: it drops any current socket and dials
// again immediately, regardless of the scheduled timer.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if !m.maintain {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.state = Connecting
	m.mu.Unlock()

	return m.attempt()
}

func (m *Manager) attempt() error {
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	c, err := m.dial(m.url, header)

	m.mu.Lock()
	if !m.maintain {
		m.mu.Unlock()
		if c != nil {
			_ = c.Close()
		}
		return ErrShutdown
	}
	if err != nil {
		m.lastErr = err
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.log.Warn("channel connect failed", "error", err)
		return fmt.Errorf("channel dial: %w", err)
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.conn = c
	m.gen++
	gen := m.gen
	m.state = Connected
	m.attempts = 0
	m.lastErr = nil
	m.mu.Unlock()

	observability.ChannelConnected.Set(1)
	m.log.Info("channel connected", "url", m.url)
	go m.readLoop(c, gen)
	return nil
}

// readLoop is the single continuous subscription; frames are handed to the
// current owner strictly sequentially.
func (m *Manager) readLoop(c Conn, gen uint64) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := gen != m.gen
			m.mu.Unlock()
			if !stale {
				m.handleReadError(err)
			}
			return
		}
		m.mu.Lock()
		owner := m.owner
		stale := gen != m.gen
		m.mu.Unlock()
		if stale {
			return
		}
		if owner != nil {
			owner.OnFrame(data)
		}
	}
}

func (m *Manager) handleReadError(err error) {
	observability.ChannelConnected.Set(0)

	m.mu.Lock()
	m.conn = nil
	m.lastErr = err
	owner := m.owner
	if !m.maintain {
		m.state = Disconnected
		m.mu.Unlock()
		return
	}
	m.state = Reconnecting
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.log.Warn("channel lost", "error", err)
	if owner != nil {
		owner.OnDisconnect(err)
	}
}

// scheduleReconnectLocked arms the fixed-delay retry timer. Callers hold mu.
func (m *Manager) scheduleReconnectLocked() {
	m.state = Reconnecting
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.delay, func() {
		m.mu.Lock()
		// A manual Connect or Reconnect may have settled the channel between
		// arming and firing; a live connection makes this retry stale.
		if !m.maintain || m.state == Connected {
			m.mu.Unlock()
			return
		}
		m.attempts++
		m.state = Connecting
		m.mu.Unlock()
		observability.ChannelReconnects.Inc()
		_ = m.attempt()
	})
}

// Send marshals payload and writes it to the socket. While not connected the
// payload is dropped, not queued: the server is authoritative and the client
// resyncs on reconnect.
func (m *Manager) Send(payload any) {
	m.mu.Lock()
	c := m.conn
	connected := m.state == Connected
	m.mu.Unlock()
	if !connected || c == nil {
		observability.SendsDropped.Inc()
		m.log.Debug("send dropped while disconnected")
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		m.log.Error("send marshal failed", "error", err)
		return
	}
	m.writeMu.Lock()
	err = c.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		m.log.Warn("channel write failed", "error", err)
	}
}

// Shutdown stops reconnection and closes the socket. The only way to reach
// terminal Disconnected.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.maintain = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.state = Disconnected
	m.mu.Unlock()
	observability.ChannelConnected.Set(0)
	m.log.Info("channel shut down")
}

// State reports the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts reports the reconnect-attempt counter; it resets to 0 on success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastError reports the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}
