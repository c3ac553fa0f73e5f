package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu     sync.Mutex
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// fakeDialer scripts connection attempts: n failures, then live conns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) dial(string, http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type recListener struct {
	mu          sync.Mutex
	frames      [][]byte
	disconnects int
}

func (l *recListener) OnFrame(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, data)
}

func (l *recListener) OnDisconnect(error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
}

func (l *recListener) frameCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func newTestManager(d *fakeDialer, delay time.Duration) *Manager {
	m := NewManager("ws://test", "tok", delay, nil)
	m.SetDialFunc(d.dial)
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, time.Minute)
	defer m.Shutdown()

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Connect(); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if d.dialCount() != 1 {
		t.Fatalf("dials = %d, want 1", d.dialCount())
	}
	if m.State() != Connected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestSendDroppedWhileDisconnected(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, time.Minute)
	// No connect: must not panic, nothing to write to.
	m.Send(map[string]string{"type": "ping"})
}

func TestSendWritesJSONWhileConnected(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, time.Minute)
	defer m.Shutdown()
	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}

	m.Send(map[string]any{"type": "subscribe_nearby", "radius": 5000.0})

	w := d.conn(0).written()
	if len(w) != 1 {
		t.Fatalf("writes = %d", len(w))
	}
	var got map[string]any
	if err := json.Unmarshal(w[0], &got); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if got["type"] != "subscribe_nearby" {
		t.Fatalf("payload = %v", got)
	}
}

func TestReconnectUntilSuccessThenCounterResets(t *testing.T) {
	d := &fakeDialer{failures: 3}
	m := newTestManager(d, 10*time.Millisecond)
	defer m.Shutdown()

	if err := m.Connect(); err == nil {
		t.Fatal("first attempt should fail")
	}
	waitFor(t, func() bool { return m.State() == Connected })

	if d.dialCount() != 4 {
		t.Fatalf("dials = %d, want 4", d.dialCount())
	}
	if m.Attempts() != 0 {
		t.Fatalf("attempt counter = %d, must reset on success", m.Attempts())
	}
}

func TestConnectDuringReconnectingStopsRetryTimer(t *testing.T) {
	d := &fakeDialer{failures: 1}
	m := newTestManager(d, 20*time.Millisecond)
	defer m.Shutdown()

	if err := m.Connect(); err == nil {
		t.Fatal("first attempt should fail")
	}
	if m.State() != Reconnecting {
		t.Fatalf("state = %v", m.State())
	}
	// Manual connect while the retry timer is armed.
	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if d.dialCount() != 2 {
		t.Fatalf("dials = %d, want 2", d.dialCount())
	}

	// The superseded timer must never fire behind the live connection.
	time.Sleep(80 * time.Millisecond)
	if d.dialCount() != 2 {
		t.Fatalf("stale timer re-dialed: dials = %d, want 2", d.dialCount())
	}
	if m.Attempts() != 0 {
		t.Fatalf("attempt counter = %d while connected", m.Attempts())
	}
	if d.conn(0).isClosed() {
		t.Fatal("healthy socket closed by stale retry")
	}
	if m.State() != Connected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestConnectionLossSchedulesReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, 10*time.Millisecond)
	defer m.Shutdown()
	l := &recListener{}
	m.Attach(l)

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}
	d.conn(0).Close() // sever the link

	waitFor(t, func() bool { return d.dialCount() >= 2 && m.State() == Connected })
	l.mu.Lock()
	disc := l.disconnects
	l.mu.Unlock()
	if disc != 1 {
		t.Fatalf("disconnect notifications = %d", disc)
	}
}

func TestOwnershipTransferDeliversToExactlyOneListener(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, time.Minute)
	defer m.Shutdown()
	a := &recListener{}
	m.Attach(a)
	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}
	conn := d.conn(0)

	conn.in <- []byte(`{"type":"pong"}`)
	waitFor(t, func() bool { return a.frameCount() == 1 })

	b := &recListener{}
	m.Transfer(b)
	conn.in <- []byte(`{"type":"pong"}`)
	waitFor(t, func() bool { return b.frameCount() == 1 })

	if a.frameCount() != 1 {
		t.Fatalf("old owner kept receiving: %d frames", a.frameCount())
	}
}

func TestReleaseAfterTransferKeepsSocketOpen(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, time.Minute)
	a := &recListener{}
	m.Attach(a)
	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}

	b := &recListener{}
	m.Transfer(b)
	// The origin screen tears down after handing the channel over.
	m.Release(a)

	if m.State() != Connected {
		t.Fatalf("state = %v, transfer origin must not close the socket", m.State())
	}
	if d.conn(0).isClosed() {
		t.Fatal("socket closed by transferred-away owner")
	}

	// The current owner's release does tear the channel down.
	m.Release(b)
	if m.State() != Disconnected {
		t.Fatalf("state = %v", m.State())
	}
	if !d.conn(0).isClosed() {
		t.Fatal("socket must close on owner release")
	}
}

func TestShutdownSuppressesReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, 5*time.Millisecond)
	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}
	m.Shutdown()

	time.Sleep(50 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Fatalf("dials after shutdown = %d", d.dialCount())
	}
	if m.State() != Disconnected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestManualReconnectReplacesConnection(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, time.Minute)
	defer m.Shutdown()
	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}

	if err := m.Reconnect(); err != nil {
		t.Fatalf("manual reconnect: %v", err)
	}
	if d.dialCount() != 2 {
		t.Fatalf("dials = %d", d.dialCount())
	}
	if !d.conn(0).isClosed() {
		t.Fatal("old socket must be closed")
	}
	if m.State() != Connected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestReconnectAfterShutdownRefused(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, time.Minute)
	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}
	m.Shutdown()
	if err := m.Reconnect(); !errors.Is(err, ErrShutdown) {
		t.Fatalf("err = %v", err)
	}
}
