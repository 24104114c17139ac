package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

var (
	errDial         = errors.New("dial refused")
	errSocketClosed = errors.New("socket closed")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

// ----------------------------------------------------------------------------
// Manual clock
// ----------------------------------------------------------------------------

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, running due timers in order on the calling
// goroutine. Timers scheduled by a callback run too if they fall due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ----------------------------------------------------------------------------
// In-memory transport
// ----------------------------------------------------------------------------

type fakeTransport struct {
	mu      sync.Mutex
	failAll bool
	failN   int
	dials   int
	urls    []string
	sockets []*fakeSocket
}

func (t *fakeTransport) Dial(_ context.Context, url string) (Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	t.urls = append(t.urls, url)
	if t.failAll {
		return nil, errDial
	}
	if t.failN > 0 {
		t.failN--
		return nil, errDial
	}
	s := newFakeSocket()
	t.sockets = append(t.sockets, s)
	return s, nil
}

func (t *fakeTransport) setFailAll(v bool) {
	t.mu.Lock()
	t.failAll = v
	t.mu.Unlock()
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) socket(i int) *fakeSocket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 {
		i += len(t.sockets)
	}
	if i < 0 || i >= len(t.sockets) {
		return nil
	}
	return t.sockets[i]
}

type fakeSocket struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	written   [][]byte
	writeErr  error
	closeCode int
	hold      chan struct{} // when set, Write blocks until it is closed
	writing   chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (s *fakeSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		return nil, errSocketClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	hold, writing := s.hold, s.writing
	s.mu.Unlock()
	if hold != nil {
		select {
		case writing <- struct{}{}:
		default:
		}
		<-hold
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close(code int, _ string) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCode = code
		s.mu.Unlock()
		close(s.closed)
	})
	return nil
}

// push delivers an inbound envelope to the client.
func (s *fakeSocket) push(t EventType, payload any) {
	data, err := json.Marshal(Envelope{Type: t, Payload: mustPayload(payload)})
	if err != nil {
		panic(err)
	}
	s.in <- data
}

func (s *fakeSocket) pushRaw(data string) {
	s.in <- []byte(data)
}

// stallWrites makes every Write block until release is called. The returned
// channel receives when a write starts blocking.
func (s *fakeSocket) stallWrites() (started <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold := make(chan struct{})
	s.hold = hold
	s.writing = make(chan struct{}, 1)
	var once sync.Once
	return s.writing, func() {
		once.Do(func() {
			s.mu.Lock()
			s.hold = nil
			s.mu.Unlock()
			close(hold)
		})
	}
}

func (s *fakeSocket) failWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *fakeSocket) code() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// sent decodes every frame written so far.
func (s *fakeSocket) sent() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, 0, len(s.written))
	for _, data := range s.written {
		env, err := ParseEnvelope(data)
		if err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

func (s *fakeSocket) sentTypes() []EventType {
	var out []EventType
	for _, env := range s.sent() {
		out = append(out, env.Type)
	}
	return out
}

// ----------------------------------------------------------------------------
// Recording sender
// ----------------------------------------------------------------------------

type sentCommand struct {
	Command
	Priority bool
}

type recordingSender struct {
	mu   sync.Mutex
	cmds []sentCommand
	err  error
}

func (r *recordingSender) Send(t EventType, payload any) (Delivery, error) {
	return r.record(t, payload, false)
}

func (r *recordingSender) SendPriority(t EventType, payload any) (Delivery, error) {
	return r.record(t, payload, true)
}

func (r *recordingSender) record(t EventType, payload any, priority bool) (Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Dropped, r.err
	}
	r.cmds = append(r.cmds, sentCommand{Command{Type: t, Payload: payload}, priority})
	return Delivered, nil
}

func (r *recordingSender) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recordingSender) commands() []sentCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentCommand(nil), r.cmds...)
}

func (r *recordingSender) ofType(t EventType) []sentCommand {
	var out []sentCommand
	for _, c := range r.commands() {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Fixtures
// ----------------------------------------------------------------------------

func testConfig() *Config {
	return &Config{
		URL:    "ws://chat.test/ws",
		UserID: "me",
		Logger: discardLogger(),
	}
}

func newTestClient(t *testing.T, cfg *Config) (*RealtimeClient, *fakeTransport, *fakeClock) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	tr := &fakeTransport{}
	clock := newFakeClock()
	c := NewRealtimeClient(cfg, WithTransport(tr), WithClock(clock))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, tr, clock
}

func newTestActions(userID string) (*Actions, *recordingSender, *fakeClock) {
	rs := &recordingSender{}
	clock := newFakeClock()
	cfg := testConfig()
	cfg.UserID = userID
	return NewActions(rs, cfg, clock), rs, clock
}
