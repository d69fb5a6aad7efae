package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/circuit-labs/circuit/internal/protocol"
)

type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   bool
	readCh   chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{readCh: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-c.readCh
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, raw, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.readCh)
	}
	return nil
}

func (c *fakeConn) deliver(raw string) { c.readCh <- []byte(raw) }

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	errs  []error
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) Dial(context.Context, string, http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Unix(1700000000, 0)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, ft)
	return ft
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// live returns timers that have neither fired nor been stopped.
func (s *fakeScheduler) live() []*fakeTimer {
	s.mu.Lock()
	timers := append([]*fakeTimer(nil), s.timers...)
	s.mu.Unlock()

	var out []*fakeTimer
	for _, ft := range timers {
		ft.mu.Lock()
		ok := !ft.stopped && !ft.fired
		ft.mu.Unlock()
		if ok {
			out = append(out, ft)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type testHarness struct {
	m      *Manager
	dialer *fakeDialer
	sched  *fakeScheduler
	states chan State
}

func newTestHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	h := &testHarness{
		dialer: &fakeDialer{},
		sched:  newFakeScheduler(),
		states: make(chan State, 32),
	}
	all := append([]Option{
		WithDialer(h.dialer),
		WithScheduler(h.sched),
		WithHeartbeatInterval(0),
		WithStateListener(func(s State) { h.states <- s }),
	}, opts...)
	h.m = NewManager("ws://localhost:9999/ws", "", nil, all...)
	t.Cleanup(h.m.Close)
	return h
}

func (h *testHarness) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestConnectFlushesQueueInOrder(t *testing.T) {
	h := newTestHarness(t)

	for fid := int64(1); fid <= 3; fid++ {
		if err := h.m.Send(protocol.NewUserGetSettings(fid)); err != nil {
			t.Fatalf("queueing send %d: %v", fid, err)
		}
	}

	h.m.Connect()
	h.waitState(t, StateOpen)

	conn := h.dialer.conn(0)
	waitFor(t, func() bool { return len(conn.sent()) == 3 }, "queue never flushed")

	for i, raw := range conn.sent() {
		var frame struct {
			Type string `json:"type"`
			Fid  int64  `json:"fid"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame.Fid != int64(i+1) {
			t.Errorf("frame %d: got fid %d, want %d (out of order)", i, frame.Fid, i+1)
		}
	}
}

func TestSendWhileOpenWritesImmediately(t *testing.T) {
	h := newTestHarness(t)
	h.m.Connect()
	h.waitState(t, StateOpen)

	if err := h.m.Send(protocol.NewUserLogin(42)); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn := h.dialer.conn(0)
	waitFor(t, func() bool { return len(conn.sent()) == 1 }, "frame never written")
}

func TestDialFailureSchedulesBackoffReconnect(t *testing.T) {
	h := newTestHarness(t)
	h.dialer.errs = []error{errors.New("connection refused")}

	h.m.Connect()
	h.waitState(t, StateClosed)
	waitFor(t, func() bool { return len(h.sched.live()) == 1 }, "reconnect never scheduled")

	timer := h.sched.live()[0]
	if timer.d != 250*time.Millisecond {
		t.Fatalf("first reconnect delay: got %v, want 250ms", timer.d)
	}

	timer.fire()
	h.waitState(t, StateOpen)
	if h.dialer.dialCount() != 2 {
		t.Errorf("dial count: got %d, want 2", h.dialer.dialCount())
	}
}

func TestBackoffResetsAfterSuccessfulOpen(t *testing.T) {
	h := newTestHarness(t)
	h.dialer.errs = []error{errors.New("refused"), errors.New("refused")}

	h.m.Connect()
	waitFor(t, func() bool { return len(h.sched.live()) == 1 }, "first reconnect not scheduled")
	h.sched.live()[0].fire()
	waitFor(t, func() bool { return len(h.sched.live()) == 1 }, "second reconnect not scheduled")

	// second consecutive failure doubles the delay
	if d := h.sched.live()[0].d; d != 500*time.Millisecond {
		t.Fatalf("second reconnect delay: got %v, want 500ms", d)
	}
	h.sched.live()[0].fire()
	h.waitState(t, StateOpen)

	// a drop after a successful open starts the schedule over
	h.dialer.conn(0).Close()
	h.waitState(t, StateClosed)
	waitFor(t, func() bool { return len(h.sched.live()) == 1 }, "reconnect after drop not scheduled")
	if d := h.sched.live()[0].d; d != 250*time.Millisecond {
		t.Errorf("delay after successful open: got %v, want 250ms", d)
	}
}

func TestWakeUpBypassesScheduledWait(t *testing.T) {
	h := newTestHarness(t)
	h.dialer.errs = []error{errors.New("refused")}

	h.m.Connect()
	h.waitState(t, StateClosed)
	waitFor(t, func() bool { return len(h.sched.live()) == 1 }, "reconnect never scheduled")
	timer := h.sched.live()[0]

	h.m.WakeUp()
	h.waitState(t, StateOpen)
	if h.dialer.dialCount() != 2 {
		t.Fatalf("dial count after wake: got %d, want 2", h.dialer.dialCount())
	}

	timer.mu.Lock()
	stopped := timer.stopped
	timer.mu.Unlock()
	if !stopped {
		t.Error("pending reconnect timer should have been cancelled")
	}
}

func TestWakeUpIsNoOpWhileOpen(t *testing.T) {
	h := newTestHarness(t)
	h.m.Connect()
	h.waitState(t, StateOpen)

	h.m.WakeUp()
	time.Sleep(20 * time.Millisecond)
	if h.dialer.dialCount() != 1 {
		t.Errorf("WakeUp while open must not redial, got %d dials", h.dialer.dialCount())
	}
}

func TestCloseStopsReconnectsAndSends(t *testing.T) {
	h := newTestHarness(t)
	h.dialer.errs = []error{errors.New("refused")}

	h.m.Connect()
	h.waitState(t, StateClosed)
	waitFor(t, func() bool { return len(h.sched.live()) == 1 }, "reconnect never scheduled")

	h.m.Close()
	if len(h.sched.live()) != 0 {
		t.Error("Close must cancel pending timers")
	}
	if err := h.m.Send(protocol.NewUserLogin(1)); err == nil {
		t.Error("Send after Close must fail")
	}
	h.m.Connect()
	time.Sleep(20 * time.Millisecond)
	if h.dialer.dialCount() != 1 {
		t.Errorf("Connect after Close must not dial, got %d dials", h.dialer.dialCount())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	h.m.Connect()
	h.waitState(t, StateOpen)

	h.m.Close()
	h.m.Close()
	if got := h.m.State(); got != StateClosed {
		t.Errorf("state after close: got %v, want closed", got)
	}
}

func TestHeartbeatSendsProtocolPing(t *testing.T) {
	h := newTestHarness(t, WithHeartbeatInterval(15*time.Second))
	h.m.Connect()
	h.waitState(t, StateOpen)

	waitFor(t, func() bool { return len(h.sched.live()) == 1 }, "heartbeat never scheduled")
	hb := h.sched.live()[0]
	if hb.d != 15*time.Second {
		t.Fatalf("heartbeat interval: got %v, want 15s", hb.d)
	}
	hb.fire()

	conn := h.dialer.conn(0)
	waitFor(t, func() bool { return len(conn.sent()) == 1 }, "ping never written")

	var ping struct {
		Type string `json:"type"`
		T    int64  `json:"t"`
	}
	if err := json.Unmarshal(conn.sent()[0], &ping); err != nil {
		t.Fatalf("ping frame: %v", err)
	}
	if ping.Type != protocol.TypePing {
		t.Errorf("heartbeat type: got %q, want %q", ping.Type, protocol.TypePing)
	}
	if ping.T != h.sched.Now().UnixMilli() {
		t.Errorf("heartbeat timestamp: got %d, want %d", ping.T, h.sched.Now().UnixMilli())
	}

	// the heartbeat reschedules itself
	if len(h.sched.live()) != 1 {
		t.Error("heartbeat should be rescheduled after firing")
	}
}

func TestListenerFanOutAndUnsubscribe(t *testing.T) {
	h := newTestHarness(t)
	h.m.Connect()
	h.waitState(t, StateOpen)

	got1 := make(chan json.RawMessage, 4)
	got2 := make(chan json.RawMessage, 4)
	unsub1 := h.m.On(protocol.TypeUserLoginAck, func(raw json.RawMessage) { got1 <- raw })
	h.m.On(protocol.TypeUserLoginAck, func(raw json.RawMessage) { got2 <- raw })

	conn := h.dialer.conn(0)
	conn.deliver(`{"type":"user.login:ack","fid":42}`)

	for i, ch := range []chan json.RawMessage{got1, got2} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("listener %d never invoked", i+1)
		}
	}

	unsub1()
	unsub1() // idempotent
	conn.deliver(`{"type":"user.login:ack","fid":43}`)

	select {
	case <-got2:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining listener never invoked")
	}
	select {
	case <-got1:
		t.Error("unsubscribed listener still invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnknownFramesDroppedSilently(t *testing.T) {
	h := newTestHarness(t)
	h.m.Connect()
	h.waitState(t, StateOpen)

	got := make(chan json.RawMessage, 4)
	h.m.On(protocol.TypeUserLoginAck, func(raw json.RawMessage) { got <- raw })

	conn := h.dialer.conn(0)
	conn.deliver(`{"type":"totally.unknown"}`)
	conn.deliver(`not even json`)
	conn.deliver(`{"type":"user.login:ack","fid":1}`)

	select {
	case raw := <-got:
		var frame struct {
			Fid int64 `json:"fid"`
		}
		json.Unmarshal(raw, &frame)
		if frame.Fid != 1 {
			t.Errorf("wrong frame delivered: %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after junk never delivered")
	}
	if len(got) != 0 {
		t.Error("junk frames should not reach listeners")
	}
}
