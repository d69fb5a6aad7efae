// Package client implements the resilient WebSocket client: a
// reconnect-with-backoff state machine, heartbeat, outbound queueing
// while disconnected, and a type-keyed listener registry for inbound
// dispatch.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/circuit-labs/circuit/internal/protocol"
)

const (
	dialTimeout      = 10 * time.Second
	writeTimeout     = 10 * time.Second
	defaultHeartbeat = 15 * time.Second
)

// State is the connection lifecycle phase. Reconnecting is encoded as a
// scheduled transition from StateClosed back to StateConnecting.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is the socket surface the manager drives. *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens one socket. Injected so tests can hand the manager fake
// connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Listener receives the raw bytes of one inbound frame whose type field
// matched the subscription.
type Listener func(raw json.RawMessage)

// Manager owns the socket lifecycle. All connection state lives here
// and is mutated nowhere else.
type Manager struct {
	url       string
	authToken string
	logger    *zap.Logger

	backoff       *Backoff
	sched         Scheduler
	dialer        Dialer
	heartbeat     time.Duration
	autoReconnect bool
	onState       func(State)

	mu             sync.Mutex
	state          State
	conn           Conn
	queue          [][]byte
	listeners      map[string]map[int]Listener
	nextListenerID int
	reconnectTimer Timer
	heartbeatTimer Timer
	closed         bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff overrides the default reconnect schedule.
func WithBackoff(b *Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithScheduler injects a virtual clock/scheduler, for tests.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// WithDialer injects a socket factory, for tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithHeartbeatInterval sets the protocol ping cadence. Zero disables
// the heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.heartbeat = d }
}

// WithAutoReconnect toggles reconnect scheduling after an unexpected
// close. Enabled by default.
func WithAutoReconnect(enabled bool) Option {
	return func(m *Manager) { m.autoReconnect = enabled }
}

// WithStateListener observes every state transition, for status
// displays and tests. Called synchronously; must not call back into
// the manager.
func WithStateListener(fn func(State)) Option {
	return func(m *Manager) { m.onState = fn }
}

// NewManager creates a client connection manager for the given server
// URL. Call Connect to start and Close to tear down.
func NewManager(url, authToken string, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		url:           url,
		authToken:     authToken,
		logger:        logger,
		backoff:       DefaultBackoff(),
		sched:         NewScheduler(),
		dialer:        wsDialer{},
		heartbeat:     defaultHeartbeat,
		autoReconnect: true,
		state:         StateIdle,
		listeners:     make(map[string]map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a connection attempt unless one is already underway.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.dial()
}

func (m *Manager) dial() {
	header := http.Header{}
	if m.authToken != "" {
		header.Set("Authorization", "Bearer "+m.authToken)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := m.dialer.Dial(ctx, m.url, header)
	cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn("dial failed", zap.String("url", m.url), zap.Error(err))
		m.setStateLocked(StateClosed)
		if m.autoReconnect {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.backoff.Reset()
	m.setStateLocked(StateOpen)
	m.logger.Info("connected", zap.String("url", m.url))

	// queued sends go out first, in enqueue order
	if ok := m.flushQueueLocked(); !ok {
		m.mu.Unlock()
		m.handleDisconnect(conn)
		return
	}
	m.scheduleHeartbeatLocked(conn)
	m.mu.Unlock()

	go m.readLoop(conn)
}

// Send serializes msg immediately and transmits it if the socket is
// open, otherwise queues it until the next open. Send never blocks on
// the network beyond the write deadline.
func (m *Manager) Send(msg protocol.Inbound) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("connection manager is closed")
	}
	if m.state == StateOpen && m.conn != nil {
		return m.writeLocked(m.conn, data)
	}
	m.queue = append(m.queue, data)
	return nil
}

// On registers a listener for one inbound discriminant. Multiple
// listeners per discriminant are supported. The returned unsubscribe
// is idempotent and safe to call from inside the listener itself.
// Frames with unknown discriminants are dropped silently.
func (m *Manager) On(msgType string, fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextListenerID
	m.nextListenerID++
	if m.listeners[msgType] == nil {
		m.listeners[msgType] = make(map[int]Listener)
	}
	m.listeners[msgType][id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.listeners[msgType]; ok {
			delete(set, id)
		}
	}
}

// WakeUp forces an immediate reconnect attempt when the socket is not
// open, bypassing any scheduled backoff wait without resetting the
// attempt counter. Intended for foreground/visibility signals.
func (m *Manager) WakeUp() {
	m.mu.Lock()
	if m.closed || m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	timer := m.reconnectTimer
	m.reconnectTimer = nil
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	m.Connect()
}

// Close tears the manager down: cancels every pending timer, closes
// the socket, and prevents all future reconnects. Safe to call more
// than once and from within a listener callback.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimersLocked()
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateClosed)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (m *Manager) readLoop(conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn)
			return
		}
		m.dispatch(raw)
	}
}

// dispatch parses the frame's discriminant once and fans the raw bytes
// out to every listener registered for it.
func (m *Manager) dispatch(raw []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Type == "" {
		m.logger.Debug("dropping unparseable frame", zap.Error(err))
		return
	}

	m.mu.Lock()
	set := m.listeners[probe.Type]
	fns := make([]Listener, 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(raw)
	}
}

func (m *Manager) handleDisconnect(conn Conn) {
	m.mu.Lock()
	if m.conn != conn {
		// a stale read loop from a connection already replaced
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = nil
	m.stopTimersLocked()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.setStateLocked(StateClosed)
	if m.autoReconnect {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
	conn.Close()
}

func (m *Manager) scheduleReconnectLocked() {
	delay := m.backoff.Duration()
	m.logger.Info("reconnecting",
		zap.Duration("backoff", delay),
		zap.Int("attempt", m.backoff.Attempt()),
	)
	m.reconnectTimer = m.sched.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()
		m.Connect()
	})
}

func (m *Manager) scheduleHeartbeatLocked(conn Conn) {
	if m.heartbeat <= 0 {
		return
	}
	m.heartbeatTimer = m.sched.AfterFunc(m.heartbeat, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.state != StateOpen || m.conn != conn {
			return
		}
		data, err := protocol.Marshal(protocol.NewPing(m.sched.Now().UnixMilli()))
		if err == nil {
			// a failed ping write surfaces through the read loop
			m.writeLocked(conn, data)
		}
		m.scheduleHeartbeatLocked(conn)
	})
}

// flushQueueLocked transmits the queue in enqueue order, then discards
// it. On a write failure the unsent remainder stays queued for the
// next open. Returns false when the connection broke mid-flush.
func (m *Manager) flushQueueLocked() bool {
	for i, data := range m.queue {
		if err := m.writeLocked(m.conn, data); err != nil {
			m.queue = m.queue[i:]
			return false
		}
	}
	m.queue = nil
	return true
}

func (m *Manager) writeLocked(conn Conn, data []byte) error {
	conn.SetWriteDeadline(m.sched.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) stopTimersLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}
