package integration

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/circuit-labs/circuit/internal/cache"
	"github.com/circuit-labs/circuit/internal/client"
	"github.com/circuit-labs/circuit/internal/server"
	"github.com/circuit-labs/circuit/internal/settings"
	"github.com/circuit-labs/circuit/internal/storage"
)

// serverHarness runs a real hub, dispatcher, and settings store over a
// real WebSocket endpoint backed by a temp sqlite file.
type serverHarness struct {
	t          *testing.T
	token      string
	db         *sql.DB
	store      *settings.Store
	hub        *server.Hub
	httpServer *httptest.Server
	cancel     context.CancelFunc

	heartbeatInterval time.Duration
	heartbeatTimeout  int
}

type harnessOption func(*serverHarness)

func withAuthToken(token string) harnessOption {
	return func(h *serverHarness) { h.token = token }
}

// withDB reuses an existing database, simulating a restart over
// persisted state.
func withDB(db *sql.DB) harnessOption {
	return func(h *serverHarness) { h.db = db }
}

// withFastHeartbeatTimeout makes the hub drop silent clients quickly so
// disconnect behavior can be exercised in test time.
func withFastHeartbeatTimeout(interval time.Duration, count int) harnessOption {
	return func(h *serverHarness) {
		h.heartbeatInterval = interval
		h.heartbeatTimeout = count
	}
}

func newServerHarness(t *testing.T, opts ...harnessOption) *serverHarness {
	t.Helper()

	h := &serverHarness{
		t:                 t,
		heartbeatInterval: time.Second,
		heartbeatTimeout:  30,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.db == nil {
		h.db = setupIntegrationDB(t)
	}

	mem, err := cache.NewMemory(64)
	if err != nil {
		t.Fatalf("new memory cache: %v", err)
	}
	h.store = settings.NewStore(mem, storage.NewStore(h.db), zap.NewNop())

	dispatcher := server.NewDispatcher(zap.NewNop())
	dispatcher.MustRegister(server.UserRoutes(h.store, zap.NewNop())...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.hub = server.NewHub(ctx, dispatcher, h.token, nil, h.heartbeatInterval, h.heartbeatTimeout, zap.NewNop())
	go h.hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.hub.ServeWS)
	h.httpServer = httptest.NewServer(mux)

	t.Cleanup(h.shutdown)
	return h
}

// shutdown stops the HTTP surface and the hub. Safe to call twice.
func (h *serverHarness) shutdown() {
	h.httpServer.Close()
	h.cancel()
}

func (h *serverHarness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.httpServer.URL, "http") + "/ws"
}

func (h *serverHarness) waitForClientCount(t *testing.T, count int) {
	t.Helper()
	waitFor(t, 3*time.Second, func() bool {
		return h.hub.ClientCount() == count
	}, "hub client count")
}

// testClient wraps a Manager with fast reconnect timings and a state
// transition channel for synchronization.
type testClient struct {
	m      *client.Manager
	states chan client.State
}

func newTestClient(t *testing.T, h *serverHarness, heartbeat time.Duration, extra ...client.Option) *testClient {
	t.Helper()

	tc := &testClient{states: make(chan client.State, 32)}
	opts := append([]client.Option{
		client.WithBackoff(&client.Backoff{Min: 20 * time.Millisecond, Max: 150 * time.Millisecond, Factor: 2, Jitter: 0.1}),
		client.WithHeartbeatInterval(heartbeat),
		client.WithStateListener(func(s client.State) { tc.states <- s }),
	}, extra...)

	tc.m = client.NewManager(h.wsURL(), h.token, zap.NewNop(), opts...)
	t.Cleanup(tc.m.Close)
	return tc
}

func (tc *testClient) waitState(t *testing.T, want client.State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-tc.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for client state %v", want)
		}
	}
}

func setupIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "integration-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	_ = tmpFile.Close()

	db, err := sql.Open("sqlite", tmpFile.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(tmpFile.Name())
	})

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool, label string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", label)
}
