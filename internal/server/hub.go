package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub manages all client WebSocket connections using the Gorilla hub
// pattern. Inbound frames are handed to the dispatcher; the hub itself
// only tracks connection lifecycle and heartbeat liveness.
type Hub struct {
	clients    map[string]*conn
	register   chan *conn
	unregister chan *conn

	dispatcher *Dispatcher

	authToken      string
	allowedOrigins []string

	heartbeatInterval time.Duration
	heartbeatTimeout  int

	upgrader websocket.Upgrader
	logger   *zap.Logger
	mu       sync.RWMutex
	ctx      context.Context
}

func NewHub(
	ctx context.Context,
	dispatcher *Dispatcher,
	authToken string,
	allowedOrigins []string,
	heartbeatInterval time.Duration,
	heartbeatTimeout int,
	logger *zap.Logger,
) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:           make(map[string]*conn),
		register:          make(chan *conn),
		unregister:        make(chan *conn),
		dispatcher:        dispatcher,
		authToken:         authToken,
		allowedOrigins:    allowedOrigins,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		logger:            logger,
		ctx:               ctx,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *Hub) Run() {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				c.closeSend()
				c.ws.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			count := len(h.clients)
			h.mu.Unlock()
			GetMetrics().SetConnectionsActive(float64(count))
			h.logger.Info("client connected", zap.String("conn_id", c.id))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				c.closeSend()
				h.logger.Info("client disconnected", zap.String("conn_id", c.id))
			}
			count := len(h.clients)
			h.mu.Unlock()
			GetMetrics().SetConnectionsActive(float64(count))

		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

// ServeWS handles WebSocket upgrade requests with token auth (header or
// query param).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}

	if h.authToken != "" && token != h.authToken {
		GetMetrics().RecordConnection("rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		GetMetrics().RecordConnection("rejected")
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	GetMetrics().RecordConnection("accepted")

	c := newConn(h, ws, uuid.New().String())
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Hub) checkHeartbeats() {
	timeout := h.heartbeatInterval * time.Duration(h.heartbeatTimeout)
	now := time.Now()

	h.mu.RLock()
	var timedOut []*conn
	for _, c := range h.clients {
		c.mu.Lock()
		elapsed := now.Sub(c.lastHeartbeat)
		c.mu.Unlock()
		if elapsed > timeout {
			timedOut = append(timedOut, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range timedOut {
		h.logger.Warn("client heartbeat timeout", zap.String("conn_id", c.id))
		c.ws.Close()
	}
}
