package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/circuit-labs/circuit/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // 90% of pongWait
	maxMessageSize = 65536

	sendBufferSize = 256
)

// conn is one client connection. It implements Sender; outbound frames
// go through the buffered send channel so the write pump serializes all
// socket writes. The mutex guards closed and lastHeartbeat, and orders
// Send against closeSend: dispatch goroutines may outlive the
// connection, so only closeSend may close the channel and Send must
// observe the flag first.
type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	id   string
	send chan []byte

	closed        bool
	lastHeartbeat time.Time
	mu            sync.Mutex
}

func newConn(hub *Hub, ws *websocket.Conn, id string) *conn {
	return &conn{
		hub:           hub,
		ws:            ws,
		id:            id,
		send:          make(chan []byte, sendBufferSize),
		lastHeartbeat: time.Now(),
	}
}

func (c *conn) Send(msg protocol.Outbound) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound %s: %w", msg.MsgType(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("connection %s send buffer is saturated", c.id)
	}
}

// closeSend marks the connection closed and shuts the send channel so
// writePump drains and exits. Only closeSend may close the channel;
// late Sends from still-running dispatch goroutines get an error
// instead of a send on a closed channel. Safe to call more than once.
func (c *conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *conn) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close",
					zap.String("conn_id", c.id),
					zap.Error(err),
				)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		// any frame counts as liveness, not just pings
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()

		// one dispatch per frame; a slow handler must not hold up the
		// read loop or other connections
		go c.hub.dispatcher.Dispatch(c.hub.ctx, c, message)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
