package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/infradash/infradash/pkg/types"
)

const (
	// DefaultInterval is the broadcast period used when none is configured.
	DefaultInterval = 60 * time.Second

	// EventStatus is the event name of every message the hub sends.
	EventStatus = "status"

	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusSource provides the statuses the hub sends. health.Monitor implements it.
type StatusSource interface {
	// CachedStatuses must not probe; it backs the message sent on connect.
	CachedStatuses() []types.APIStatus
	CheckAllHealth(ctx context.Context) []types.APIStatus
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event       string            `json:"event"`
	GeneratedAt time.Time         `json:"generated_at"`
	Data        []types.APIStatus `json:"data"`
}

// Hub manages WebSocket client connections and broadcasts API statuses to
// all connected clients every interval.
type Hub struct {
	src      StatusSource
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads from src and broadcasts every interval.
func New(src StatusSource, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Hub{
		src:      src,
		interval: interval,
		now:      time.Now,
		clients:  make(map[*client]struct{}),
	}
}

// Run re-checks all APIs and broadcasts every interval. It blocks until ctx
// is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if h.Count() == 0 {
				continue
			}
			h.Broadcast(h.src.CheckAllHealth(ctx))
		}
	}
}

// ServeHTTP upgrades the connection, sends the cached statuses immediately,
// then streams broadcasts. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	if data, err := h.buildMessage(h.src.CachedStatuses()); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends statuses to every connected client. Clients whose buffer
// is full are disconnected.
func (h *Hub) Broadcast(statuses []types.APIStatus) {
	data, err := h.buildMessage(statuses)
	if err != nil {
		slog.Warn("ws: encode message", "err", err)
		return
	}

	// Sends happen under the read lock so unregister cannot close a send
	// channel mid-broadcast. Slow clients are dropped after it is released.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) buildMessage(statuses []types.APIStatus) ([]byte, error) {
	if statuses == nil {
		statuses = []types.APIStatus{}
	}
	return json.Marshal(Message{
		Event:       EventStatus,
		GeneratedAt: h.now().UTC(),
		Data:        statuses,
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages and sends periodic pings. One goroutine
// per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump processes control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
