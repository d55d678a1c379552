// Package wshub fans out poller/setpoint push events to subscribed
// websocket clients. It is grounded on the teacher's arx-backend realtime
// websocket_service.go (upgrader construction, a per-connection write loop,
// a broadcast-to-all registry guarded by one mutex) generalized from a
// room/presence chat service to a single global fan-out of the five event
// names §6.1 defines (realtime_data_update, device_data_update,
// coil_update, device_coil_update, critical_value_changed).
package wshub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Event is the envelope every subscriber receives, one per poller.PushChannel.Emit call.
type Event struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Hub is a poller.PushChannel implementation that broadcasts every emitted
// event to every currently-connected websocket client.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// New builds a Hub. allowedOrigins == nil means accept any origin.
func New(logger *zap.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeHTTP upgrades the connection and registers it for broadcasts until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("wshub: upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan Event, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop drains and discards inbound frames (this hub is publish-only)
// and detects disconnects; gorilla requires reads to keep the connection
// alive against close control frames.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Emit satisfies poller.PushChannel: best-effort broadcast to every
// connected client, dropping the event for any client whose send buffer is
// full rather than blocking the poller.
func (h *Hub) Emit(eventName string, payload map[string]any) {
	event := Event{Type: eventName, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.logger.Warn("wshub: dropping event, client send buffer full", zap.String("event", eventName))
		}
	}
}

// ClientCount returns the number of currently-connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
