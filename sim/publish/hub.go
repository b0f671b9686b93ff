package publish

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

const writeTimeout = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub broadcasts vitals and alarm envelopes as text frames to every connected
// WebSocket client. A client whose write fails is dropped.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	writeMu sync.Mutex // one writer per connection at a time
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]bool)}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and holds the connection until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Debugf("[publish] websocket upgrade failed: %v", err)
		return
	}
	h.add(conn)
	logrus.Debugf("[publish] websocket client %s connected", r.RemoteAddr)
	defer func() {
		h.remove(conn)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) broadcast(b []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, c := range h.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = c.Close()
			h.remove(c)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		_ = c.Close()
		h.remove(c)
	}
}

// PublishVitals implements sim.Sink.
func (h *Hub) PublishVitals(v sim.Vitals) error {
	b, err := encodeVitals(v)
	if err != nil {
		return err
	}
	h.broadcast(b)
	return nil
}

// PublishAlarm implements alarm.Listener.
func (h *Hub) PublishAlarm(ev alarm.Event) error {
	b, err := encodeAlarm(ev)
	if err != nil {
		return err
	}
	h.broadcast(b)
	return nil
}
