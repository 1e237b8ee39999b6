package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub tracks live websocket subscribers per user id and fans newly stored
// readings out to them. Delivery is best effort: there is no queueing beyond
// the per-client send buffer and no replay.
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[int64]map[*client]struct{}
}

type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		subscribers: map[int64]map[*client]struct{}{},
	}
}

// Serve upgrades the request and keeps the connection registered under userID
// until the peer goes away. Inbound frames are read and discarded; they only
// serve as liveness signals.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, 16)}
	h.addClient(c)

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast sends payload to every subscriber registered under userID. A
// subscriber that cannot accept the message is dropped; the rest still get
// it. No subscribers is a no-op.
func (h *Hub) Broadcast(userID int64, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subscribers[userID] {
		select {
		case c.send <- b:
		default:
			// Slow client; treat as disconnected.
			h.dropLocked(c)
		}
	}
}

// Subscribers returns the number of live handles for userID.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subscribers[c.userID]
	if set == nil {
		set = map[*client]struct{}{}
		h.subscribers[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[c.userID][c]; ok {
		h.dropLocked(c)
	}
}

// dropLocked must be called with h.mu held.
func (h *Hub) dropLocked(c *client) {
	delete(h.subscribers[c.userID], c)
	if len(h.subscribers[c.userID]) == 0 {
		delete(h.subscribers, c.userID)
	}
	close(c.send)
	_ = c.conn.Close()
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
