package devserver

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zulandar/chatline/internal/protocol"
)

const writeWait = 5 * time.Second

// client is one connected user socket. Writes are serialized.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *client) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.conn.Close()
}

// Hub tracks one live socket per user. A new connection replaces the old
// one.
type Hub struct {
	mu      sync.Mutex
	clients map[int64]*client
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[int64]*client)}
}

func (h *Hub) register(userID int64, conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.mu.Lock()
	old := h.clients[userID]
	h.clients[userID] = c
	h.mu.Unlock()
	if old != nil {
		log.Printf("devserver: replacing connection for user %d", userID)
		old.close(websocket.CloseNormalClosure, "replaced by a new connection")
	}
	return c
}

func (h *Hub) unregister(userID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == c {
		delete(h.clients, userID)
	}
}

// Connected reports whether the user has a live socket.
func (h *Hub) Connected(userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[userID]
	return ok
}

// Send delivers an envelope to the user. A user without a socket is
// skipped.
func (h *Hub) Send(userID int64, t protocol.Type, payload any) error {
	frame, err := protocol.Marshal(t, payload)
	if err != nil {
		return fmt.Errorf("devserver: send %s: %w", t, err)
	}
	h.mu.Lock()
	c := h.clients[userID]
	h.mu.Unlock()
	if c == nil {
		log.Printf("devserver: user %d not connected, dropping %s", userID, t)
		return nil
	}
	if err := c.write(frame); err != nil {
		return fmt.Errorf("devserver: send %s to %d: %w", t, userID, err)
	}
	return nil
}
