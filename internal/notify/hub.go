package notify

import (
	"context"
	"sync"

	"github.com/lyzr/canvas-engine/internal/logging"
)

// Hub maintains active WebSocket connections keyed by subject and fans
// broadcast messages out to every client watching that subject.
type Hub struct {
	connections map[string][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	log *logging.Logger
}

// NewHub creates a Hub. Call Run in its own goroutine to start it.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		log:         log,
	}
}

// Run is the hub's event loop; it returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		case m := <-h.broadcast:
			h.broadcastToSubject(m)
		}
	}
}

// Publish enqueues a message for delivery to every client on m.Subject. Safe
// to call from any goroutine; drops the message with a logged warning when
// the broadcast buffer is full, e.g. because the hub's loop isn't running
// (advisory channel, never load-bearing).
func (h *Hub) Publish(m *Message) {
	select {
	case h.broadcast <- m:
	default:
		h.log.Warn("notify broadcast channel full, dropping message", "subject", m.Subject)
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.connections[c.subject] = append(h.connections[c.subject], c)
}

func (h *Hub) unregisterClient(c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[c.subject]
	for i, existing := range clients {
		if existing == c {
			h.connections[c.subject] = append(clients[:i], clients[i+1:]...)
			close(c.send)
			if len(h.connections[c.subject]) == 0 {
				delete(h.connections, c.subject)
			}
			return
		}
	}
}

func (h *Hub) broadcastToSubject(m *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, c := range h.connections[m.Subject] {
		select {
		case c.send <- m.Data:
		default:
			h.log.Warn("client send buffer full, dropping message", "subject", m.Subject)
		}
	}
}

// ConnectionCount returns the number of active client connections, for health/debug endpoints.
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for _, clients := range h.connections {
		n += len(clients)
	}
	return n
}
