package notify

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/canvas-engine/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512
)

// Client is one WebSocket connection watching a single subject ("run:<id>"
// or "entity:<id>").
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string
	send    chan []byte
	log     *logging.Logger
}

// NewClient creates a Client; call Run to start its pumps.
func NewClient(hub *Hub, conn *websocket.Conn, subject string, log *logging.Logger) *Client {
	return &Client{hub: hub, conn: conn, subject: subject, send: make(chan []byte, 64), log: log}
}

// Run registers the client and blocks its pumps until the connection closes.
func (c *Client) Run() {
	c.hub.register <- c
	go c.writePump()
	c.readPump()
}

// readPump only exists to detect disconnects and service ping/pong; this
// channel is server-push only, clients send nothing of substance.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("notify websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
