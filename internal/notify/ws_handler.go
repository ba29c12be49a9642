package notify

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lyzr/canvas-engine/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a WebSocket and registers it against the
// hub for the subject named by the "subject" query parameter
// (e.g. "?subject=run:r1" or "?subject=entity:e1").
func ServeWS(hub *Hub, log *logging.Logger, w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		http.Error(w, "subject query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "subject", subject, "error", err)
		return
	}

	client := NewClient(hub, conn, subject, log)
	client.Run()
}
