package httpapi

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/notify"
)

// WSHandler binds the row-level change notification WebSocket endpoint (§6).
type WSHandler struct {
	hub *notify.Hub
	log *logging.Logger
}

// NewWSHandler builds a WSHandler.
func NewWSHandler(hub *notify.Hub, log *logging.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// Handle upgrades the connection and registers it for a subject named by
// the "?subject=run:<id>" or "?subject=entity:<id>" query parameter.
func (h *WSHandler) Handle(c echo.Context) error {
	notify.ServeWS(h.hub, h.log, c.Response().Writer, c.Request())
	return nil
}
