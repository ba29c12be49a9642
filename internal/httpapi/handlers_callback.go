package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/callback"
)

// CallbackHandler binds POST /callback/:runId/:nodeId to the callback
// protocol handler (§4.6).
type CallbackHandler struct {
	handler *callback.Handler
}

// NewCallbackHandler builds a CallbackHandler.
func NewCallbackHandler(h *callback.Handler) *CallbackHandler {
	return &CallbackHandler{handler: h}
}

// Handle decodes the callback payload and applies it.
func (h *CallbackHandler) Handle(c echo.Context) error {
	runID := c.Param("runId")
	nodeID := c.Param("nodeId")

	var payload callback.Payload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "invalid callback payload"})
	}

	if err := h.handler.Handle(c.Request().Context(), runID, nodeID, payload); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}
