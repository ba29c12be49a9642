package httpapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/webhook"
)

// WebhookHandler binds POST /webhooks/:slug to the webhook processor (§4.7).
type WebhookHandler struct {
	processor *webhook.Processor
}

// NewWebhookHandler builds a WebhookHandler.
func NewWebhookHandler(p *webhook.Processor) *WebhookHandler {
	return &WebhookHandler{processor: p}
}

// Handle reads the raw body (signature verification needs the untouched
// bytes, not a re-marshaled struct) and hands it to the processor.
func (h *WebhookHandler) Handle(c echo.Context) error {
	slug := c.Param("slug")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "could not read request body"})
	}

	result, err := h.processor.Process(c.Request().Context(), slug, body, c.Request().Header)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"webhook_event_id": result.WebhookEventID,
		"entity_id":        result.EntityID,
		"run_id":           result.RunID,
	})
}
