package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/reply"
)

// ReplyHandler binds POST /reply to the external reply ingress (§4.5 UX
// node resolution, §8 scenario 4): a channel-agnostic body of
// {email, message} naming the entity to resolve the reply against.
type ReplyHandler struct {
	processor *reply.Processor
}

// NewReplyHandler builds a ReplyHandler.
func NewReplyHandler(p *reply.Processor) *ReplyHandler {
	return &ReplyHandler{processor: p}
}

type replyRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Handle decodes the reply payload and resolves it against the entity's most
// recent waiting_for_user node.
func (h *ReplyHandler) Handle(c echo.Context) error {
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "invalid reply payload"})
	}

	result, err := h.processor.Process(c.Request().Context(), req.Email, req.Message)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":  result.RunID,
		"node_id": result.NodeID,
		"intent":  result.Intent,
	})
}
