// Package callback is the Callback Protocol's HTTP-facing validator (C6):
// it checks a worker's callback payload against spec.md §4.6 before handing
// it to the engine's atomic merge-then-transition-then-resume logic.
// Grounded on the teacher's http_worker.go callback payload shape and
// coordinator.handleCompletion's validate-then-dispatch structure.
package callback

import (
	"context"
	"fmt"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/models"
)

// Engine is the subset of internal/engine the callback handler needs.
type Engine interface {
	Callback(ctx context.Context, runID, nodeID string, status models.NodeStatus, output map[string]interface{}, errMsg string) error
}

// Payload is the decoded request body of POST /callback/{runId}/{nodeId}
// (spec §4.6: "{status, output?, error?}").
type Payload struct {
	Status string                 `json:"status"`
	Output map[string]interface{} `json:"output,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Handler validates a callback payload and applies it via Engine.
type Handler struct {
	engine Engine
}

// New builds a Handler.
func New(eng Engine) *Handler {
	return &Handler{engine: eng}
}

// Handle validates p against spec §4.6 and, if valid, applies it.
func (h *Handler) Handle(ctx context.Context, runID, nodeID string, p Payload) error {
	if runID == "" || nodeID == "" {
		return apperr.New(apperr.KindValidation, "runId and nodeId are required")
	}

	var status models.NodeStatus
	switch p.Status {
	case string(models.NodeStatusCompleted):
		status = models.NodeStatusCompleted
	case string(models.NodeStatusFailed):
		status = models.NodeStatusFailed
	case "":
		return apperr.New(apperr.KindValidation, "status is required")
	default:
		return apperr.New(apperr.KindValidation, fmt.Sprintf("status must be %q or %q, got %q", models.NodeStatusCompleted, models.NodeStatusFailed, p.Status))
	}

	if status == models.NodeStatusFailed && p.Error == "" {
		return apperr.New(apperr.KindValidation, "error is required when status is failed")
	}

	if err := h.engine.Callback(ctx, runID, nodeID, status, p.Output, p.Error); err != nil {
		return err
	}
	return nil
}
