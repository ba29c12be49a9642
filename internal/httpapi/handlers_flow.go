package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/models"
)

// FlowStore is the subset of internal/store the flow metadata surface needs.
type FlowStore interface {
	GetFlow(ctx context.Context, flowID string) (*models.Flow, error)
	UpdateFlowMetadata(ctx context.Context, flowID, name string, parentID *string) error
}

// FlowHandler binds the flow metadata PATCH endpoint [EXPANSION]: a JSON
// Merge Patch (RFC 7386) over name/parent_id only, never reaching into a
// Version's immutable content.
type FlowHandler struct {
	store FlowStore
}

// NewFlowHandler builds a FlowHandler.
func NewFlowHandler(s FlowStore) *FlowHandler {
	return &FlowHandler{store: s}
}

// flowMetadata is the mutable projection of a Flow that PATCH may touch.
type flowMetadata struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

// Patch runs PATCH /flows/:id, applying a JSON Merge Patch to name/parent_id.
func (h *FlowHandler) Patch(c echo.Context) error {
	flowID := c.Param("id")

	patchBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "could not read request body"})
	}

	flow, err := h.store.GetFlow(c.Request().Context(), flowID)
	if err != nil {
		return writeError(c, err)
	}

	original, err := json.Marshal(flowMetadata{Name: flow.Name, ParentID: flow.ParentID})
	if err != nil {
		return writeError(c, apperr.Wrap(apperr.KindTransient, "marshal current flow metadata", err))
	}

	merged, err := jsonpatch.MergePatch(original, patchBody)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "invalid merge patch"})
	}

	var updated flowMetadata
	if err := json.Unmarshal(merged, &updated); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "patched document is not valid flow metadata"})
	}
	if updated.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "name cannot be cleared"})
	}

	if err := h.store.UpdateFlowMetadata(c.Request().Context(), flowID, updated.Name, updated.ParentID); err != nil {
		return writeError(c, err)
	}

	flow.Name = updated.Name
	flow.ParentID = updated.ParentID
	return c.JSON(http.StatusOK, flow)
}
