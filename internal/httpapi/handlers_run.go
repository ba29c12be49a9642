package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/engine"
	"github.com/lyzr/canvas-engine/internal/models"
	"github.com/lyzr/canvas-engine/internal/version"
)

// Engine is the subset of internal/engine the HTTP run surface needs.
type Engine interface {
	StartRun(ctx context.Context, flowID string, opts engine.StartOpts) (*models.Run, error)
	Retry(ctx context.Context, runID, nodeID string) error
}

// VersionManager is the subset of internal/version the HTTP run surface
// needs to satisfy §6's "body may include visualGraph (triggers auto-version)".
type VersionManager interface {
	AutoVersionOnRun(ctx context.Context, flowID string, vg *models.VisualGraph) (*version.Result, error)
}

// RunHandler binds the manual run-start and retry endpoints (§4.4, §4.6).
type RunHandler struct {
	engine  Engine
	version VersionManager
}

// NewRunHandler builds a RunHandler.
func NewRunHandler(eng Engine, vm VersionManager) *RunHandler {
	return &RunHandler{engine: eng, version: vm}
}

// startRunRequest is the body of POST /flows/:id/run (manual trigger). A
// non-nil VisualGraph triggers AutoVersionOnRun before the run starts (§6:
// "Body may include visualGraph (triggers auto-version), entityId, input").
type startRunRequest struct {
	EntityID      *string             `json:"entity_id,omitempty"`
	FlowVersionID *string             `json:"flow_version_id,omitempty"`
	VisualGraph   *models.VisualGraph `json:"visual_graph,omitempty"`
}

// Start runs POST /flows/:id/run. With no visual_graph, the run is pinned to
// the flow's current version unless flow_version_id is given; with a
// visual_graph, an auto-version is compiled and persisted first and the run
// is pinned to it.
func (h *RunHandler) Start(c echo.Context) error {
	flowID := c.Param("id")

	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "invalid request body"})
	}

	opts := engine.StartOpts{
		EntityID:      req.EntityID,
		FlowVersionID: req.FlowVersionID,
		Trigger: models.Trigger{
			Type: models.TriggerManual,
		},
	}

	if req.VisualGraph != nil {
		result, err := h.version.AutoVersionOnRun(c.Request().Context(), flowID, req.VisualGraph)
		if err != nil {
			return writeError(c, err)
		}
		versionID := result.VersionID
		opts.FlowVersionID = &versionID
	}

	run, err := h.engine.StartRun(c.Request().Context(), flowID, opts)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"runId":     run.ID,
		"versionId": run.FlowVersionID,
		"status":    "started",
	})
}

// Retry runs POST /retry/:runId/:nodeId, resetting a failed node to pending
// and resuming the walk if its dependencies are already satisfied (§4.4).
func (h *RunHandler) Retry(c echo.Context) error {
	runID := c.Param("runId")
	nodeID := c.Param("nodeId")

	if err := h.engine.Retry(c.Request().Context(), runID, nodeID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "retrying"})
}
