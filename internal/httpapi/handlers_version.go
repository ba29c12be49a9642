package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/models"
	"github.com/lyzr/canvas-engine/internal/version"
)

// VersionHandler binds the flow version endpoints (§4.1, §4.2).
type VersionHandler struct {
	manager *version.Manager
}

// NewVersionHandler builds a VersionHandler.
func NewVersionHandler(m *version.Manager) *VersionHandler {
	return &VersionHandler{manager: m}
}

type createVersionRequest struct {
	VisualGraph   models.VisualGraph `json:"visual_graph"`
	CommitMessage *string            `json:"commit_message,omitempty"`
}

// Create runs POST /flows/:id/versions.
func (h *VersionHandler) Create(c echo.Context) error {
	flowID := c.Param("id")

	var req createVersionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_failure", "message": "invalid request body"})
	}

	result, err := h.manager.CreateVersion(c.Request().Context(), flowID, &req.VisualGraph, req.CommitMessage)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"version_id":      result.VersionID,
		"execution_graph": result.ExecutionGraph,
	})
}

// List runs GET /flows/:id/versions.
func (h *VersionHandler) List(c echo.Context) error {
	flowID := c.Param("id")
	versions, err := h.manager.ListVersions(c.Request().Context(), flowID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, versions)
}

// Get runs GET /flows/:id/versions/:vid.
func (h *VersionHandler) Get(c echo.Context) error {
	versionID := c.Param("vid")
	fv, err := h.manager.GetVersion(c.Request().Context(), versionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, fv)
}
