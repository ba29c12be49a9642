// Package httpapi is the HTTP surface binding every subsystem (version
// manager, edge walker, webhook processor, callback handler) to routes and
// echo handlers. Grounded on the teacher's cmd/orchestrator/{handlers,routes}
// packages.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/canvas-engine/internal/apperr"
)

// writeError renders err as the JSON error envelope spec.md §7 prescribes,
// mapping apperr.Error kinds to their HTTP status and falling back to 500
// for anything unrecognized rather than leaking internals.
func writeError(c echo.Context, err error) error {
	if aerr, ok := apperr.As(err); ok {
		body := map[string]interface{}{
			"error": aerr.Kind,
			"message": aerr.Message,
		}
		if len(aerr.Issues) > 0 {
			body["issues"] = aerr.Issues
		}
		return c.JSON(aerr.HTTPStatus(), body)
	}
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error":   "internal_error",
		"message": "an unexpected error occurred",
	})
}
