package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/errs"
)

// errorResponse is the stable error envelope returned by every endpoint
// on failure, per SPEC_FULL.md §6.2.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// statusForKind maps a classified error kind to its HTTP status, extending
// the table in SPEC_FULL.md §6.2 to the kinds it does not name. Grounded on the teacher's
// mapServiceError (pkg/api/errors.go), generalized from four sentinel
// errors to the full errs.Kind taxonomy.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.ExpressionError:
		return http.StatusUnprocessableEntity
	case errs.AuthorizationDenied:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.StateConflict:
		return http.StatusConflict
	case errs.RateLimit, errs.QueueFull:
		return http.StatusTooManyRequests
	case errs.Timeout, errs.AgentUnavailable, errs.Cancelled:
		return http.StatusServiceUnavailable
	case errs.BudgetExceeded, errs.NoMatchingRoute:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError classifies err and writes the matching error response.
// Unclassified errors are logged and surfaced as a generic 500, never
// leaking internal detail to the caller.
func respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		slog.Error("unclassified service error", "error", err)
		c.JSON(status, errorResponse{Code: string(errs.InternalError), Message: "internal server error"})
		return
	}
	c.JSON(status, errorResponse{Code: string(kind), Message: err.Error()})
}

// respondArchived writes the 410 response for operations against an
// archived process definition, a handler-level nuance the closed error
// taxonomy does not carry a dedicated Kind for.
func respondArchived(c *gin.Context) {
	c.JSON(http.StatusGone, errorResponse{Code: "archived", Message: "process definition is archived"})
}

// respondAuthRequired writes the 401 response for a request missing
// caller identity entirely (distinct from 403, which means identity was
// present but lacked the permission).
func respondAuthRequired(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, errorResponse{Code: "auth_missing", Message: "caller identity is required"})
}

// respondForbidden writes the 403 response for a denied authorization
// Decision, carrying its reason for operator debugging.
func respondForbidden(c *gin.Context, reason string) {
	c.JSON(http.StatusForbidden, errorResponse{Code: string(errs.AuthorizationDenied), Message: reason})
}

// respondValidation writes a 400 response for a request-shape problem
// caught before any service call (missing field, bad JSON), distinct
// from a *errs.Error of kind Validation returned by a service.
func respondValidation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: string(errs.Validation), Message: message})
}
