package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/authz"
	"github.com/trinity-run/trinity/pkg/models"
)

// listAuditHandler handles GET /audit. Admin-only per SPEC_FULL.md §6.2.
func (s *Server) listAuditHandler(c *gin.Context) {
	if !s.authorize(c, authz.PermAdminViewAll, authz.ResourceRef{}) {
		return
	}

	filters := models.AuditFilters{
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		Actor:        c.Query("actor"),
	}
	if raw := c.Query("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.Since = &t
		}
	}
	if raw := c.Query("until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.Until = &t
		}
	}

	limit, offset := 50, 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, total, err := s.audit.List(c.Request.Context(), filters, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, auditListResponse{Entries: entries, Total: total})
}

// getAuditHandler handles GET /audit/{id}. Admin-only per SPEC_FULL.md §6.2.
func (s *Server) getAuditHandler(c *gin.Context) {
	if !s.authorize(c, authz.PermAdminViewAll, authz.ResourceRef{}) {
		return
	}
	entry, err := s.audit.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
