package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/authz"
)

// getApprovalHandler handles GET /approvals/{id}.
func (s *Server) getApprovalHandler(c *gin.Context) {
	approval, err := s.approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermExecutionView, authz.ResourceRef{Approvers: approval.Approvers}) {
		return
	}
	c.JSON(http.StatusOK, approval)
}

// decideApprovalHandler handles POST /approvals/{approval_id}/decide.
// Requires approval.decide and caller identity in the approval's
// approvers list, enforced via ResourceRef.Approvers.
func (s *Server) decideApprovalHandler(c *gin.Context) {
	var req decideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err.Error())
		return
	}

	approval, err := s.approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	id := identityFrom(c)
	if !s.authorize(c, authz.PermApprovalDecide, authz.ResourceRef{Approvers: approval.Approvers}) {
		return
	}

	if err := s.approvals.Decide(c.Request.Context(), c.Param("id"), req.Decision, id.UserID, req.Comment); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "decided"})
}
