package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/authz"
	"github.com/trinity-run/trinity/pkg/models"
)

// triggerExecutionHandler handles POST /executions. The caller addresses
// the process by name (optionally pinning a version) rather than id, per
// SPEC_FULL.md §6.2.
func (s *Server) triggerExecutionHandler(c *gin.Context) {
	var req triggerExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err.Error())
		return
	}
	if req.ProcessName == "" {
		respondValidation(c, "process_name is required")
		return
	}

	def, err := s.processes.GetByName(c.Request.Context(), req.ProcessName, req.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	if def.Status == models.ProcessArchived {
		respondArchived(c)
		return
	}

	id := identityFrom(c)
	if !s.authorize(c, authz.PermExecutionTrigger, authz.ResourceRef{OwnerTeam: def.OwnerTeam}) {
		return
	}

	exec, err := s.executions.Trigger(c.Request.Context(), def.ProcessID, req.Input, id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, exec)
}

// listExecutionsHandler handles GET /executions, returning history for a
// single process_id (the only index §6.3 guarantees for unbounded scans).
func (s *Server) listExecutionsHandler(c *gin.Context) {
	processID := c.Query("process_id")
	if processID == "" {
		respondValidation(c, "process_id is required")
		return
	}
	if !s.authorize(c, authz.PermExecutionView, authz.ResourceRef{}) {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	execs, err := s.executions.History(c.Request.Context(), processID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execs)
}

// getExecutionHandler handles GET /executions/{id}.
func (s *Server) getExecutionHandler(c *gin.Context) {
	exec, err := s.executions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermExecutionView, authz.ResourceRef{OwnerTeam: exec.OwnerTeam, OwnerUser: exec.OwnerUser}) {
		return
	}
	c.JSON(http.StatusOK, exec)
}

// cancelExecutionHandler handles POST /executions/{id}/cancel.
func (s *Server) cancelExecutionHandler(c *gin.Context) {
	var req cancelExecutionRequest
	_ = c.ShouldBindJSON(&req)

	exec, err := s.executions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	id := identityFrom(c)
	if !s.authorize(c, authz.PermExecutionCancel, authz.ResourceRef{OwnerTeam: exec.OwnerTeam, OwnerUser: exec.OwnerUser}) {
		return
	}
	if err := s.executions.Cancel(c.Request.Context(), c.Param("id"), id.UserID, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "cancelled"})
}

// retryExecutionHandler handles POST /executions/{id}/retry, the manual
// "retry now" operator action that bypasses a step's backoff wait.
func (s *Server) retryExecutionHandler(c *gin.Context) {
	exec, err := s.executions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermExecutionRetry, authz.ResourceRef{OwnerTeam: exec.OwnerTeam, OwnerUser: exec.OwnerUser}) {
		return
	}
	if err := s.executions.Retry(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "retrying"})
}

// recoveryStatusHandler handles GET /executions/recovery/status.
func (s *Server) recoveryStatusHandler(c *gin.Context) {
	if !s.authorize(c, authz.PermAdminViewAll, authz.ResourceRef{}) {
		return
	}
	if s.recoveryActive {
		c.JSON(http.StatusOK, &recoveryStatus{Active: true})
		return
	}
	if s.lastRecovery == nil {
		c.JSON(http.StatusOK, &recoveryStatus{})
		return
	}
	c.JSON(http.StatusOK, &recoveryStatus{
		Resumed: s.lastRecovery.Resumed,
		Retried: s.lastRecovery.Retried,
		Failed:  s.lastRecovery.Failed,
		Skipped: s.lastRecovery.Skipped,
	})
}
