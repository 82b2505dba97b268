package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/authz"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/services"
)

// createProcessHandler handles POST /processes.
func (s *Server) createProcessHandler(c *gin.Context) {
	var req createProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err.Error())
		return
	}

	id := identityFrom(c)
	if !s.authorize(c, authz.PermProcessCreate, authz.ResourceRef{OwnerTeam: req.OwnerTeam}) {
		return
	}

	def, err := s.processes.CreateDraft(c.Request.Context(), services.CreateDraftInput{
		Name:                   req.Name,
		Steps:                  req.Steps,
		Triggers:               req.Triggers,
		Output:                 req.Output,
		CreatedBy:              id.UserID,
		OwnerTeam:              req.OwnerTeam,
		MaxConcurrentInstances: req.MaxConcurrentInstances,
		Priority:               req.Priority,
		DataClassification:     req.DataClassification,
		MaxCost:                req.MaxCost,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

// listProcessesHandler handles GET /processes.
func (s *Server) listProcessesHandler(c *gin.Context) {
	if !s.authorize(c, authz.PermProcessRead, authz.ResourceRef{}) {
		return
	}
	var status *models.ProcessStatus
	if raw := c.Query("status"); raw != "" {
		st := models.ProcessStatus(raw)
		status = &st
	}
	defs, err := s.processes.List(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

// getProcessHandler handles GET /processes/{id}.
func (s *Server) getProcessHandler(c *gin.Context) {
	def, err := s.processes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermProcessRead, authz.ResourceRef{OwnerTeam: def.OwnerTeam}) {
		return
	}
	c.JSON(http.StatusOK, def)
}

// updateProcessHandler handles PUT /processes/{id}.
func (s *Server) updateProcessHandler(c *gin.Context) {
	var req createProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err.Error())
		return
	}
	existing, err := s.processes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermProcessUpdate, authz.ResourceRef{OwnerTeam: existing.OwnerTeam}) {
		return
	}
	def, err := s.processes.Update(c.Request.Context(), c.Param("id"), services.CreateDraftInput{
		Name:     req.Name,
		Steps:    req.Steps,
		Triggers: req.Triggers,
		Output:   req.Output,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

// deleteProcessHandler handles DELETE /processes/{id}.
func (s *Server) deleteProcessHandler(c *gin.Context) {
	existing, err := s.processes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermProcessDelete, authz.ResourceRef{OwnerTeam: existing.OwnerTeam}) {
		return
	}
	if err := s.processes.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// publishProcessHandler handles POST /processes/{id}/publish.
func (s *Server) publishProcessHandler(c *gin.Context) {
	existing, err := s.processes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermProcessPublish, authz.ResourceRef{OwnerTeam: existing.OwnerTeam}) {
		return
	}
	def, err := s.processes.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}
