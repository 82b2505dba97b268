package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/authz"
)

// createScheduleHandler handles POST /schedules.
func (s *Server) createScheduleHandler(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err.Error())
		return
	}

	def, err := s.processes.Get(c.Request.Context(), req.ProcessID)
	if err != nil {
		respondError(c, err)
		return
	}
	id := identityFrom(c)
	if !s.authorize(c, authz.PermProcessUpdate, authz.ResourceRef{OwnerTeam: def.OwnerTeam}) {
		return
	}

	sched, err := s.schedules.Create(c.Request.Context(), req.ProcessID, req.Cron, req.Timezone, id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

// listSchedulesHandler handles GET /schedules.
func (s *Server) listSchedulesHandler(c *gin.Context) {
	if !s.authorize(c, authz.PermProcessRead, authz.ResourceRef{}) {
		return
	}
	scheds, err := s.schedules.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheds)
}

// enableScheduleHandler handles POST /schedules/{id}/enable.
func (s *Server) enableScheduleHandler(c *gin.Context) {
	s.setScheduleEnabled(c, true)
}

// disableScheduleHandler handles POST /schedules/{id}/disable.
func (s *Server) disableScheduleHandler(c *gin.Context) {
	s.setScheduleEnabled(c, false)
}

func (s *Server) setScheduleEnabled(c *gin.Context, enabled bool) {
	sched, err := s.schedules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	def, err := s.processes.Get(c.Request.Context(), sched.ProcessID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermProcessUpdate, authz.ResourceRef{OwnerTeam: def.OwnerTeam}) {
		return
	}
	if err := s.schedules.SetEnabled(c.Request.Context(), c.Param("id"), enabled); err != nil {
		respondError(c, err)
		return
	}
	status := "enabled"
	if !enabled {
		status = "disabled"
	}
	c.JSON(http.StatusOK, statusResponse{Status: status})
}

// triggerScheduleHandler handles POST /schedules/{id}/trigger, the
// operator "run now" action for a cron schedule.
func (s *Server) triggerScheduleHandler(c *gin.Context) {
	sched, err := s.schedules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	def, err := s.processes.Get(c.Request.Context(), sched.ProcessID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.authorize(c, authz.PermExecutionTrigger, authz.ResourceRef{OwnerTeam: def.OwnerTeam}) {
		return
	}
	if err := s.schedules.TriggerNow(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "triggered"})
}
