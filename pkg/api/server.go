// Package api implements Trinity's HTTP surface: process, execution,
// approval, schedule, and audit endpoints plus the /ws/events WebSocket
// feed, wired over the teacher's Set*Service/ValidateWiring server
// shape (pkg/api/server.go) but expressed in gin, the framework the
// teacher's own cmd/tarsy/main.go and pkg/api/handlers.go snapshot use.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trinity-run/trinity/pkg/authz"
	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/events"
	"github.com/trinity-run/trinity/pkg/recovery"
	"github.com/trinity-run/trinity/pkg/repo/postgres"
	"github.com/trinity-run/trinity/pkg/services"
	"github.com/trinity-run/trinity/pkg/version"
)

// Server is Trinity's HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	processes  *services.ProcessService
	executions *services.ExecutionService
	approvals  *services.ApprovalService
	schedules  *services.ScheduleService
	audit      *services.AuditService

	authz       *authz.Service
	connManager *events.ConnectionManager
	ids         clock.IdGen

	db             *postgres.Client // nil until SetDatabase
	lastRecovery   *recovery.Report // nil until SetLastRecoveryReport
	recoveryActive bool             // true while a recovery pass is running
}

// NewServer creates a gin-backed API server wired to the five command
// services every route dispatches through. Optional collaborators
// (database health, recovery status, WebSocket fan-out) are supplied
// afterward via the Set* methods, mirroring the teacher's
// NewServer-then-SetX wiring sequence.
func NewServer(
	processes *services.ProcessService,
	executions *services.ExecutionService,
	approvals *services.ApprovalService,
	schedules *services.ScheduleService,
	audit *services.AuditService,
	authzSvc *authz.Service,
	ids clock.IdGen,
) *Server {
	e := gin.New()
	e.Use(gin.Logger(), gin.Recovery(), securityHeaders())

	s := &Server{
		engine:     e,
		processes:  processes,
		executions: executions,
		approvals:  approvals,
		schedules:  schedules,
		audit:      audit,
		authz:      authzSvc,
		ids:        ids,
	}
	s.setupRoutes()
	return s
}

// SetDatabase wires the Postgres client for the /healthz database check.
// Left nil, /healthz reports the database section as not_configured — used
// by tests and by any deployment running purely against pkg/repo/inmemory.
func (s *Server) SetDatabase(db *postgres.Client) { s.db = db }

// SetConnectionManager wires the WebSocket fan-out for /ws/events.
func (s *Server) SetConnectionManager(cm *events.ConnectionManager) {
	s.connManager = cm
	s.engine.GET("/ws/events", s.wsHandler)
}

// SetLastRecoveryReport records the outcome of the most recent startup
// recovery pass, surfaced at GET /executions/recovery/status.
func (s *Server) SetLastRecoveryReport(r *recovery.Report) { s.lastRecovery = r }

// SetRecoveryActive marks whether a recovery pass is currently running;
// while true, mutating endpoints return 503 per SPEC_FULL.md §6.2.
func (s *Server) SetRecoveryActive(active bool) { s.recoveryActive = active }

// ValidateWiring checks that every service this server routes to was
// supplied to NewServer, catching wiring gaps at startup instead of as a
// nil pointer panic on the first request. Optional collaborators
// (database, connection manager, recovery report) are not checked here.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.processes == nil {
		errs = append(errs, fmt.Errorf("processes service not set"))
	}
	if s.executions == nil {
		errs = append(errs, fmt.Errorf("executions service not set"))
	}
	if s.approvals == nil {
		errs = append(errs, fmt.Errorf("approvals service not set"))
	}
	if s.schedules == nil {
		errs = append(errs, fmt.Errorf("schedules service not set"))
	}
	if s.audit == nil {
		errs = append(errs, fmt.Errorf("audit service not set"))
	}
	if s.authz == nil {
		errs = append(errs, fmt.Errorf("authz service not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.healthHandler)

	s.engine.Use(identityMiddleware())

	// While a recovery pass is running, every non-GET request gets 503.
	s.engine.Use(func(c *gin.Context) {
		if s.recoveryActive && c.Request.Method != http.MethodGet {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Code: "recovery_in_progress", Message: "startup recovery is in progress"})
			return
		}
		c.Next()
	})

	s.engine.POST("/processes", s.createProcessHandler)
	s.engine.GET("/processes", s.listProcessesHandler)
	s.engine.GET("/processes/:id", s.getProcessHandler)
	s.engine.PUT("/processes/:id", s.updateProcessHandler)
	s.engine.DELETE("/processes/:id", s.deleteProcessHandler)
	s.engine.POST("/processes/:id/publish", s.publishProcessHandler)

	s.engine.POST("/executions", s.triggerExecutionHandler)
	s.engine.GET("/executions", s.listExecutionsHandler)
	s.engine.GET("/executions/recovery/status", s.recoveryStatusHandler)
	s.engine.GET("/executions/:id", s.getExecutionHandler)
	s.engine.POST("/executions/:id/cancel", s.cancelExecutionHandler)
	s.engine.POST("/executions/:id/retry", s.retryExecutionHandler)

	s.engine.POST("/approvals/:id/decide", s.decideApprovalHandler)
	s.engine.GET("/approvals/:id", s.getApprovalHandler)

	s.engine.POST("/schedules", s.createScheduleHandler)
	s.engine.GET("/schedules", s.listSchedulesHandler)
	s.engine.POST("/schedules/:id/enable", s.enableScheduleHandler)
	s.engine.POST("/schedules/:id/disable", s.disableScheduleHandler)
	s.engine.POST("/schedules/:id/trigger", s.triggerScheduleHandler)

	s.engine.GET("/audit", s.listAuditHandler)
	s.engine.GET("/audit/:id", s.getAuditHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthResponse is returned by GET /healthz.
type healthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Database string          `json:"database"`
	Recovery *recoveryStatus `json:"recovery,omitempty"`
}

type recoveryStatus struct {
	Active  bool `json:"active"`
	Resumed int  `json:"resumed,omitempty"`
	Retried int  `json:"retried,omitempty"`
	Failed  int  `json:"failed,omitempty"`
	Skipped int  `json:"skipped,omitempty"`
}

// healthHandler handles GET /healthz, reporting database reachability and
// the outcome of the last recovery pass. Grounded on the teacher's
// composed healthHandler (pkg/api/server.go), generalized from its
// MCP/worker-pool checks to Trinity's database/recovery collaborators.
func (s *Server) healthHandler(c *gin.Context) {
	resp := &healthResponse{Status: "healthy", Version: version.Full(), Database: "not_configured"}

	if s.db != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.Health(reqCtx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "unreachable: " + err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}

	if s.recoveryActive {
		resp.Status = "degraded"
		resp.Recovery = &recoveryStatus{Active: true}
	} else if s.lastRecovery != nil {
		resp.Recovery = &recoveryStatus{
			Resumed: s.lastRecovery.Resumed,
			Retried: s.lastRecovery.Retried,
			Failed:  s.lastRecovery.Failed,
			Skipped: s.lastRecovery.Skipped,
		}
	}

	c.JSON(http.StatusOK, resp)
}
