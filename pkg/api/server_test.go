package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/authz"
	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/recovery"
	"github.com/trinity-run/trinity/pkg/repo/inmemory"
	"github.com/trinity-run/trinity/pkg/services"
)

// newTestServer wires a Server over pkg/repo/inmemory with fake command
// collaborators, mirroring the fixtures pkg/services' own tests use.
func newTestServer(t *testing.T) (*Server, *inmemory.Store) {
	t.Helper()
	store := inmemory.New()
	fakeClock := clock.NewFake(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	ids := &clock.SequentialIDGen{Prefix: "test"}

	processes := services.NewProcessService(store.Definitions(), fakeClock, ids)
	executions := services.NewExecutionService(&stubEngine{}, store.Executions())
	approvals := services.NewApprovalService(&stubEngine{}, store.Approvals())
	schedules := services.NewScheduleService(store.Schedules(), store.Definitions(), &stubEngine{}, &stubEngine{}, fakeClock, ids)
	audit := services.NewAuditService(store.Audit(), fakeClock, ids)

	s := NewServer(processes, executions, approvals, schedules, audit, authz.New(), ids)
	return s, store
}

// stubEngine satisfies every engine-facing collaborator interface
// pkg/services defines (ExecutionStarter, ApprovalDecider,
// ScheduleWaker, ScheduleTriggerer) with no-op behavior, standing in for
// pkg/engine.Coordinator in handler tests that never exercise it.
type stubEngine struct{}

func (stubEngine) Start(_ context.Context, processID string, _ map[string]any, _ models.TriggeredBy) (*models.ProcessExecution, error) {
	return &models.ProcessExecution{ExecutionID: "exec-1", ProcessID: processID, Status: models.ExecutionRunning}, nil
}

func (stubEngine) Cancel(_ context.Context, _, _, _ string) error { return nil }

func (stubEngine) Resume(_ context.Context, _ string) error { return nil }

func (stubEngine) SubmitApproval(_ context.Context, _ string, _ models.ApprovalStatus, _, _ string) error {
	return nil
}

func (stubEngine) Wake() {}

func (stubEngine) NextFireAt(_, _ string, from time.Time) (time.Time, error) {
	return from.Add(time.Hour), nil
}

func (stubEngine) TriggerScheduled(_ context.Context, _, _ string) error { return nil }

func TestValidateWiringFailsWhenServicesMissing(t *testing.T) {
	s := &Server{}
	err := s.ValidateWiring()
	require.Error(t, err)
}

func TestValidateWiringPassesWithFullWiring(t *testing.T) {
	s, _ := newTestServer(t)
	assert.NoError(t, s.ValidateWiring())
}

func TestHealthHandlerReportsNotConfiguredWithoutDatabase(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"not_configured"`)
}

func TestHealthHandlerReportsRecoveryStatus(t *testing.T) {
	s, _ := newTestServer(t)
	s.SetLastRecoveryReport(&recovery.Report{Resumed: 2, Retried: 1})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"resumed":2`)
}

func TestHealthHandlerReportsDegradedWhileRecoveryActive(t *testing.T) {
	s, _ := newTestServer(t)
	s.SetRecoveryActive(true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}
