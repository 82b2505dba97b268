package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo/inmemory"
)

type fakeEngine struct {
	startErr    error
	started     *models.ProcessExecution
	cancelCalls []string
	resumeCalls []string
}

func (f *fakeEngine) Start(_ context.Context, processID string, _ map[string]any, triggeredBy models.TriggeredBy) (*models.ProcessExecution, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.ProcessExecution{ExecutionID: "exec-1", ProcessID: processID, TriggeredBy: triggeredBy}, nil
}

func (f *fakeEngine) Cancel(_ context.Context, executionID, _, _ string) error {
	f.cancelCalls = append(f.cancelCalls, executionID)
	return nil
}

func (f *fakeEngine) Resume(_ context.Context, executionID string) error {
	f.resumeCalls = append(f.resumeCalls, executionID)
	return nil
}

func TestTriggerStartsExecutionViaEngine(t *testing.T) {
	store := inmemory.New()
	engine := &fakeEngine{}
	svc := NewExecutionService(engine, store.Executions())

	exec, err := svc.Trigger(context.Background(), "proc-1", nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "proc-1", exec.ProcessID)
	assert.Equal(t, models.TriggerManual, exec.TriggeredBy.Kind)
	assert.Equal(t, "alice", exec.TriggeredBy.Actor)
}

func TestTriggerPassesThroughRateLimitError(t *testing.T) {
	store := inmemory.New()
	engine := &fakeEngine{startErr: errs.New(errs.RateLimit, "too many running instances")}
	svc := NewExecutionService(engine, store.Executions())

	_, err := svc.Trigger(context.Background(), "proc-1", nil, "alice")
	require.Error(t, err)
	assert.Equal(t, errs.RateLimit, errs.KindOf(err))
}

func TestCancelDelegatesToEngine(t *testing.T) {
	store := inmemory.New()
	engine := &fakeEngine{}
	svc := NewExecutionService(engine, store.Executions())

	require.NoError(t, svc.Cancel(context.Background(), "exec-1", "alice", "no longer needed"))
	assert.Equal(t, []string{"exec-1"}, engine.cancelCalls)
}

func TestRetryDelegatesToEngineResume(t *testing.T) {
	store := inmemory.New()
	engine := &fakeEngine{}
	svc := NewExecutionService(engine, store.Executions())

	require.NoError(t, svc.Retry(context.Background(), "exec-1"))
	assert.Equal(t, []string{"exec-1"}, engine.resumeCalls)
}

func TestGetReturnsNotFoundForUnknownExecution(t *testing.T) {
	store := inmemory.New()
	engine := &fakeEngine{}
	svc := NewExecutionService(engine, store.Executions())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}
