package services

import (
	"context"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo"
)

// ExecutionStarter is the subset of pkg/engine.Coordinator the execution
// service triggers through; kept as a local interface so pkg/services
// never imports pkg/engine directly.
type ExecutionStarter interface {
	Start(ctx context.Context, processID string, input map[string]any, triggeredBy models.TriggeredBy) (*models.ProcessExecution, error)
	Cancel(ctx context.Context, executionID, actor, reason string) error
	Resume(ctx context.Context, executionID string) error
}

// ExecutionService manages ProcessExecution lifecycle commands and reads,
// delegating state transitions to the coordinator and reads to the repo.
type ExecutionService struct {
	engine ExecutionStarter
	execs  repo.ProcessExecutionRepo
}

// NewExecutionService returns an ExecutionService.
func NewExecutionService(engine ExecutionStarter, execs repo.ProcessExecutionRepo) *ExecutionService {
	if engine == nil {
		panic("NewExecutionService: engine must not be nil")
	}
	if execs == nil {
		panic("NewExecutionService: execs must not be nil")
	}
	return &ExecutionService{engine: engine, execs: execs}
}

// Trigger starts a new execution of processID. A RateLimit error from the
// coordinator (per-process or global concurrency cap) is passed through
// unchanged so pkg/api can map it to 429.
func (s *ExecutionService) Trigger(ctx context.Context, processID string, input map[string]any, actor string) (*models.ProcessExecution, error) {
	return s.engine.Start(ctx, processID, input, models.TriggeredBy{Kind: models.TriggerManual, Actor: actor})
}

// Get returns an execution by id.
func (s *ExecutionService) Get(ctx context.Context, executionID string) (*models.ProcessExecution, error) {
	exec, err := s.execs.GetByID(ctx, executionID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "execution not found", err)
	}
	return exec, nil
}

// History returns up to limit prior executions of processID, most recent
// first.
func (s *ExecutionService) History(ctx context.Context, processID string, limit int) ([]*models.ProcessExecution, error) {
	return s.execs.ListHistory(ctx, processID, limit)
}

// Cancel requests cancellation of a running or paused execution.
func (s *ExecutionService) Cancel(ctx context.Context, executionID, actor, reason string) error {
	return s.engine.Cancel(ctx, executionID, actor, reason)
}

// Retry re-enters the engine loop for an execution at rest, used by the
// manual "retry now" operator action to bypass a step's backoff wait.
func (s *ExecutionService) Retry(ctx context.Context, executionID string) error {
	return s.engine.Resume(ctx, executionID)
}
