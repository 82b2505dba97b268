// Package recovery implements Trinity's RecoveryService: a startup scan
// that finds executions left non-terminal by a crashed process instance
// and either resumes or fails them. Grounded on the teacher's
// pkg/queue/orphan.go (threshold-based scan, per-item recovery,
// summary counters logged on completion), generalized from a single
// "mark timed_out" action to a three-way MARK_FAILED/reset-and-resume/
// resume decision.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/models"
)

// ExecutionStore is the subset of repo.ProcessExecutionRepo the recovery
// service needs.
type ExecutionStore interface {
	ListByStatus(ctx context.Context, statuses []models.ExecutionStatus) ([]*models.ProcessExecution, error)
	Save(ctx context.Context, exec *models.ProcessExecution, expectedSeq int64) error
}

// DefinitionStore is the subset of repo.ProcessDefinitionRepo the recovery
// service needs to classify an interrupted step's kind.
type DefinitionStore interface {
	GetByID(ctx context.Context, processID string) (*models.ProcessDefinition, error)
}

// Resumer re-enters the engine loop for an execution already persisted in
// a resumable state. Satisfied by pkg/engine.Coordinator.Resume.
type Resumer interface {
	Resume(ctx context.Context, executionID string) error
}

// Config governs recovery thresholds.
type Config struct {
	// MaxAge is how long a non-terminal execution may run before
	// recovery gives up on it outright. Default 24h per SPEC_FULL.md §4.9.
	MaxAge time.Duration
	// DryRun reports what recovery would do without mutating anything.
	DryRun bool
}

func (c Config) maxAge() time.Duration {
	if c.MaxAge <= 0 {
		return 24 * time.Hour
	}
	return c.MaxAge
}

// Action is the recovery decision made for one execution.
type Action string

const (
	ActionMarkFailed Action = "mark_failed"
	ActionResume     Action = "resume"
	ActionResetAndResume Action = "reset_and_resume"
)

// Report summarizes one recovery pass, logged and exposed via a health
// endpoint per SPEC_FULL.md §4.9.
type Report struct {
	Resumed int
	Retried int
	Failed  int
	Skipped int
	Errors  []string
}

// Service is Trinity's RecoveryService.
type Service struct {
	executions ExecutionStore
	defs       DefinitionStore
	resumer    Resumer
	clock      clock.Clock
	cfg        Config
}

// New returns a recovery service scanning executions through store and
// resuming through resumer. defs may be nil only in tests that never
// exercise the reset-and-resume path.
func New(executions ExecutionStore, defs DefinitionStore, resumer Resumer, c clock.Clock, cfg Config) *Service {
	return &Service{executions: executions, defs: defs, resumer: resumer, clock: c, cfg: cfg}
}

// Run performs one recovery pass over every non-terminal execution.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	nonTerminal := []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning, models.ExecutionPaused}
	executions, err := s.executions.ListByStatus(ctx, nonTerminal)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	if len(executions) == 0 {
		slog.Info("recovery scan found no non-terminal executions")
		return report, nil
	}

	slog.Warn("recovery scan found non-terminal executions", "count", len(executions), "dry_run", s.cfg.DryRun)

	now := s.clock.Now()
	for _, exec := range executions {
		action := s.decide(exec, now)
		s.apply(ctx, exec, action, report)
	}

	slog.Info("recovery scan complete",
		"resumed", report.Resumed, "retried", report.Retried,
		"failed", report.Failed, "skipped", report.Skipped, "errors", len(report.Errors))
	return report, nil
}

func (s *Service) decide(exec *models.ProcessExecution, now time.Time) Action {
	if now.Sub(exec.StartedAt) > s.cfg.maxAge() {
		return ActionMarkFailed
	}
	for _, se := range exec.StepExecutions {
		if se.Status == models.StepRunning {
			return ActionResetAndResume
		}
	}
	return ActionResume
}

func (s *Service) apply(ctx context.Context, exec *models.ProcessExecution, action Action, report *Report) {
	log := slog.With("execution_id", exec.ExecutionID, "action", action)

	if s.cfg.DryRun {
		log.Info("dry run: would apply recovery action")
		switch action {
		case ActionMarkFailed:
			report.Failed++
		case ActionResetAndResume:
			report.Retried++
		case ActionResume:
			report.Resumed++
		}
		return
	}

	switch action {
	case ActionMarkFailed:
		if err := exec.Fail("recovery timeout", s.clock.Now()); err != nil {
			report.Skipped++
			return
		}
		if err := s.executions.Save(ctx, exec, exec.Sequence()); err != nil {
			log.Error("failed to persist recovery timeout", "error", err)
			report.Errors = append(report.Errors, exec.ExecutionID+": "+err.Error())
			return
		}
		report.Failed++
		log.Warn("execution marked failed by recovery: exceeded max age")

	case ActionResetAndResume:
		def, err := s.defs.GetByID(ctx, exec.ProcessID)
		if err != nil {
			log.Error("failed to load definition for recovery", "error", err)
			report.Errors = append(report.Errors, exec.ExecutionID+": "+err.Error())
			return
		}
		for _, se := range exec.StepExecutions {
			if se.Status != models.StepRunning {
				continue
			}
			idempotent := false
			if stepDef, ok := def.StepByID(se.StepID); ok {
				idempotent = stepDef.Kind.Idempotent()
			}
			var resetErr error
			if idempotent {
				_, resetErr = exec.ResetStep(se.StepID, s.clock.Now())
			} else {
				_, resetErr = exec.RetryStep(se.StepID, s.clock.Now())
			}
			if resetErr != nil {
				log.Error("failed to reset running step for recovery", "step_id", se.StepID, "error", resetErr)
				report.Errors = append(report.Errors, exec.ExecutionID+"/"+se.StepID+": "+resetErr.Error())
				return
			}
		}
		if err := s.executions.Save(ctx, exec, exec.Sequence()); err != nil {
			log.Error("failed to persist reset steps before resume", "error", err)
			report.Errors = append(report.Errors, exec.ExecutionID+": "+err.Error())
			return
		}
		if err := s.resumer.Resume(ctx, exec.ExecutionID); err != nil {
			log.Error("failed to resume execution after reset", "error", err)
			report.Errors = append(report.Errors, exec.ExecutionID+": "+err.Error())
			return
		}
		report.Retried++
		log.Info("execution resumed by recovery after resetting an interrupted step")

	case ActionResume:
		if err := s.resumer.Resume(ctx, exec.ExecutionID); err != nil {
			log.Error("failed to resume execution", "error", err)
			report.Errors = append(report.Errors, exec.ExecutionID+": "+err.Error())
			return
		}
		report.Resumed++
		log.Info("execution resumed by recovery")
	}
}
