// Package repo declares Trinity's storage-agnostic persistence contracts.
// Every aggregate the engine touches is reached only through these
// interfaces; pkg/repo/postgres provides the production implementation,
// but the engine, scheduler, and services packages never import it
// directly.
package repo

import (
	"context"
	"time"

	"github.com/trinity-run/trinity/pkg/models"
)

// ProcessDefinitionRepo persists ProcessDefinition aggregates.
type ProcessDefinitionRepo interface {
	Save(ctx context.Context, def *models.ProcessDefinition) error
	GetByID(ctx context.Context, processID string) (*models.ProcessDefinition, error)
	GetByName(ctx context.Context, name string, version *models.Version) (*models.ProcessDefinition, error)
	GetLatestVersion(ctx context.Context, name string) (*models.ProcessDefinition, error)
	List(ctx context.Context, status *models.ProcessStatus) ([]*models.ProcessDefinition, error)
}

// ProcessExecutionRepo persists ProcessExecution aggregates with
// optimistic concurrency keyed by the execution's event sequence number.
type ProcessExecutionRepo interface {
	// Save writes exec. expectedSeq is the sequence number the caller
	// last observed; Save fails with errs.StateConflict if the stored
	// sequence has since advanced (another writer raced this one).
	Save(ctx context.Context, exec *models.ProcessExecution, expectedSeq int64) error
	GetByID(ctx context.Context, executionID string) (*models.ProcessExecution, error)
	ListActiveForProcess(ctx context.Context, processID string) ([]*models.ProcessExecution, error)
	ListByStatus(ctx context.Context, statuses []models.ExecutionStatus) ([]*models.ProcessExecution, error)
	ListHistory(ctx context.Context, processID string, limit int) ([]*models.ProcessExecution, error)
}

// ScheduleRepo persists Schedule rows and arbitrates firing via
// compare-and-set on last_fired_at.
type ScheduleRepo interface {
	Upsert(ctx context.Context, sched *models.Schedule) error
	Get(ctx context.Context, scheduleID string) (*models.Schedule, error)
	ListEnabled(ctx context.Context) ([]*models.Schedule, error)
	// CompareAndSetLastFired claims the right to fire sched: it succeeds
	// (ok=true) only if the stored last_fired_at still equals
	// expectedLastFired, then atomically updates last_fired_at and
	// next_fire_at. This is the per-schedule lock from SPEC_FULL.md §4.7.
	CompareAndSetLastFired(ctx context.Context, scheduleID string, expectedLastFired *time.Time, newLastFired time.Time, nextFireAt time.Time) (ok bool, err error)
}

// AuditRepo appends and queries the audit log. Entries are never updated
// or deleted within their retention window.
type AuditRepo interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, filters models.AuditFilters, limit, offset int) ([]*models.AuditEntry, error)
	Count(ctx context.Context, filters models.AuditFilters) (int, error)
	Get(ctx context.Context, auditID string) (*models.AuditEntry, error)
}

// OutputStore holds step outputs keyed by (execution_id, step_id),
// separate from the execution record itself since outputs may be large
// or binary. No retention purge in this module calls DeleteByExecution.
type OutputStore interface {
	Store(ctx context.Context, executionID, stepID string, value any) error
	Retrieve(ctx context.Context, executionID, stepID string) (any, error)
	DeleteByExecution(ctx context.Context, executionID string) error
}

// ApprovalRepo persists Approval records. Required by the human_approval
// handler and the /approvals/{id}/decide HTTP surface; implied by the
// data model and HTTP surface even though the distilled interface list
// does not spell it out.
type ApprovalRepo interface {
	Save(ctx context.Context, approval *models.Approval) error
	GetByID(ctx context.Context, approvalID string) (*models.Approval, error)
	ListPendingForStep(ctx context.Context, executionID, stepID string) ([]*models.Approval, error)
	ListByExecution(ctx context.Context, executionID string) ([]*models.Approval, error)
}
