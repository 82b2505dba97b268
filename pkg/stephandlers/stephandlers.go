// Package stephandlers implements one handler per models.StepKind. Each
// handler renders its step's templates against the execution's
// expression context and returns a models.DispatchOutcome; it never
// mutates the ProcessExecution directly, leaving persistence and event
// emission to pkg/engine. Grounded on the teacher's pkg/queue/worker.go
// dispatch-and-classify-outcome shape, generalized from one concrete task
// kind to a per-kind dispatch table.
package stephandlers

import (
	"context"

	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

// Handler dispatches and, for suspending kinds, polls one step kind.
type Handler interface {
	// Dispatch starts the step. For kinds that complete synchronously
	// (gateway, timer-scheduling, notification submission) it returns a
	// terminal outcome immediately; for suspending kinds it returns
	// Suspended and the coordinator resumes later via a command or
	// Poll.
	Dispatch(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error)

	// Poll is called from the coordinator's advance loop (which the retry
	// sweeper also re-enters) for steps in waiting_timer whose not_before
	// has passed, to check whether the timer has resolved. The
	// human_approval and sub_process handlers return Suspended again
	// unchanged; agent_task, gateway and notification steps never
	// suspend, and their handlers return an InternalError.
	Poll(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error)
}

// Registry resolves the Handler for a step's kind.
type Registry struct {
	handlers map[models.StepKind]Handler
}

// NewRegistry builds a Registry from the given per-kind handlers. For
// reports false for a kind with no registered handler; the coordinator
// then returns an InternalError from dispatching a step of that kind.
// Nothing checks the registry for completeness at startup.
func NewRegistry(handlers map[models.StepKind]Handler) *Registry {
	return &Registry{handlers: handlers}
}

// For returns the handler registered for kind and whether one exists.
func (r *Registry) For(kind models.StepKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}
