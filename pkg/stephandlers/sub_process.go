package stephandlers

import (
	"context"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

// ChildLauncher is the subset of pkg/engine.Coordinator the sub_process
// handler needs to start a child execution. Defined locally to keep
// pkg/stephandlers free of a dependency on pkg/engine.
type ChildLauncher interface {
	StartChild(ctx context.Context, childProcessName string, input map[string]any, parentExecutionID string) (childExecutionID string, err error)
}

// SubProcessHandler launches a child execution and suspends the step
// until the coordinator observes the child's terminal event.
type SubProcessHandler struct {
	eval     *expression.Evaluator
	launcher ChildLauncher
}

// NewSubProcessHandler returns a handler rendering input_mapping with
// eval and launching children through launcher.
func NewSubProcessHandler(eval *expression.Evaluator, launcher ChildLauncher) *SubProcessHandler {
	return &SubProcessHandler{eval: eval, launcher: launcher}
}

func (h *SubProcessHandler) Dispatch(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	cfg := step.SubProcess
	if cfg == nil {
		return models.DispatchOutcome{}, errs.New(errs.InternalError, "sub_process step missing config")
	}

	input := make(map[string]any, len(cfg.InputMapping))
	for childKey, template := range cfg.InputMapping {
		rendered, err := h.eval.Substitute(template, ectx)
		if err != nil {
			return models.DispatchOutcome{}, err
		}
		input[childKey] = rendered
	}

	childExecutionID, err := h.launcher.StartChild(ctx, cfg.ChildProcessName, input, exec.ExecutionID)
	if err != nil {
		return models.DispatchOutcome{}, err
	}

	return models.Suspended("child_running:" + childExecutionID), nil
}

// Poll reports the step still suspended; resumption happens out-of-band
// via ParentResumeSink -> Coordinator.NotifyChildTerminal, not polling.
func (h *SubProcessHandler) Poll(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	se := exec.Step(step.StepID)
	if se != nil {
		return models.Suspended("child_running:" + se.ChildExecutionID), nil
	}
	return models.Suspended("child_running"), nil
}

// ApplyChildOutcome maps a completed or failed child execution's result
// onto the parent step's DispatchOutcome via output_mapping.
func ApplyChildOutcome(cfg *models.SubProcessConfig, childOutput any, succeeded bool, errKind, errMsg string) (models.DispatchOutcome, error) {
	if !succeeded {
		return models.Failed(errKind, errMsg), nil
	}
	if len(cfg.OutputMapping) == 0 {
		return models.Completed(childOutput, 0), nil
	}

	childMap, _ := childOutput.(map[string]any)
	mapped := make(map[string]any, len(cfg.OutputMapping))
	for parentKey, childKey := range cfg.OutputMapping {
		if childMap != nil {
			mapped[parentKey] = childMap[childKey]
		}
	}
	return models.Completed(mapped, 0), nil
}
