package stephandlers

import (
	"context"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

// TaskSubmitter is the subset of pkg/queue.AgentExecutionQueue the
// agent_task handler needs. Defined locally so pkg/stephandlers never
// imports pkg/queue.
type TaskSubmitter interface {
	Submit(ctx context.Context, agentName, executionID string, task AgentTask) (AgentTaskResult, error)
}

// AgentTask is the rendered work item handed to an agent.
type AgentTask struct {
	Message string
	Timeout  int64 // nanoseconds; avoids importing time for a single field
}

// AgentTaskResult is what the queue returns once the agent has run (or
// the submission itself was rejected).
type AgentTaskResult struct {
	Content    string
	Cost       float64
	TokensUsed int
	ErrKind    string
	ErrMsg     string
}

// AgentTaskHandler dispatches StepAgentTask steps through a TaskSubmitter.
type AgentTaskHandler struct {
	eval     *expression.Evaluator
	submitter TaskSubmitter
}

// NewAgentTaskHandler returns a handler rendering templates with eval and
// submitting through submitter.
func NewAgentTaskHandler(eval *expression.Evaluator, submitter TaskSubmitter) *AgentTaskHandler {
	return &AgentTaskHandler{eval: eval, submitter: submitter}
}

func (h *AgentTaskHandler) Dispatch(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	cfg := step.AgentTask
	if cfg == nil {
		return models.DispatchOutcome{}, errs.New(errs.InternalError, "agent_task step missing config")
	}
	// The process-level max_cost ceiling (§4.3.1) is enforced by the
	// coordinator before Dispatch is called, since it depends on
	// exec.TotalCost plus the whole definition, not just this step.

	message, err := h.eval.Substitute(cfg.MessageTemplate, ectx)
	if err != nil {
		return models.DispatchOutcome{}, err
	}

	result, err := h.submitter.Submit(ctx, cfg.AgentName, exec.ExecutionID, AgentTask{
		Message: message,
		Timeout: int64(cfg.Timeout),
	})
	if err != nil {
		if kerr, ok := err.(*errs.Error); ok {
			return models.Failed(string(kerr.Kind), kerr.Message), nil
		}
		return models.Failed(string(errs.QueueFull), err.Error()), nil
	}
	if result.ErrKind != "" {
		return models.Failed(result.ErrKind, result.ErrMsg), nil
	}
	return models.Completed(models.AgentTaskOutput{
		Content:    result.Content,
		Cost:       result.Cost,
		TokensUsed: result.TokensUsed,
	}, result.Cost), nil
}

// Poll is a no-op for agent_task: the queue's Submit call is synchronous
// from the coordinator's point of view (it blocks until the agent
// responds or the context is cancelled), so there is nothing to poll.
func (h *AgentTaskHandler) Poll(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	return models.DispatchOutcome{}, errs.New(errs.InternalError, "agent_task steps do not suspend")
}
