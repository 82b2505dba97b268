package stephandlers

import (
	"context"
	"time"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

// TimerHandler computes a resume time and suspends until it passes. The
// coordinator calls Poll from pollDueTimers at the top of each advance
// pass, which the retry sweeper re-enters once not_before has elapsed.
type TimerHandler struct {
	eval  *expression.Evaluator
	clock clock.Clock
}

// NewTimerHandler returns a handler using eval to render WaitUntilExpr
// and clock to read the current time.
func NewTimerHandler(eval *expression.Evaluator, c clock.Clock) *TimerHandler {
	return &TimerHandler{eval: eval, clock: c}
}

func (h *TimerHandler) Dispatch(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	resumeAt, err := h.resumeTime(step, ectx)
	if err != nil {
		return models.DispatchOutcome{}, err
	}
	return models.Suspended("timer:" + resumeAt.Format(time.RFC3339)), nil
}

// Poll completes the step once the clock has passed its resume time. It
// uses the step's stored NotBefore when set; only when NotBefore is
// absent is the resume time recomputed from the step config.
func (h *TimerHandler) Poll(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	se := exec.Step(step.StepID)
	if se == nil || se.NotBefore == nil {
		resumeAt, err := h.resumeTime(step, ectx)
		if err != nil {
			return models.DispatchOutcome{}, err
		}
		if h.clock.Now().Before(resumeAt) {
			return models.Suspended("timer:" + resumeAt.Format(time.RFC3339)), nil
		}
		return models.Completed(nil, 0), nil
	}
	if h.clock.Now().Before(*se.NotBefore) {
		return models.Suspended("timer:" + se.NotBefore.Format(time.RFC3339)), nil
	}
	return models.Completed(nil, 0), nil
}

func (h *TimerHandler) resumeTime(step *models.StepDefinition, ectx expression.Context) (time.Time, error) {
	cfg := step.Timer
	if cfg == nil {
		return time.Time{}, errs.New(errs.InternalError, "timer step missing config")
	}
	if cfg.WaitDuration > 0 {
		return h.clock.Now().Add(cfg.WaitDuration), nil
	}
	if cfg.WaitUntilExpr != "" {
		rendered, err := h.eval.Substitute(cfg.WaitUntilExpr, ectx)
		if err != nil {
			return time.Time{}, err
		}
		loc := time.UTC
		if cfg.Timezone != "" {
			if l, err := time.LoadLocation(cfg.Timezone); err == nil {
				loc = l
			}
		}
		parsed, err := time.ParseInLocation(time.RFC3339, rendered, loc)
		if err != nil {
			return time.Time{}, errs.Wrap(errs.ExpressionError, "wait_until_expr did not render to an RFC3339 timestamp", err)
		}
		return parsed, nil
	}
	return time.Time{}, errs.New(errs.Validation, "timer step has neither wait_duration nor wait_until_expr")
}
