package stephandlers

import (
	"context"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

// GatewayHandler evaluates a gateway step's routes against the execution
// context and returns the selected targets.
type GatewayHandler struct {
	eval *expression.Evaluator
}

// NewGatewayHandler returns a handler evaluating route conditions with
// eval.
func NewGatewayHandler(eval *expression.Evaluator) *GatewayHandler {
	return &GatewayHandler{eval: eval}
}

func (h *GatewayHandler) Dispatch(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	cfg := step.Gateway
	if cfg == nil {
		return models.DispatchOutcome{}, errs.New(errs.InternalError, "gateway step missing config")
	}

	var selected []string
	var defaultTarget string
	hasDefault := false

	switch cfg.GatewayType {
	case models.GatewayExclusive:
		for _, route := range cfg.Routes {
			if route.IsDefault() {
				defaultTarget, hasDefault = route.TargetStep, true
				continue
			}
			matched, err := h.eval.EvaluatePredicate(*route.Condition, ectx)
			if err != nil {
				return models.DispatchOutcome{}, err
			}
			if matched {
				selected = []string{route.TargetStep}
				break
			}
		}
		if len(selected) == 0 {
			if hasDefault {
				selected = []string{defaultTarget}
			} else {
				return models.Failed(string(errs.NoMatchingRoute), "no gateway route matched and no default route configured"), nil
			}
		}

	case models.GatewayParallel:
		for _, route := range cfg.Routes {
			selected = append(selected, route.TargetStep)
		}

	case models.GatewayInclusive:
		for _, route := range cfg.Routes {
			if route.IsDefault() {
				defaultTarget, hasDefault = route.TargetStep, true
				continue
			}
			matched, err := h.eval.EvaluatePredicate(*route.Condition, ectx)
			if err != nil {
				return models.DispatchOutcome{}, err
			}
			if matched {
				selected = append(selected, route.TargetStep)
			}
		}
		if len(selected) == 0 {
			if hasDefault {
				selected = []string{defaultTarget}
			} else {
				return models.Failed(string(errs.NoMatchingRoute), "no gateway route matched and no default route configured"), nil
			}
		}

	default:
		return models.DispatchOutcome{}, errs.New(errs.InternalError, "unknown gateway type "+string(cfg.GatewayType))
	}

	return models.Routed(selected), nil
}

// Poll is a no-op for gateway: route evaluation never suspends.
func (h *GatewayHandler) Poll(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	return models.DispatchOutcome{}, errs.New(errs.InternalError, "gateway steps do not suspend")
}
