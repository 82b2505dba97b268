// Package dependency implements Trinity's DependencyResolver: a pure
// function computing which steps of a running execution are now ready to
// dispatch, and which should be marked skipped, given the current state
// of their predecessors.
package dependency

import (
	"fmt"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

// Predicate evaluates a step condition. Implementations must never error
// on semantic misses, matching expression.Evaluator.EvaluatePredicate.
type Predicate interface {
	EvaluatePredicate(source string, ctx expression.Context) (bool, error)
}

// Resolver computes ready-sets from a definition and execution pair.
type Resolver struct {
	eval Predicate
}

// New returns a Resolver backed by the given predicate evaluator.
func New(eval Predicate) *Resolver {
	return &Resolver{eval: eval}
}

// Skip describes a step the resolver determined should be skipped instead
// of dispatched, along with the reason to record on it.
type Skip struct {
	StepID string
	Reason string
}

// Result is the output of a single resolution pass.
type Result struct {
	// Ready is the ordered (definition order) list of step ids now
	// eligible for dispatch.
	Ready []string
	// Skips is the set of steps that should transition to skipped this
	// pass, in definition order.
	Skips []Skip
}

// Resolve computes the ready-set and skip-set for exec against def, using
// exprCtx to evaluate step conditions. It never mutates exec; callers
// apply the returned decisions via ProcessExecution's methods.
func (r *Resolver) Resolve(def *models.ProcessDefinition, exec *models.ProcessExecution, exprCtx expression.Context) (Result, error) {
	var res Result

	for _, step := range def.Steps {
		se := exec.Step(step.StepID)
		if se == nil || se.Status != models.StepPending {
			continue
		}

		upstreamFailed, allTerminalOK := r.predecessorState(def, exec, step)
		if upstreamFailed {
			res.Skips = append(res.Skips, Skip{StepID: step.StepID, Reason: "upstream_failed"})
			continue
		}
		if !allTerminalOK {
			// Waiting on at least one predecessor; not ready yet.
			continue
		}

		if step.Condition != "" {
			ok, err := r.eval.EvaluatePredicate(step.Condition, exprCtx)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				res.Skips = append(res.Skips, Skip{StepID: step.StepID, Reason: "condition_false"})
				continue
			}
		}

		res.Ready = append(res.Ready, step.StepID)
	}

	return res, nil
}

// predecessorState reports whether any predecessor of step has failed
// (upstreamFailed), and whether every predecessor has reached a status
// that permits this step to proceed (completed or skipped).
func (r *Resolver) predecessorState(def *models.ProcessDefinition, exec *models.ProcessExecution, step models.StepDefinition) (upstreamFailed bool, ready bool) {
	if len(step.Dependencies) == 0 {
		return false, true
	}
	ready = true
	for _, depID := range step.Dependencies {
		dep := exec.Step(depID)
		if dep == nil {
			ready = false
			continue
		}
		switch dep.Status {
		case models.StepFailed:
			upstreamFailed = true
		case models.StepCompleted, models.StepSkipped:
			// satisfied
		default:
			ready = false
		}
	}
	return upstreamFailed, ready
}

// Validate checks def's DAG shape at publish time: step ids unique,
// every dependency and gateway route target exists, the graph is
// acyclic, and at least one step has no dependencies. Anything that
// fails here is reported as errs.Validation.
func Validate(def *models.ProcessDefinition) error {
	if len(def.Steps) == 0 {
		return errs.New(errs.Validation, "process must declare at least one step")
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.StepID == "" {
			return errs.New(errs.Validation, "step id must not be empty")
		}
		if seen[step.StepID] {
			return errs.New(errs.Validation, fmt.Sprintf("duplicate step id %q", step.StepID))
		}
		seen[step.StepID] = true
	}

	for _, step := range def.Steps {
		for _, dep := range step.Dependencies {
			if !seen[dep] {
				return errs.New(errs.Validation, fmt.Sprintf("step %q depends on unknown step %q", step.StepID, dep))
			}
		}
		if step.Kind == models.StepGateway && step.Gateway != nil {
			for _, route := range step.Gateway.Routes {
				if !seen[route.TargetStep] {
					return errs.New(errs.Validation, fmt.Sprintf("gateway step %q routes to unknown step %q", step.StepID, route.TargetStep))
				}
			}
		}
	}

	if len(def.EntrySteps()) == 0 {
		return errs.New(errs.Validation, "process must have at least one entry step with no dependencies")
	}

	if cycle := findCycle(def); cycle != "" {
		return errs.New(errs.Validation, fmt.Sprintf("process graph contains a cycle involving step %q", cycle))
	}

	return nil
}

// findCycle runs a DFS with a coloring scheme (white/gray/black) over the
// dependency graph, returning the id of a step found on a cycle, or ""
// if the graph is acyclic.
func findCycle(def *models.ProcessDefinition) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(def.Steps))
	deps := make(map[string][]string, len(def.Steps))
	for _, step := range def.Steps {
		deps[step.StepID] = step.Dependencies
	}

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if cyc := visit(dep); cyc != "" {
					return cyc
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, step := range def.Steps {
		if color[step.StepID] == white {
			if cyc := visit(step.StepID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// ApplyGatewaySkips marks steps reachable only from a gateway step, but
// not among its selected_routes, as skipped with reason
// gateway_not_selected. target step ids are those declared as routes of
// the gateway that were not selected. A target also declared as a route
// of a different gateway in def is left alone: that other gateway may
// still select it, so this gateway not selecting it isn't conclusive.
func ApplyGatewaySkips(def *models.ProcessDefinition, gatewayStep models.StepDefinition, selectedRoutes []string) []Skip {
	selected := make(map[string]bool, len(selectedRoutes))
	for _, t := range selectedRoutes {
		selected[t] = true
	}
	var skips []Skip
	if gatewayStep.Gateway == nil {
		return skips
	}
	for _, route := range gatewayStep.Gateway.Routes {
		if selected[route.TargetStep] {
			continue
		}
		if def != nil && routedFromOtherGateway(def, gatewayStep.StepID, route.TargetStep) {
			continue
		}
		skips = append(skips, Skip{StepID: route.TargetStep, Reason: "gateway_not_selected"})
	}
	return skips
}

// routedFromOtherGateway reports whether targetStepID is declared as a
// route target of some gateway step in def other than excludeGatewayID.
func routedFromOtherGateway(def *models.ProcessDefinition, excludeGatewayID, targetStepID string) bool {
	for _, step := range def.Steps {
		if step.StepID == excludeGatewayID || step.Kind != models.StepGateway || step.Gateway == nil {
			continue
		}
		for _, route := range step.Gateway.Routes {
			if route.TargetStep == targetStepID {
				return true
			}
		}
	}
	return false
}
