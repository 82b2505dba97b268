package stephandlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

func strptr(s string) *string { return &s }

func TestGatewayExclusiveSelectsFirstMatch(t *testing.T) {
	h := NewGatewayHandler(expression.New())
	step := &models.StepDefinition{
		StepID: "route", Kind: models.StepGateway,
		Gateway: &models.GatewayConfig{
			GatewayType: models.GatewayExclusive,
			Routes: []models.GatewayRoute{
				{Condition: strptr("{{steps.review.output.decision}} == 'approved'"), TargetStep: "publish"},
				{TargetStep: "revise"},
			},
		},
	}
	ectx := expression.Context{Steps: map[string]expression.StepView{
		"review": {Status: "completed", Output: map[string]any{"decision": "approved"}},
	}}

	outcome, err := h.Dispatch(context.Background(), &models.ProcessExecution{}, step, ectx)

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRouted, outcome.Kind)
	assert.Equal(t, []string{"publish"}, outcome.Targets)
}

func TestGatewayExclusiveFallsBackToDefault(t *testing.T) {
	h := NewGatewayHandler(expression.New())
	step := &models.StepDefinition{
		Gateway: &models.GatewayConfig{
			GatewayType: models.GatewayExclusive,
			Routes: []models.GatewayRoute{
				{Condition: strptr("{{steps.review.output.decision}} == 'approved'"), TargetStep: "publish"},
				{TargetStep: "revise"},
			},
		},
	}
	ectx := expression.Context{Steps: map[string]expression.StepView{
		"review": {Status: "completed", Output: map[string]any{"decision": "rejected"}},
	}}

	outcome, err := h.Dispatch(context.Background(), &models.ProcessExecution{}, step, ectx)

	require.NoError(t, err)
	assert.Equal(t, []string{"revise"}, outcome.Targets)
}

func TestGatewayExclusiveNoMatchNoDefaultFails(t *testing.T) {
	h := NewGatewayHandler(expression.New())
	step := &models.StepDefinition{
		Gateway: &models.GatewayConfig{
			GatewayType: models.GatewayExclusive,
			Routes: []models.GatewayRoute{
				{Condition: strptr("1 == 2"), TargetStep: "a"},
			},
		},
	}

	outcome, err := h.Dispatch(context.Background(), &models.ProcessExecution{}, step, expression.Context{})

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, outcome.Kind)
	assert.Equal(t, "no_matching_route", outcome.ErrKind)
}

func TestGatewayParallelSelectsAllRoutes(t *testing.T) {
	h := NewGatewayHandler(expression.New())
	step := &models.StepDefinition{
		Gateway: &models.GatewayConfig{
			GatewayType: models.GatewayParallel,
			Routes: []models.GatewayRoute{
				{TargetStep: "a"}, {TargetStep: "b"},
			},
		},
	}

	outcome, err := h.Dispatch(context.Background(), &models.ProcessExecution{}, step, expression.Context{})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, outcome.Targets)
}

func TestGatewayInclusiveSelectsAllMatching(t *testing.T) {
	h := NewGatewayHandler(expression.New())
	step := &models.StepDefinition{
		Gateway: &models.GatewayConfig{
			GatewayType: models.GatewayInclusive,
			Routes: []models.GatewayRoute{
				{Condition: strptr("{{input.x}} > 0"), TargetStep: "a"},
				{Condition: strptr("{{input.y}} > 0"), TargetStep: "b"},
			},
		},
	}
	ectx := expression.Context{Input: map[string]any{"x": 1, "y": 1}}

	outcome, err := h.Dispatch(context.Background(), &models.ProcessExecution{}, step, ectx)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, outcome.Targets)
}
