package dependency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

func diamondDef() *models.ProcessDefinition {
	return &models.ProcessDefinition{
		ProcessID: "p1",
		Steps: []models.StepDefinition{
			{StepID: "start", Kind: models.StepAgentTask, AgentTask: &models.AgentTaskConfig{}},
			{StepID: "a", Kind: models.StepAgentTask, Dependencies: []string{"start"}, AgentTask: &models.AgentTaskConfig{}},
			{StepID: "b", Kind: models.StepAgentTask, Dependencies: []string{"start"}, AgentTask: &models.AgentTaskConfig{}},
			{StepID: "merge", Kind: models.StepAgentTask, Dependencies: []string{"a", "b"}, AgentTask: &models.AgentTaskConfig{}},
		},
	}
}

func TestResolveEntryStepReady(t *testing.T) {
	def := diamondDef()
	exec := models.NewExecution("e1", def, nil, models.TriggeredBy{Kind: models.TriggerManual, Actor: "a"}, time.Now())

	res, err := New(expression.New()).Resolve(def, exec, expression.Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"start"}, res.Ready)
}

func TestResolveMergeWaitsForBothParents(t *testing.T) {
	def := diamondDef()
	exec := models.NewExecution("e1", def, nil, models.TriggeredBy{Kind: models.TriggerManual, Actor: "a"}, time.Now())
	now := time.Now()
	_, _ = exec.TransitionStep("start", models.StepCompleted, now)
	_, _ = exec.TransitionStep("a", models.StepCompleted, now)
	// b still pending

	res, err := New(expression.New()).Resolve(def, exec, expression.Context{})
	require.NoError(t, err)
	assert.NotContains(t, res.Ready, "merge")
	assert.Contains(t, res.Ready, "b")
}

func TestResolveUpstreamFailedSkipsDownstream(t *testing.T) {
	def := diamondDef()
	exec := models.NewExecution("e1", def, nil, models.TriggeredBy{Kind: models.TriggerManual, Actor: "a"}, time.Now())
	now := time.Now()
	_, _ = exec.TransitionStep("start", models.StepCompleted, now)
	_, _ = exec.FailStep("a", "internal_error", "boom", now)
	_, _ = exec.TransitionStep("b", models.StepCompleted, now)

	res, err := New(expression.New()).Resolve(def, exec, expression.Context{})
	require.NoError(t, err)
	require.Len(t, res.Skips, 1)
	assert.Equal(t, "merge", res.Skips[0].StepID)
	assert.Equal(t, "upstream_failed", res.Skips[0].Reason)
}

func TestResolveConditionFalseSkips(t *testing.T) {
	def := diamondDef()
	def.Steps[1].Condition = "input.enabled == true"
	exec := models.NewExecution("e1", def, map[string]any{"enabled": false}, models.TriggeredBy{Kind: models.TriggerManual, Actor: "a"}, time.Now())
	now := time.Now()
	_, _ = exec.TransitionStep("start", models.StepCompleted, now)

	exprCtx := expression.Context{Input: map[string]any{"enabled": false}}
	res, err := New(expression.New()).Resolve(def, exec, exprCtx)
	require.NoError(t, err)
	require.Len(t, res.Skips, 1)
	assert.Equal(t, "a", res.Skips[0].StepID)
	assert.Equal(t, "condition_false", res.Skips[0].Reason)
}

func TestApplyGatewaySkipsMarksUnselected(t *testing.T) {
	gw := models.StepDefinition{
		StepID: "gw",
		Gateway: &models.GatewayConfig{
			Routes: []models.GatewayRoute{
				{TargetStep: "publish"},
				{TargetStep: "review"},
			},
		},
	}
	def := &models.ProcessDefinition{ProcessID: "p1", Steps: []models.StepDefinition{
		gw,
		{StepID: "publish", Dependencies: []string{"gw"}},
		{StepID: "review", Dependencies: []string{"gw"}},
	}}
	skips := ApplyGatewaySkips(def, gw, []string{"review"})
	require.Len(t, skips, 1)
	assert.Equal(t, "publish", skips[0].StepID)
	assert.Equal(t, "gateway_not_selected", skips[0].Reason)
}

// TestApplyGatewaySkipsLeavesTargetReachableFromOtherGateway covers §4.3.2's
// "reachable only from this gateway" qualifier: a step routed to by two
// different gateways is not skipped just because one of them didn't select
// it, since the other might still.
func TestApplyGatewaySkipsLeavesTargetReachableFromOtherGateway(t *testing.T) {
	gwA := models.StepDefinition{
		StepID: "gwA", Kind: models.StepGateway,
		Gateway: &models.GatewayConfig{
			Routes: []models.GatewayRoute{{TargetStep: "shared"}, {TargetStep: "a-only"}},
		},
	}
	gwB := models.StepDefinition{
		StepID: "gwB", Kind: models.StepGateway,
		Gateway: &models.GatewayConfig{
			Routes: []models.GatewayRoute{{TargetStep: "shared"}, {TargetStep: "b-only"}},
		},
	}
	def := &models.ProcessDefinition{ProcessID: "p1", Steps: []models.StepDefinition{
		gwA, gwB,
		{StepID: "shared", Dependencies: []string{"gwA", "gwB"}},
		{StepID: "a-only", Dependencies: []string{"gwA"}},
		{StepID: "b-only", Dependencies: []string{"gwB"}},
	}}

	skips := ApplyGatewaySkips(def, gwA, []string{"a-only"})

	// gwA didn't select "shared", but gwB also routes to it, so it must
	// not be skipped here.
	assert.Empty(t, skips)
}

func TestValidateAcceptsWellFormedDiamond(t *testing.T) {
	require.NoError(t, Validate(diamondDef()))
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	def := diamondDef()
	def.Steps = append(def.Steps, models.StepDefinition{StepID: "start", Kind: models.StepAgentTask, AgentTask: &models.AgentTaskConfig{}})
	err := Validate(def)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	def := diamondDef()
	def.Steps[1].Dependencies = []string{"does-not-exist"}
	err := Validate(def)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestValidateRejectsUnknownGatewayRouteTarget(t *testing.T) {
	def := diamondDef()
	def.Steps = append(def.Steps, models.StepDefinition{
		StepID:       "gw",
		Kind:         models.StepGateway,
		Dependencies: []string{"start"},
		Gateway: &models.GatewayConfig{
			Routes: []models.GatewayRoute{{TargetStep: "nowhere"}},
		},
	})
	err := Validate(def)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestValidateRejectsCycle(t *testing.T) {
	def := &models.ProcessDefinition{
		ProcessID: "p-cycle",
		Steps: []models.StepDefinition{
			{StepID: "a", Kind: models.StepAgentTask, Dependencies: []string{"b"}, AgentTask: &models.AgentTaskConfig{}},
			{StepID: "b", Kind: models.StepAgentTask, Dependencies: []string{"a"}, AgentTask: &models.AgentTaskConfig{}},
		},
	}
	err := Validate(def)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestValidateRejectsNoEntryStep(t *testing.T) {
	def := &models.ProcessDefinition{
		ProcessID: "p-self",
		Steps: []models.StepDefinition{
			{StepID: "a", Kind: models.StepAgentTask, Dependencies: []string{"a"}, AgentTask: &models.AgentTaskConfig{}},
		},
	}
	err := Validate(def)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}
