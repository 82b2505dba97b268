package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticInformedAgents struct {
	agents []string
}

func (s staticInformedAgents) AgentsInformedOf(Event) []string { return s.agents }

type recordingNotifier struct {
	calls []AwarenessEvent
	agent []string
}

func (r *recordingNotifier) NotifyAwareness(_ context.Context, agentID string, evt AwarenessEvent) error {
	r.agent = append(r.agent, agentID)
	r.calls = append(r.calls, evt)
	return nil
}

func TestAwarenessSinkNotifiesInformedAgents(t *testing.T) {
	notifier := &recordingNotifier{}
	sink := NewAwarenessSink(staticInformedAgents{agents: []string{"agent-a", "agent-b"}}, notifier)

	sink.Handle(Event{Type: TypeStepCompleted, ExecutionID: "exec-1", StepID: "step-1"})

	require.Len(t, notifier.agent, 2)
	assert.ElementsMatch(t, []string{"agent-a", "agent-b"}, notifier.agent)
	assert.Equal(t, "step step-1 completed", notifier.calls[0].Summary)
}

func TestAwarenessSinkSkipsWhenNoneInformed(t *testing.T) {
	notifier := &recordingNotifier{}
	sink := NewAwarenessSink(staticInformedAgents{}, notifier)

	sink.Handle(Event{Type: TypeStepCompleted, ExecutionID: "exec-1"})

	assert.Empty(t, notifier.agent)
}
