package events

import (
	"context"
	"log/slog"
)

// AwarenessNotifier delivers a compact awareness notification to a single
// agent. Satisfied by pkg/agentgateway.AgentGateway.NotifyAwareness.
type AwarenessNotifier interface {
	NotifyAwareness(ctx context.Context, agentID string, evt AwarenessEvent) error
}

// AwarenessEvent is the compact shape forwarded to agents, deliberately
// smaller than the full domain Event: agents are told what happened, not
// given the full step/process document.
type AwarenessEvent struct {
	Type        Type
	ExecutionID string
	StepID      string
	Summary     string
}

// InformedAgents resolves which agents should be made aware of evt. The
// engine implements this by reading the process definition's awareness
// configuration (§4.9); it is injected here to avoid pkg/events depending
// on pkg/engine.
type InformedAgents interface {
	AgentsInformedOf(evt Event) []string
}

// AwarenessSink notifies agents registered as "informed" for an event's
// step, without ever invoking step dispatch logic itself.
type AwarenessSink struct {
	informed InformedAgents
	notifier AwarenessNotifier
}

// NewAwarenessSink returns a sink that resolves informed agents via
// informed and delivers through notifier.
func NewAwarenessSink(informed InformedAgents, notifier AwarenessNotifier) *AwarenessSink {
	return &AwarenessSink{informed: informed, notifier: notifier}
}

func (s *AwarenessSink) Handle(evt Event) {
	agents := s.informed.AgentsInformedOf(evt)
	if len(agents) == 0 {
		return
	}
	aware := AwarenessEvent{
		Type:        evt.Type,
		ExecutionID: evt.ExecutionID,
		StepID:      evt.StepID,
		Summary:     summarize(evt),
	}
	for _, agentID := range agents {
		if err := s.notifier.NotifyAwareness(context.Background(), agentID, aware); err != nil {
			slog.Warn("failed to deliver awareness notification", "agent_id", agentID, "event_type", evt.Type, "error", err)
		}
	}
}

func summarize(evt Event) string {
	switch evt.Type {
	case TypeStepCompleted:
		return "step " + evt.StepID + " completed"
	case TypeStepFailed:
		return "step " + evt.StepID + " failed"
	case TypeGatewayEvaluated:
		return "gateway " + evt.StepID + " evaluated"
	default:
		return string(evt.Type)
	}
}
