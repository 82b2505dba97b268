package events

import (
	"context"
	"log/slog"
)

// ChildTerminalNotifier is implemented by the execution coordinator
// (pkg/engine). Defined here, not imported from there, so pkg/events never
// depends on pkg/engine: the dependency runs coordinator -> bus -> sink ->
// this interface -> coordinator, closed through an interface rather than a
// package cycle.
type ChildTerminalNotifier interface {
	NotifyChildTerminal(ctx context.Context, parentExecutionID, childExecutionID, childStepID string, outcome ChildOutcome) error
}

// ChildOutcome is the compact result a sub-process step's parent needs to
// resume: whether the child succeeded and, if configured, its output.
type ChildOutcome struct {
	Succeeded bool
	Output    any
	ErrorKind string
	ErrorMsg  string
}

// ParentResumeSink watches for terminal events on child executions and
// notifies the parent's coordinator so the waiting sub_process step can be
// completed or failed, without the parent and child executions holding
// direct references to one another (§9).
type ParentResumeSink struct {
	notifier ChildTerminalNotifier
	parentOf ParentLookup
}

// ParentLookup resolves the (parentExecutionID, parentStepID) pair that
// launched a child execution, if any.
type ParentLookup interface {
	ParentOf(childExecutionID string) (parentExecutionID, parentStepID string, ok bool)
}

// NewParentResumeSink returns a sink that resolves parentage via parentOf
// and resumes parents via notifier.
func NewParentResumeSink(parentOf ParentLookup, notifier ChildTerminalNotifier) *ParentResumeSink {
	return &ParentResumeSink{parentOf: parentOf, notifier: notifier}
}

func (s *ParentResumeSink) Handle(evt Event) {
	switch evt.Type {
	case TypeProcessCompleted, TypeProcessFailed, TypeProcessCancelled:
	default:
		return
	}

	parentExecutionID, parentStepID, ok := s.parentOf.ParentOf(evt.ExecutionID)
	if !ok {
		return
	}

	outcome := ChildOutcome{Succeeded: evt.Type == TypeProcessCompleted}
	if m, ok := evt.Payload.(map[string]any); ok {
		outcome.Output = m["output"]
		if kind, ok := m["error_kind"].(string); ok {
			outcome.ErrorKind = kind
		}
		if msg, ok := m["error_message"].(string); ok {
			outcome.ErrorMsg = msg
		}
	}

	if err := s.notifier.NotifyChildTerminal(context.Background(), parentExecutionID, evt.ExecutionID, parentStepID, outcome); err != nil {
		slog.Error("failed to resume parent execution after child terminal", "parent_execution_id", parentExecutionID, "child_execution_id", evt.ExecutionID, "error", err)
	}
}
