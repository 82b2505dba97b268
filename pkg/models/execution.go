package models

import (
	"fmt"
	"time"
)

// TriggeredBy records what caused a ProcessExecution to start.
type TriggeredBy struct {
	Kind               TriggerKind `json:"kind"`
	Actor              string      `json:"actor"`
	ScheduleID         string      `json:"schedule_id,omitempty"`
	ParentExecutionID  string      `json:"parent_execution_id,omitempty"`
}

// StepExecution is the runtime state of one StepDefinition within an
// execution.
type StepExecution struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	NotBefore   *time.Time `json:"not_before,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	SkipReason  string     `json:"skip_reason,omitempty"`

	ApprovalID     string   `json:"approval_id,omitempty"`
	SelectedRoutes []string `json:"selected_routes,omitempty"`
	ChildExecutionID string `json:"child_execution_id,omitempty"`
}

// ProcessExecution is the mutable aggregate root tracking one run of a
// ProcessDefinition. All state changes go through its methods so the
// cross-aggregate invariant (total_cost == sum of step costs) and the
// monotonic event-sequence discipline always hold; nothing outside this
// package assigns to its fields directly.
type ProcessExecution struct {
	ExecutionID    string          `json:"execution_id"`
	ProcessID      string          `json:"process_id"`
	ProcessVersion Version         `json:"process_version"`
	Status         ExecutionStatus `json:"status"`
	TriggeredBy    TriggeredBy     `json:"triggered_by"`

	InputData    map[string]any           `json:"input_data"`
	StartedAt    time.Time                `json:"started_at"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
	TotalCost    float64                  `json:"total_cost"`
	Output       any                      `json:"output,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`

	StepExecutions map[string]*StepExecution `json:"step_executions"`

	OwnerTeam string `json:"owner_team"`
	OwnerUser string `json:"owner_user"`

	// seq is the last assigned per-execution monotonic event sequence
	// number. It is persisted alongside the execution and used both for
	// event ordering and as the optimistic-concurrency token on save.
	seq int64
}

// NewExecution creates a pending execution for the given definition,
// seeding one StepExecution per defined step.
func NewExecution(executionID string, def *ProcessDefinition, input map[string]any, triggeredBy TriggeredBy, startedAt time.Time) *ProcessExecution {
	steps := make(map[string]*StepExecution, len(def.Steps))
	for _, s := range def.Steps {
		steps[s.StepID] = &StepExecution{StepID: s.StepID, Status: StepPending}
	}
	return &ProcessExecution{
		ExecutionID:    executionID,
		ProcessID:      def.ProcessID,
		ProcessVersion: def.Version,
		Status:         ExecutionPending,
		TriggeredBy:    triggeredBy,
		InputData:      input,
		StartedAt:      startedAt,
		StepExecutions: steps,
		OwnerTeam:      def.OwnerTeam,
		OwnerUser:      triggeredBy.Actor,
	}
}

// Sequence returns the last-assigned monotonic event sequence number.
func (e *ProcessExecution) Sequence() int64 { return e.seq }

// SetSequence restores the sequence counter after loading from storage.
func (e *ProcessExecution) SetSequence(seq int64) { e.seq = seq }

// NextSequence increments and returns the per-execution event sequence
// number. The engine calls it once per persisted write, after the state
// mutation and before any publish (outbox discipline); some writes emit
// no event.
func (e *ProcessExecution) NextSequence() int64 {
	e.seq++
	return e.seq
}

// Step returns the StepExecution for id, or nil if unknown.
func (e *ProcessExecution) Step(id string) *StepExecution {
	return e.StepExecutions[id]
}

// Start transitions a pending execution to running.
func (e *ProcessExecution) Start() error {
	if e.Status != ExecutionPending {
		return fmt.Errorf("cannot start execution in status %s", e.Status)
	}
	e.Status = ExecutionRunning
	return nil
}

// TransitionStep moves a step to a new status, stamping StartedAt on
// running and CompletedAt on a terminal status. It does not refuse a
// transition out of a terminal status, and RetryStep and ResetStep also
// set step status directly.
func (e *ProcessExecution) TransitionStep(stepID string, status StepStatus, now time.Time) (*StepExecution, error) {
	se, ok := e.StepExecutions[stepID]
	if !ok {
		return nil, fmt.Errorf("unknown step %q", stepID)
	}
	switch status {
	case StepRunning:
		se.StartedAt = ptrTime(now)
	case StepCompleted, StepFailed, StepSkipped:
		se.CompletedAt = ptrTime(now)
	}
	se.Status = status
	return se, nil
}

// CompleteStep records a successful step outcome, adding its cost to the
// execution total. Cost accumulation only happens here, preserving the
// total_cost-equals-sum-of-step-costs invariant.
func (e *ProcessExecution) CompleteStep(stepID string, output any, cost float64, now time.Time) (*StepExecution, error) {
	se, err := e.TransitionStep(stepID, StepCompleted, now)
	if err != nil {
		return nil, err
	}
	se.Output = output
	e.TotalCost += cost
	return se, nil
}

// FailStep records a failed step outcome with its classified error.
func (e *ProcessExecution) FailStep(stepID string, errKind, errMsg string, now time.Time) (*StepExecution, error) {
	se, err := e.TransitionStep(stepID, StepFailed, now)
	if err != nil {
		return nil, err
	}
	se.Error = errMsg
	se.ErrorKind = errKind
	return se, nil
}

// SkipStep marks a step skipped with a reason (upstream_failed,
// gateway_not_selected, retries_exhausted, or condition_false).
func (e *ProcessExecution) SkipStep(stepID, reason string, now time.Time) (*StepExecution, error) {
	se, err := e.TransitionStep(stepID, StepSkipped, now)
	if err != nil {
		return nil, err
	}
	se.SkipReason = reason
	return se, nil
}

// RetryStep increments retry_count and returns the step to pending with a
// not-before timestamp.
func (e *ProcessExecution) RetryStep(stepID string, notBefore time.Time) (*StepExecution, error) {
	se, ok := e.StepExecutions[stepID]
	if !ok {
		return nil, fmt.Errorf("unknown step %q", stepID)
	}
	se.RetryCount++
	se.Status = StepPending
	se.NotBefore = ptrTime(notBefore)
	return se, nil
}

// ResetStep returns the step to pending without touching retry_count, for
// recovering a step interrupted mid-dispatch whose kind has no external
// side effect to account for (see StepKind.Idempotent).
func (e *ProcessExecution) ResetStep(stepID string, notBefore time.Time) (*StepExecution, error) {
	se, ok := e.StepExecutions[stepID]
	if !ok {
		return nil, fmt.Errorf("unknown step %q", stepID)
	}
	se.Status = StepPending
	se.NotBefore = ptrTime(notBefore)
	return se, nil
}

// AllTerminal reports whether every step has reached a terminal status.
func (e *ProcessExecution) AllTerminal() bool {
	for _, se := range e.StepExecutions {
		if !se.Status.Terminal() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any step is in StepFailed.
func (e *ProcessExecution) AnyFailed() bool {
	for _, se := range e.StepExecutions {
		if se.Status == StepFailed {
			return true
		}
	}
	return false
}

// Complete marks the execution completed with the given output.
func (e *ProcessExecution) Complete(output any, now time.Time) error {
	if e.Status.Terminal() {
		return fmt.Errorf("execution %s already terminal (%s)", e.ExecutionID, e.Status)
	}
	e.Status = ExecutionCompleted
	e.Output = output
	e.CompletedAt = ptrTime(now)
	return nil
}

// Fail marks the execution failed with a reason.
func (e *ProcessExecution) Fail(reason string, now time.Time) error {
	if e.Status.Terminal() {
		return fmt.Errorf("execution %s already terminal (%s)", e.ExecutionID, e.Status)
	}
	e.Status = ExecutionFailed
	e.FailureReason = reason
	e.CompletedAt = ptrTime(now)
	return nil
}

// Cancel marks the execution cancelled.
func (e *ProcessExecution) Cancel(reason string, now time.Time) error {
	if e.Status.Terminal() {
		return fmt.Errorf("execution %s already terminal (%s)", e.ExecutionID, e.Status)
	}
	e.Status = ExecutionCancelled
	e.FailureReason = reason
	e.CompletedAt = ptrTime(now)
	return nil
}

// Pause marks the execution paused (awaiting human approval).
func (e *ProcessExecution) Pause() error {
	if e.Status != ExecutionRunning {
		return fmt.Errorf("cannot pause execution in status %s", e.Status)
	}
	e.Status = ExecutionPaused
	return nil
}

// Unpause returns a paused execution to running.
func (e *ProcessExecution) Unpause() error {
	if e.Status != ExecutionPaused {
		return fmt.Errorf("cannot resume execution in status %s", e.Status)
	}
	e.Status = ExecutionRunning
	return nil
}

// TotalDuration returns the wall-clock duration of a terminal execution,
// or nil if still running.
func (e *ProcessExecution) TotalDuration() *time.Duration {
	if e.CompletedAt == nil {
		return nil
	}
	d := e.CompletedAt.Sub(e.StartedAt)
	return &d
}

func ptrTime(t time.Time) *time.Time { return &t }
