package models

import "time"

// StepDefinition describes one node in a process's DAG. Exactly one of the
// Kind-specific config pointers below is populated, matching Kind.
type StepDefinition struct {
	StepID       string   `json:"step_id"`
	Name         string   `json:"name"`
	Kind         StepKind `json:"kind"`
	Dependencies []string `json:"dependencies,omitempty"`
	Condition    string   `json:"condition,omitempty"`

	AgentTask    *AgentTaskConfig    `json:"agent_task,omitempty"`
	HumanApproval *HumanApprovalConfig `json:"human_approval,omitempty"`
	Gateway      *GatewayConfig      `json:"gateway,omitempty"`
	Timer        *TimerConfig        `json:"timer,omitempty"`
	Notification *NotificationConfig `json:"notification,omitempty"`
	SubProcess   *SubProcessConfig   `json:"sub_process,omitempty"`
}

// RetryPolicy governs how a failed agent_task or notification step retries.
type RetryPolicy struct {
	MaxAttempts      int           `json:"max_attempts"`
	Backoff          BackoffKind   `json:"backoff"`
	InitialDelay     time.Duration `json:"initial_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	RetryableKinds   []string      `json:"retryable_kinds,omitempty"`
	NonRetryableKinds []string     `json:"non_retryable_kinds,omitempty"`
}

// Attempts returns the configured max attempts, defaulting to 1 (no retry)
// per SPEC_FULL.md §4.5.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// AgentTaskConfig configures a StepAgentTask step.
type AgentTaskConfig struct {
	AgentName       string       `json:"agent_name"`
	MessageTemplate string       `json:"message_template"`
	Timeout         time.Duration `json:"timeout"`
	MaxCost         float64      `json:"max_cost,omitempty"`
	RetryPolicy     *RetryPolicy `json:"retry_policy,omitempty"`
	OnError         OnError      `json:"on_error,omitempty"`
	// InformedAgents lists agents kept aware of this step's events as
	// non-participant observers (see AwarenessSink, §4.9/§9), distinct
	// from AgentName, the agent that actually performs the task.
	InformedAgents []string `json:"informed_agents,omitempty"`
}

// HumanApprovalConfig configures a StepHumanApproval step.
type HumanApprovalConfig struct {
	Approvers []string      `json:"approvers"`
	Timeout   time.Duration `json:"timeout"`
	OnTimeout OnTimeout     `json:"on_timeout"`
	Artifacts []string      `json:"artifacts,omitempty"`
	Title     string        `json:"title,omitempty"`
}

// GatewayRoute is one candidate route of a gateway step. A nil Condition
// marks the default route.
type GatewayRoute struct {
	Condition  *string `json:"condition,omitempty"`
	TargetStep string  `json:"target_step"`
}

// IsDefault reports whether this route has no condition (always matches).
func (r GatewayRoute) IsDefault() bool { return r.Condition == nil }

// GatewayConfig configures a StepGateway step.
type GatewayConfig struct {
	GatewayType GatewayType    `json:"gateway_type"`
	Routes      []GatewayRoute `json:"routes"`
}

// TimerConfig configures a StepTimer step. Exactly one of WaitDuration or
// WaitUntilExpr is set.
type TimerConfig struct {
	WaitDuration  time.Duration `json:"wait_duration,omitempty"`
	WaitUntilExpr string        `json:"wait_until_expr,omitempty"`
	Timezone      string        `json:"timezone,omitempty"`
}

// NotificationConfig configures a StepNotification step.
type NotificationConfig struct {
	Channels        []string     `json:"channels"`
	MessageTemplate string       `json:"message_template"`
	Recipients      []string     `json:"recipients"`
	RetryPolicy     *RetryPolicy `json:"retry_policy,omitempty"`
	OnError         OnError      `json:"on_error,omitempty"`
}

// SubProcessConfig configures a StepSubProcess step.
type SubProcessConfig struct {
	ChildProcessName string            `json:"child_process_name"`
	InputMapping     map[string]string `json:"input_mapping,omitempty"`
	OutputMapping    map[string]string `json:"output_mapping,omitempty"`
	// OnError governs whether a failed child execution fails this step's
	// parent execution (OnErrorFail, the default) or is swallowed
	// (OnErrorSkipStep), per child failure propagating to the parent
	// unless the parent step opts out.
	OnError OnError `json:"on_error,omitempty"`
}
