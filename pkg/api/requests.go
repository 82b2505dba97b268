package api

import "github.com/trinity-run/trinity/pkg/models"

// createProcessRequest is the body of POST /processes and PUT /processes/{id}.
type createProcessRequest struct {
	Name                   string                   `json:"name"`
	Steps                  []models.StepDefinition  `json:"steps"`
	Triggers               []models.Trigger         `json:"triggers"`
	Output                 *models.OutputConfig     `json:"output,omitempty"`
	OwnerTeam              string                   `json:"owner_team"`
	MaxConcurrentInstances int                      `json:"max_concurrent_instances,omitempty"`
	Priority               int                      `json:"priority,omitempty"`
	DataClassification     models.DataClassification `json:"data_classification,omitempty"`
	MaxCost                float64                  `json:"max_cost,omitempty"`
}

// triggerExecutionRequest is the body of POST /executions.
type triggerExecutionRequest struct {
	ProcessName string          `json:"process_name"`
	Version     *models.Version `json:"version,omitempty"`
	Input       map[string]any  `json:"input"`
}

// cancelExecutionRequest is the body of POST /executions/{id}/cancel.
type cancelExecutionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// decideApprovalRequest is the body of POST /approvals/{id}/decide.
type decideApprovalRequest struct {
	Decision models.ApprovalStatus `json:"decision"`
	Comment  string                `json:"comment,omitempty"`
}

// createScheduleRequest is the body of POST /schedules.
type createScheduleRequest struct {
	ProcessID string `json:"process_id"`
	Cron      string `json:"cron"`
	Timezone  string `json:"timezone"`
}
