package models

import (
	"strconv"
	"time"
)

// ProcessDefinition is the aggregate root describing a repeatable unit of
// work. Once Status is Published it is immutable; further edits create a
// new version rather than mutating this one.
type ProcessDefinition struct {
	ProcessID   string        `json:"process_id"`
	Name        string        `json:"name"`
	Version     Version       `json:"version"`
	Status      ProcessStatus `json:"status"`
	Steps       []StepDefinition `json:"steps"`
	Triggers    []Trigger     `json:"triggers"`
	Output      *OutputConfig `json:"output,omitempty"`

	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	OwnerTeam    string     `json:"owner_team"`

	MaxConcurrentInstances int                 `json:"max_concurrent_instances,omitempty"`
	Priority               int                 `json:"priority,omitempty"`
	DataClassification     DataClassification  `json:"data_classification,omitempty"`
	MaxCost                float64             `json:"max_cost,omitempty"`
}

// Version is a major.minor process definition version.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// String renders the version as "major.minor".
func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// Trigger declares a way a published process may be started.
type Trigger struct {
	Kind     TriggerKind `json:"kind"`
	Cron     string      `json:"cron,omitempty"`
	Timezone string      `json:"timezone,omitempty"`
	Webhook  string      `json:"webhook,omitempty"`
}

// OutputConfig declares how an execution's final output is assembled.
// Empty by default; when set, SourceStep selects which step's output
// becomes the execution's recorded output.
type OutputConfig struct {
	SourceStep string `json:"source_step,omitempty"`
}

// MaxInstances returns the configured cap on concurrently running
// instances of this process, defaulting to 3 per SPEC_FULL.md §4.11.
func (d *ProcessDefinition) MaxInstances() int {
	if d.MaxConcurrentInstances > 0 {
		return d.MaxConcurrentInstances
	}
	return 3
}

// StepByID looks up a step definition by id, returning ok=false if absent.
func (d *ProcessDefinition) StepByID(id string) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// EntrySteps returns steps with no dependencies, in definition order.
func (d *ProcessDefinition) EntrySteps() []StepDefinition {
	var out []StepDefinition
	for _, s := range d.Steps {
		if len(s.Dependencies) == 0 {
			out = append(out, s)
		}
	}
	return out
}
