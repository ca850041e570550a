package models

import "time"

// TriggerType selects how an automation is entered.
type TriggerType string

const (
	TriggerTypeStatusEntered TriggerType = "status_entered"
	TriggerTypeManualButton  TriggerType = "manual_button"
)

// Automation binds a project status trigger (or a manual button) to a
// workflow to run. Automations are long-lived configuration and are
// read-only to the engine at run time.
type Automation struct {
	ID            string      `json:"id"`
	ProjectID     string      `json:"project_id"     validate:"required"`
	Name          string      `json:"name"           validate:"required"`
	TriggerType   TriggerType `json:"trigger_type"   validate:"required,oneof=status_entered manual_button"`
	TriggerStatus string      `json:"trigger_status"`
	WorkflowID    string      `json:"workflow_id"    validate:"required"`
	Enabled       bool        `json:"enabled"`
	Priority      int         `json:"priority"` // lower runs first
	Transitions   []*Transition `json:"transitions,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TransitionCondition classifies which run outcomes a transition matches.
type TransitionCondition string

const (
	TransitionOnSuccess TransitionCondition = "success"
	TransitionOnFailure TransitionCondition = "failure"
	TransitionOnCustom  TransitionCondition = "custom"
)

// Transition maps a workflow run outcome to the next external status.
type Transition struct {
	ID               string              `json:"id"`
	AutomationID     string              `json:"automation_id"     validate:"required"`
	Condition        TransitionCondition `json:"condition"         validate:"required,oneof=success failure custom"`
	CustomExpression string              `json:"custom_expression,omitempty"`
	NextStatus       string              `json:"next_status"       validate:"required"`
	Priority         int                 `json:"priority"` // lower evaluated first
}

// RunResult is the classified outcome of an automation-triggered run.
type RunResult string

const (
	RunResultSuccess RunResult = "success"
	RunResultFailure RunResult = "failure"
	RunResultPaused  RunResult = "paused"
)

// IssueExecution links one automation firing to one workflow execution.
type IssueExecution struct {
	ID                string    `json:"id"`
	AutomationID      string    `json:"automation_id"`
	ExecutionID       string    `json:"execution_id"`
	ProjectID         string    `json:"project_id"`
	IssueNumber       int       `json:"issue_number"`
	TriggeredBy       string    `json:"triggered_by"` // "status_change" or a user id for manual runs
	FromStatus        string    `json:"from_status"`
	Result            RunResult `json:"result,omitempty"`
	NextStatusApplied string    `json:"next_status_applied,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// MaxAutomationDepth bounds chained automation-triggered status changes
// from one originating event. Recursion halts unconditionally at this
// depth, which bounds automation chains without cycle analysis.
const MaxAutomationDepth = 5
