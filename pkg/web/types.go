package web

// StartExecutionRequest starts a fresh execution of a workflow.
type StartExecutionRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Input      map[string]any `json:"input,omitempty"`
}

// ResumeExecutionRequest supplies answers for a paused execution, keyed
// by pending question id.
type ResumeExecutionRequest struct {
	Answers map[string]string `json:"answers,omitempty"`
	Input   map[string]any    `json:"input,omitempty"`
}

// StatusChangeRequest notifies the automation layer that an issue entered
// a new status.
type StatusChangeRequest struct {
	ProjectID string `json:"project_id" validate:"required"`
	Owner     string `json:"owner"      validate:"required"`
	Repo      string `json:"repo"       validate:"required"`
	Status    string `json:"status"     validate:"required"`
}

// TriggerAutomationRequest fires a button-triggered automation against an
// issue.
type TriggerAutomationRequest struct {
	Owner       string `json:"owner"        validate:"required"`
	Repo        string `json:"repo"         validate:"required"`
	IssueNumber int    `json:"issue_number" validate:"required,min=1"`
	TriggeredBy string `json:"triggered_by"`
}
