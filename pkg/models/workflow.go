package models

import "time"

// WorkflowKind tags what a workflow produces; planning workflows emit
// planning lifecycle events on top of the node events.
type WorkflowKind string

const (
	WorkflowKindGeneric  WorkflowKind = ""
	WorkflowKindPlanning WorkflowKind = "planning"
)

// Workflow is a pure description of a pipeline: an ordered, linked set of
// typed steps. It carries no behavior of its own.
type Workflow struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Kind        WorkflowKind      `json:"kind,omitempty"`
	Steps       []*StepDefinition `json:"steps"       validate:"required,min=1,dive"`

	// EntryNode is where a fresh execution starts. Defaults to the first
	// step when empty.
	EntryNode string `json:"entry_node,omitempty"`

	// ResumeNodes maps an execution phase (stored under the "phase"
	// context key) to the node that processes newly supplied input after
	// a pause. Resuming never re-enters the node that paused.
	ResumeNodes map[string]string `json:"resume_nodes,omitempty"`

	Variables map[string]any `json:"variables,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Entry returns the id of the node a fresh execution starts at.
func (w *Workflow) Entry() string {
	if w.EntryNode != "" {
		return w.EntryNode
	}

	if len(w.Steps) > 0 {
		return w.Steps[0].ID
	}

	return NodeEnd
}

// PhaseContextKey is the context key the engine reads to resolve the
// processing node for a paused execution.
const PhaseContextKey = "phase"

// BreakContextKey is the context key a nested code handler sets to signal
// an early loop exit. The loop node clears it after reading.
const BreakContextKey = "__break__"
