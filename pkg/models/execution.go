// Package models defines the core domain models for pipeline workflow execution
package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending         ExecutionStatus = "pending"
	ExecutionStatusRunning         ExecutionStatus = "running"
	ExecutionStatusPaused          ExecutionStatus = "paused"
	ExecutionStatusWaitingForInput ExecutionStatus = "waiting_for_input"
	ExecutionStatusCompleted       ExecutionStatus = "completed"
	ExecutionStatusFailed          ExecutionStatus = "failed"
)

// Terminal returns true once the execution can no longer advance.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// Sentinel node identifiers. CurrentNode is always either a real node id or
// one of these two values.
const (
	NodeEnd   = "__end__"
	NodeError = "__error__"
)

// IsTerminalNode reports whether id is one of the two terminal sentinels.
func IsTerminalNode(id string) bool {
	return id == NodeEnd || id == NodeError
}

// NodeStateStatus tracks the per-node progress inside one execution.
type NodeStateStatus string

const (
	NodeStatePending   NodeStateStatus = "pending"
	NodeStateRunning   NodeStateStatus = "running"
	NodeStateCompleted NodeStateStatus = "completed"
	NodeStateFailed    NodeStateStatus = "failed"
)

// NodeState records the outcome of a single node within an execution.
type NodeState struct {
	Status      NodeStateStatus `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ConversationTurn is one message in the execution's conversation history.
type ConversationTurn struct {
	Role      string    `json:"role"` // "assistant" or "user"
	Content   string    `json:"content"`
	Topic     string    `json:"topic,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingQuestion is a question waiting for a user answer while the
// execution is in waiting_for_input.
type PendingQuestion struct {
	ID       string `json:"id"`
	Topic    string `json:"topic,omitempty"`
	Question string `json:"question"`
}

// ExecutionState is the persisted snapshot of one running workflow instance.
// It is written only at completed node boundaries, never mid-node.
type ExecutionState struct {
	ID                  string               `json:"id"`
	WorkflowID          string               `json:"workflow_id"`
	CurrentNode         string               `json:"current_node"`
	Status              ExecutionStatus      `json:"status"`
	Context             map[string]any       `json:"context"`
	ConversationHistory []ConversationTurn   `json:"conversation_history,omitempty"`
	NodeStates          map[string]NodeState `json:"node_states"`
	PendingQuestions    []PendingQuestion    `json:"pending_questions,omitempty"`
	RetryCount          int                  `json:"retry_count"`
	LastError           string               `json:"last_error,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// NewExecutionState creates a fresh pending execution positioned at entry.
func NewExecutionState(id, workflowID, entryNode string) *ExecutionState {
	now := time.Now().UTC()

	return &ExecutionState{
		ID:          id,
		WorkflowID:  workflowID,
		CurrentNode: entryNode,
		Status:      ExecutionStatusPending,
		Context:     make(map[string]any),
		NodeStates:  make(map[string]NodeState),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// StatePatch is the partial state change produced by one node execution.
// The engine merges it into the execution state at the node boundary.
type StatePatch struct {
	Context           map[string]any     `json:"context,omitempty"`
	ConversationTurns []ConversationTurn `json:"conversation_turns,omitempty"`
	PendingQuestions  []PendingQuestion  `json:"pending_questions,omitempty"`
	NodeResult        map[string]any     `json:"node_result,omitempty"`

	// WaitingForInput suspends the execution after this node's boundary
	// is persisted. This is how Question nodes pause the engine.
	WaitingForInput bool `json:"waiting_for_input,omitempty"`
}

// Apply merges a patch into the execution state.
func (s *ExecutionState) Apply(patch *StatePatch) {
	if patch == nil {
		return
	}

	if s.Context == nil {
		s.Context = make(map[string]any)
	}

	for k, v := range patch.Context {
		s.Context[k] = v
	}

	s.ConversationHistory = append(s.ConversationHistory, patch.ConversationTurns...)

	if len(patch.PendingQuestions) > 0 {
		s.PendingQuestions = patch.PendingQuestions
	}

	if patch.WaitingForInput {
		s.Status = ExecutionStatusWaitingForInput
	}

	s.UpdatedAt = time.Now().UTC()
}
