// Package events defines the fixed tagged event set emitted over the
// execution event stream.
package events

import "time"

type EventType string

// Topic carries all execution lifecycle events.
const Topic = "relay.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	NodeStartedEvent       EventType = "node_started"
	NodeCompletedEvent     EventType = "node_completed"
	WorkflowPausedEvent    EventType = "workflow_paused"
	WorkflowResumedEvent   EventType = "workflow_resumed"
	StepErrorEvent         EventType = "step_error"
	PlanningCompletedEvent EventType = "planning_completed"
	PlanningFailedEvent    EventType = "planning_failed"
)

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
}

type NodeStarted struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e NodeStarted) GetType() EventType {
	return NodeStartedEvent
}

// NodeCompleted reports a finished node along with the id the execution
// advanced to (a node id or a terminal sentinel).
type NodeCompleted struct {
	BaseEvent

	NodeID     string        `json:"node_id"`
	NextNodeID string        `json:"next_node_id"`
	Duration   time.Duration `json:"duration"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type WorkflowPaused struct {
	BaseEvent

	NodeID           string   `json:"node_id"`
	PendingQuestions []string `json:"pending_questions,omitempty"`
}

func (e WorkflowPaused) GetType() EventType {
	return WorkflowPausedEvent
}

type WorkflowResumed struct {
	BaseEvent

	ResumeNodeID string `json:"resume_node_id"`
}

func (e WorkflowResumed) GetType() EventType {
	return WorkflowResumedEvent
}

type StepError struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (e StepError) GetType() EventType {
	return StepErrorEvent
}

type PlanningCompleted struct {
	BaseEvent

	Result map[string]any `json:"result,omitempty"`
}

func (e PlanningCompleted) GetType() EventType {
	return PlanningCompletedEvent
}

type PlanningFailed struct {
	BaseEvent

	Error string `json:"error"`
}

func (e PlanningFailed) GetType() EventType {
	return PlanningFailedEvent
}
