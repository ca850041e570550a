package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayworks/relay/pkg/agent"
	"github.com/relayworks/relay/pkg/eventbus"
	"github.com/relayworks/relay/pkg/events"
	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/otelhelper"
	"github.com/relayworks/relay/pkg/persistence"
)

// Engine drives a single execution's node-by-node loop, persists state at
// every completed node boundary, detects the pause condition, and reports
// terminal outcomes. It holds no execution-scoped mutable state of its
// own, so it is safely reentrant across concurrent executions.
type Engine struct {
	persistence persistence.Persistence
	broadcaster eventbus.Broadcaster
	agent       agent.Agent
	registry    *Registry
	logger      *slog.Logger
	tracer      trace.Tracer
}

func New(
	store persistence.Persistence,
	broadcaster eventbus.Broadcaster,
	llmAgent agent.Agent,
	registry *Registry,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		persistence: store,
		broadcaster: broadcaster,
		agent:       llmAgent,
		registry:    registry,
		logger:      logger.With("module", "engine"),
	}
}

// WithTracer enables span emission around node execution.
func (e *Engine) WithTracer(tracer trace.Tracer) *Engine {
	e.tracer = tracer

	return e
}

// Start creates a fresh execution for the workflow and advances it until
// it completes, fails, or pauses waiting for input. The returned state is
// the last persisted snapshot; a Failed status is a result, not an error.
func (e *Engine) Start(ctx context.Context, workflowID string, input map[string]any) (*models.ExecutionState, error) {
	workflow, g, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	state := models.NewExecutionState(generateExecutionID(), workflowID, workflow.Entry())

	for k, v := range workflow.Variables {
		state.Context[k] = v
	}

	for k, v := range input {
		state.Context[k] = v
	}

	state.Status = models.ExecutionStatusRunning

	err = e.persistence.States().SaveState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to persist initial state for execution %s: %w", state.ID, err)
	}

	e.logger.InfoContext(ctx, "Starting execution",
		"execution_id", state.ID,
		"workflow_id", workflowID,
		"entry_node", state.CurrentNode,
	)

	return e.run(ctx, g, state)
}

// RunToCompletion starts a workflow and requires it to reach a terminal
// state; used by nested workflow nodes, which cannot absorb a pause.
func (e *Engine) RunToCompletion(ctx context.Context, workflowID string, input map[string]any) (*models.ExecutionState, error) {
	state, err := e.Start(ctx, workflowID, input)
	if err != nil {
		return nil, err
	}

	if !state.Status.Terminal() {
		return nil, fmt.Errorf("workflow %s paused in execution %s; nested runs must complete", workflowID, state.ID)
	}

	return state, nil
}

// Resume continues a paused execution: the pause signal is cleared, the
// supplied answers are merged into context and history, and the loop
// re-enters at the current phase's processing node, never at the node
// that paused.
func (e *Engine) Resume(ctx context.Context, executionID string, answers map[string]string, input map[string]any) (*models.ExecutionState, error) {
	state, err := e.persistence.States().GetState(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if state.Status != models.ExecutionStatusWaitingForInput {
		return nil, fmt.Errorf("execution %s is %s, only waiting_for_input executions can resume", executionID, state.Status)
	}

	workflow, g, err := e.load(ctx, state.WorkflowID)
	if err != nil {
		return nil, err
	}

	phase, _ := state.Context[models.PhaseContextKey].(string)

	resumeNode, ok := workflow.ResumeNodes[phase]
	if !ok {
		return nil, fmt.Errorf("workflow %s has no processing node for phase %q", workflow.ID, phase)
	}

	mergeAnswers(state, answers)

	for k, v := range input {
		state.Context[k] = v
	}

	state.PendingQuestions = nil
	state.Status = models.ExecutionStatusRunning
	state.CurrentNode = resumeNode
	state.UpdatedAt = time.Now().UTC()

	e.broadcast(ctx, state.ID, events.WorkflowResumed{
		BaseEvent:    e.baseEvent(events.WorkflowResumedEvent, state),
		ResumeNodeID: resumeNode,
	})

	e.logger.InfoContext(ctx, "Resuming execution",
		"execution_id", state.ID,
		"phase", phase,
		"resume_node", resumeNode,
	)

	return e.run(ctx, g, state)
}

// run is the execution loop. Each pass executes one node, merges its
// patch, advances, and persists. The persisted snapshot is always a
// completed-boundary snapshot.
func (e *Engine) run(ctx context.Context, g *graph, state *models.ExecutionState) (*models.ExecutionState, error) {
	for !models.IsTerminalNode(state.CurrentNode) {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, g, state, state.CurrentNode, fmt.Errorf("execution cancelled: %w", err))
		}

		nodeID := state.CurrentNode

		node, err := g.resolve(nodeID)
		if err != nil {
			// Unknown node id is a configuration error: fatal, surfaced
			// immediately in addition to failing the execution.
			_, failErr := e.fail(ctx, g, state, nodeID, err)
			if failErr != nil {
				return nil, failErr
			}

			return state, err
		}

		e.broadcast(ctx, state.ID, events.NodeStarted{
			BaseEvent: e.baseEvent(events.NodeStartedEvent, state),
			NodeID:    nodeID,
		})

		startedAt := time.Now().UTC()
		state.NodeStates[nodeID] = models.NodeState{
			Status:    models.NodeStateRunning,
			StartedAt: &startedAt,
		}

		patch, err := e.executeNode(ctx, node, state)
		if err != nil {
			return e.fail(ctx, g, state, nodeID, err)
		}

		state.Apply(patch)

		completedAt := time.Now().UTC()
		state.NodeStates[nodeID] = models.NodeState{
			Status:      models.NodeStateCompleted,
			StartedAt:   &startedAt,
			CompletedAt: &completedAt,
			Result:      patch.NodeResult,
		}

		next := node.Next(state)
		state.CurrentNode = next

		e.broadcast(ctx, state.ID, events.NodeCompleted{
			BaseEvent:  e.baseEvent(events.NodeCompletedEvent, state),
			NodeID:     nodeID,
			NextNodeID: next,
			Duration:   completedAt.Sub(startedAt),
		})

		if state.CurrentNode == models.NodeEnd && state.Status != models.ExecutionStatusWaitingForInput {
			state.Status = models.ExecutionStatusCompleted
		}

		err = e.persistence.States().SaveState(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("failed to persist execution %s at node %s: %w", state.ID, nodeID, err)
		}

		if state.Status == models.ExecutionStatusWaitingForInput {
			pending := make([]string, 0, len(state.PendingQuestions))
			for _, q := range state.PendingQuestions {
				pending = append(pending, q.Question)
			}

			e.broadcast(ctx, state.ID, events.WorkflowPaused{
				BaseEvent:        e.baseEvent(events.WorkflowPausedEvent, state),
				NodeID:           nodeID,
				PendingQuestions: pending,
			})

			e.logger.InfoContext(ctx, "Execution paused waiting for input",
				"execution_id", state.ID,
				"node_id", nodeID,
			)

			return state, nil
		}
	}

	if state.CurrentNode == models.NodeEnd {
		e.logger.InfoContext(ctx, "Execution completed", "execution_id", state.ID)

		if g.workflow.Kind == models.WorkflowKindPlanning {
			e.broadcast(ctx, state.ID, events.PlanningCompleted{
				BaseEvent: e.baseEvent(events.PlanningCompletedEvent, state),
				Result:    state.Context,
			})
		}
	}

	return state, nil
}

func (e *Engine) executeNode(ctx context.Context, node Node, state *models.ExecutionState) (*models.StatePatch, error) {
	if e.tracer == nil {
		return node.Execute(ctx, state)
	}

	spanCtx, span := otelhelper.StartSpan(ctx, e.tracer, "node.execute",
		attribute.String(otelhelper.ExecutionIDKey, state.ID),
		attribute.String(otelhelper.WorkflowIDKey, state.WorkflowID),
		attribute.String(otelhelper.NodeIDKey, node.ID()),
	)
	defer span.End()

	patch, err := node.Execute(spanCtx, state)
	if err != nil {
		otelhelper.RecordError(span, err)
	}

	return patch, err
}

// fail moves the execution into the Error sentinel with a recorded
// message. The failure stays local to this execution: callers receive it
// as a Failed state, not an error.
func (e *Engine) fail(ctx context.Context, g *graph, state *models.ExecutionState, nodeID string, cause error) (*models.ExecutionState, error) {
	e.logger.ErrorContext(ctx, "Node execution failed",
		"execution_id", state.ID,
		"node_id", nodeID,
		"error", cause,
	)

	now := time.Now().UTC()

	nodeState := state.NodeStates[nodeID]
	nodeState.Status = models.NodeStateFailed
	nodeState.CompletedAt = &now
	nodeState.Error = cause.Error()
	state.NodeStates[nodeID] = nodeState

	state.CurrentNode = models.NodeError
	state.Status = models.ExecutionStatusFailed
	state.LastError = cause.Error()
	state.UpdatedAt = now

	err := e.persistence.States().SaveState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to persist failed execution %s: %w", state.ID, err)
	}

	e.broadcast(ctx, state.ID, events.StepError{
		BaseEvent: e.baseEvent(events.StepErrorEvent, state),
		NodeID:    nodeID,
		Error:     cause.Error(),
	})

	if g.workflow.Kind == models.WorkflowKindPlanning {
		e.broadcast(ctx, state.ID, events.PlanningFailed{
			BaseEvent: e.baseEvent(events.PlanningFailedEvent, state),
			Error:     cause.Error(),
		})
	}

	return state, nil
}

func (e *Engine) load(ctx context.Context, workflowID string) (*models.Workflow, *graph, error) {
	workflow, err := e.persistence.Workflows().GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	deps := &dependencies{
		agent:    e.agent,
		registry: e.registry,
		runner:   e,
		logger:   e.logger,
	}

	g, err := buildGraph(workflow, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("workflow %s is not executable: %w", workflowID, err)
	}

	return workflow, g, nil
}

// broadcast delivers an event to the sink. Broadcast failures are logged,
// never allowed to affect the execution.
func (e *Engine) broadcast(ctx context.Context, executionID string, event eventbus.Event) {
	if e.broadcaster == nil {
		return
	}

	err := e.broadcaster.Broadcast(ctx, executionID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to broadcast event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}

// mergeAnswers records user answers both in the answers context map and
// in the conversation history.
func mergeAnswers(state *models.ExecutionState, answers map[string]string) {
	if len(answers) == 0 {
		return
	}

	recorded, _ := state.Context["answers"].(map[string]any)
	if recorded == nil {
		recorded = make(map[string]any)
	}

	now := time.Now().UTC()

	for _, pending := range state.PendingQuestions {
		answer, ok := answers[pending.ID]
		if !ok {
			continue
		}

		recorded[pending.ID] = map[string]any{
			"topic":    pending.Topic,
			"question": pending.Question,
			"answer":   answer,
		}

		state.ConversationHistory = append(state.ConversationHistory, models.ConversationTurn{
			Role:      "user",
			Content:   answer,
			Topic:     pending.Topic,
			Timestamp: now,
		})

		state.Context["last_answer"] = answer
	}

	state.Context["answers"] = recorded
}

func (e *Engine) baseEvent(eventType events.EventType, state *models.ExecutionState) events.BaseEvent {
	return events.BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: state.ID,
		WorkflowID:  state.WorkflowID,
	}
}

func generateExecutionID() string {
	return "exec-" + uuid.New().String()[:8]
}
