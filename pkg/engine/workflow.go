package engine

import (
	"context"
	"fmt"

	"github.com/relayworks/relay/pkg/models"
)

// workflowNode invokes another workflow by id: a call with return, not an
// inlined expansion. The nested execution is driven to a terminal state
// before this node's boundary completes.
type workflowNode struct {
	id     string
	next   string
	step   *models.WorkflowStep
	runner subRunner
}

func newWorkflowNode(step *models.StepDefinition, next string, deps *dependencies) (*workflowNode, error) {
	if deps.runner == nil {
		return nil, fmt.Errorf("step %s: nested workflow runner not available", step.ID)
	}

	return &workflowNode{
		id:     step.ID,
		next:   next,
		step:   step.Workflow,
		runner: deps.runner,
	}, nil
}

func (n *workflowNode) ID() string {
	return n.id
}

func (n *workflowNode) Execute(ctx context.Context, state *models.ExecutionState) (*models.StatePatch, error) {
	input := make(map[string]any, len(n.step.InputMapping))
	for target, source := range n.step.InputMapping {
		input[target] = state.Context[source]
	}

	sub, err := n.runner.RunToCompletion(ctx, n.step.WorkflowID, input)
	if err != nil {
		return nil, fmt.Errorf("nested workflow %s failed in node %s: %w", n.step.WorkflowID, n.id, err)
	}

	if sub.Status != models.ExecutionStatusCompleted {
		return nil, fmt.Errorf("nested workflow %s in node %s ended %s: %s",
			n.step.WorkflowID, n.id, sub.Status, sub.LastError)
	}

	outputKey := n.step.OutputKey
	if outputKey == "" {
		outputKey = "workflow_" + n.step.WorkflowID
	}

	return &models.StatePatch{
		Context: map[string]any{outputKey: sub.Context},
		NodeResult: map[string]any{
			"execution_id": sub.ID,
			"status":       string(sub.Status),
		},
	}, nil
}

func (n *workflowNode) Next(state *models.ExecutionState) string {
	return n.next
}
