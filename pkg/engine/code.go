package engine

import (
	"context"
	"fmt"

	"github.com/relayworks/relay/pkg/models"
)

// codeNode invokes a named handler from the read-only registry.
type codeNode struct {
	id      string
	next    string
	handler Handler
	input   map[string]any
}

func newCodeNode(step *models.StepDefinition, next string, deps *dependencies) (*codeNode, error) {
	handler, ok := deps.registry.Get(step.Code.Handler)
	if !ok {
		return nil, fmt.Errorf("step %s: handler %q not registered", step.ID, step.Code.Handler)
	}

	return &codeNode{
		id:      step.ID,
		next:    next,
		handler: handler,
		input:   step.Code.Input,
	}, nil
}

func (n *codeNode) ID() string {
	return n.id
}

func (n *codeNode) Execute(ctx context.Context, state *models.ExecutionState) (*models.StatePatch, error) {
	contextPatch, err := n.handler(ctx, state, n.input)
	if err != nil {
		return nil, fmt.Errorf("handler failed in node %s: %w", n.id, err)
	}

	return &models.StatePatch{Context: contextPatch}, nil
}

func (n *codeNode) Next(state *models.ExecutionState) string {
	return n.next
}
