package engine

import (
	"context"
	"log/slog"

	"github.com/relayworks/relay/pkg/expression"
	"github.com/relayworks/relay/pkg/models"
)

// conditionalNode evaluates a restricted boolean expression against the
// accumulated context. Next selects the first id of the matching branch,
// never both, and falls through to the node after the conditional when
// the matching branch is empty.
type conditionalNode struct {
	id     string
	next   string
	expr   string
	thenID string
	elseID string
	logger *slog.Logger
}

func (g *graph) newConditionalNode(step *models.StepDefinition, next string, deps *dependencies) (*conditionalNode, error) {
	cond := step.Conditional

	node := &conditionalNode{
		id:     step.ID,
		next:   next,
		expr:   cond.Expression,
		logger: deps.logger,
	}

	// Branch steps are graph nodes of their own; each branch chain rejoins
	// at this conditional's continuation.
	if len(cond.Then) > 0 {
		node.thenID = cond.Then[0].ID

		if err := g.indexSteps(cond.Then, next, deps); err != nil {
			return nil, err
		}
	}

	if len(cond.Else) > 0 {
		node.elseID = cond.Else[0].ID

		if err := g.indexSteps(cond.Else, next, deps); err != nil {
			return nil, err
		}
	}

	return node, nil
}

func (n *conditionalNode) ID() string {
	return n.id
}

func (n *conditionalNode) Execute(ctx context.Context, state *models.ExecutionState) (*models.StatePatch, error) {
	matched, wellFormed := expression.Evaluate(n.expr, "", state.Context)
	if !wellFormed {
		n.logger.WarnContext(ctx, "Conditional expression is malformed, treating as non-matching",
			"node_id", n.id,
			"expression", n.expr,
		)
	}

	return &models.StatePatch{
		NodeResult: map[string]any{"matched": matched},
	}, nil
}

func (n *conditionalNode) Next(state *models.ExecutionState) string {
	matched := false
	if nodeState, ok := state.NodeStates[n.id]; ok && nodeState.Result != nil {
		matched, _ = nodeState.Result["matched"].(bool)
	}

	if matched {
		if n.thenID != "" {
			return n.thenID
		}

		return n.next
	}

	if n.elseID != "" {
		return n.elseID
	}

	return n.next
}
