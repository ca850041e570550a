package engine

import (
	"context"
	"fmt"

	"github.com/relayworks/relay/pkg/expression"
	"github.com/relayworks/relay/pkg/models"
)

// loopNode iterates a named context collection, executing its nested steps
// once per item. The whole loop is one node boundary: state is never
// persisted mid-iteration. Iteration stops at MaxIterations regardless of
// remaining items, and a nested code handler can set the break signal to
// end the loop early. A missing or empty collection yields zero
// iterations, not an error.
type loopNode struct {
	id   string
	next string
	step *models.LoopStep
	body []inlineStep
}

// inlineStep is one executable element of a loop body. Loop bodies run
// inline within the loop's Execute, so pausing step types are rejected at
// build time.
type inlineStep struct {
	node Node
	cond *inlineConditional
	loop *loopNode
}

type inlineConditional struct {
	expr     string
	thenBody []inlineStep
	elseBody []inlineStep
}

func newLoopNode(step *models.StepDefinition, next string, deps *dependencies) (*loopNode, error) {
	body, err := buildInline(step.ID, step.Loop.Steps, deps)
	if err != nil {
		return nil, err
	}

	return &loopNode{
		id:   step.ID,
		next: next,
		step: step.Loop,
		body: body,
	}, nil
}

func buildInline(loopID string, steps []*models.StepDefinition, deps *dependencies) ([]inlineStep, error) {
	body := make([]inlineStep, 0, len(steps))

	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return nil, err
		}

		switch step.Type {
		case models.StepTypeCode:
			node, err := newCodeNode(step, "", deps)
			if err != nil {
				return nil, err
			}

			body = append(body, inlineStep{node: node})
		case models.StepTypeLLM:
			node, err := newLLMNode(step, "", deps)
			if err != nil {
				return nil, err
			}

			body = append(body, inlineStep{node: node})
		case models.StepTypeConditional:
			thenBody, err := buildInline(loopID, step.Conditional.Then, deps)
			if err != nil {
				return nil, err
			}

			elseBody, err := buildInline(loopID, step.Conditional.Else, deps)
			if err != nil {
				return nil, err
			}

			body = append(body, inlineStep{cond: &inlineConditional{
				expr:     step.Conditional.Expression,
				thenBody: thenBody,
				elseBody: elseBody,
			}})
		case models.StepTypeLoop:
			nested, err := newLoopNode(step, "", deps)
			if err != nil {
				return nil, err
			}

			body = append(body, inlineStep{loop: nested})
		case models.StepTypeQuestion, models.StepTypeWorkflow:
			return nil, fmt.Errorf("loop %s: step type %q cannot run inside a loop body", loopID, step.Type)
		default:
			return nil, fmt.Errorf("loop %s: unknown step type %q", loopID, step.Type)
		}
	}

	return body, nil
}

func (n *loopNode) ID() string {
	return n.id
}

func (n *loopNode) Execute(ctx context.Context, state *models.ExecutionState) (*models.StatePatch, error) {
	items := collectionItems(state.Context[n.step.Collection])

	acc := &models.StatePatch{Context: make(map[string]any)}
	scratch := cloneForInline(state)

	iterations := 0

	for index, item := range items {
		if iterations >= n.step.MaxIterations {
			break
		}

		iterations++

		scratch.Context[n.step.ItemVariable] = item
		scratch.Context[n.step.ItemVariable+"_index"] = index

		stopped, err := runInline(ctx, n.body, scratch, acc)
		if err != nil {
			return nil, fmt.Errorf("loop %s, item %d: %w", n.id, index, err)
		}

		if stopped {
			break
		}
	}

	// The break signal is loop-scoped; never leak it to the outer context.
	delete(acc.Context, models.BreakContextKey)
	acc.NodeResult = map[string]any{"iterations": iterations}

	return acc, nil
}

func (n *loopNode) Next(state *models.ExecutionState) string {
	return n.next
}

// runInline executes body steps against the scratch state, accumulating
// their patches. It returns true once the break signal is observed.
func runInline(ctx context.Context, body []inlineStep, scratch *models.ExecutionState, acc *models.StatePatch) (bool, error) {
	for _, step := range body {
		switch {
		case step.node != nil:
			patch, err := step.node.Execute(ctx, scratch)
			if err != nil {
				return false, err
			}

			applyInline(patch, scratch, acc)
		case step.cond != nil:
			matched, _ := expression.Evaluate(step.cond.expr, "", scratch.Context)

			branch := step.cond.elseBody
			if matched {
				branch = step.cond.thenBody
			}

			stopped, err := runInline(ctx, branch, scratch, acc)
			if err != nil {
				return false, err
			}

			if stopped {
				return true, nil
			}
		case step.loop != nil:
			patch, err := step.loop.Execute(ctx, scratch)
			if err != nil {
				return false, err
			}

			applyInline(patch, scratch, acc)
		}

		if breakRequested(scratch.Context) {
			return true, nil
		}
	}

	return false, nil
}

func applyInline(patch *models.StatePatch, scratch *models.ExecutionState, acc *models.StatePatch) {
	if patch == nil {
		return
	}

	for k, v := range patch.Context {
		scratch.Context[k] = v
		acc.Context[k] = v
	}

	acc.ConversationTurns = append(acc.ConversationTurns, patch.ConversationTurns...)
}

func breakRequested(context map[string]any) bool {
	requested, _ := context[models.BreakContextKey].(bool)

	return requested
}

// cloneForInline makes a scratch copy whose context can be mutated freely
// while the body runs.
func cloneForInline(state *models.ExecutionState) *models.ExecutionState {
	scratch := *state
	scratch.Context = make(map[string]any, len(state.Context))

	for k, v := range state.Context {
		scratch.Context[k] = v
	}

	return &scratch
}

func collectionItems(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}

		return items
	case []map[string]any:
		items := make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}

		return items
	default:
		return nil
	}
}
