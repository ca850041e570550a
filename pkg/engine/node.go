// Package engine implements the node runtime and the graph execution loop:
// a resumable state machine that survives process restarts, pauses awaiting
// human input, and reports terminal outcomes.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relayworks/relay/pkg/agent"
	"github.com/relayworks/relay/pkg/models"
)

// Node wraps one step definition into an executable unit. Execute produces
// a partial state patch; Next resolves the id the execution advances to (a
// node id or a terminal sentinel).
type Node interface {
	ID() string
	Execute(ctx context.Context, state *models.ExecutionState) (*models.StatePatch, error)
	Next(state *models.ExecutionState) string
}

// subRunner drives a nested workflow to a terminal state. The engine
// itself implements it.
type subRunner interface {
	RunToCompletion(ctx context.Context, workflowID string, input map[string]any) (*models.ExecutionState, error)
}

// dependencies are the collaborators node constructors bind at build time.
type dependencies struct {
	agent    agent.Agent
	registry *Registry
	runner   subRunner
	logger   *slog.Logger
}

// graph is the compiled, executable form of a workflow definition.
type graph struct {
	workflow *models.Workflow
	nodes    map[string]Node
}

// buildGraph compiles every step (including conditional branch steps) into
// a node. Malformed steps and unknown handlers are configuration errors
// surfaced immediately, before anything executes.
func buildGraph(workflow *models.Workflow, deps *dependencies) (*graph, error) {
	g := &graph{
		workflow: workflow,
		nodes:    make(map[string]Node),
	}

	err := g.indexSteps(workflow.Steps, models.NodeEnd, deps)
	if err != nil {
		return nil, err
	}

	return g, nil
}

// indexSteps compiles a step chain. Steps without an explicit Next link to
// the following step in the list; the last one links to fallthrough (End
// at the top level, the conditional's continuation inside a branch).
func (g *graph) indexSteps(steps []*models.StepDefinition, fallthroughID string, deps *dependencies) error {
	for i, step := range steps {
		if err := step.Validate(); err != nil {
			return err
		}

		if _, exists := g.nodes[step.ID]; exists {
			return fmt.Errorf("duplicate node id %q", step.ID)
		}

		next := step.Next
		if next == "" {
			if i+1 < len(steps) {
				next = steps[i+1].ID
			} else {
				next = fallthroughID
			}
		}

		node, err := g.buildNode(step, next, deps)
		if err != nil {
			return err
		}

		g.nodes[step.ID] = node
	}

	return nil
}

func (g *graph) buildNode(step *models.StepDefinition, next string, deps *dependencies) (Node, error) {
	switch step.Type {
	case models.StepTypeCode:
		return newCodeNode(step, next, deps)
	case models.StepTypeLLM:
		return newLLMNode(step, next, deps)
	case models.StepTypeQuestion:
		return newQuestionNode(step, next, deps)
	case models.StepTypeConditional:
		return g.newConditionalNode(step, next, deps)
	case models.StepTypeLoop:
		return newLoopNode(step, next, deps)
	case models.StepTypeWorkflow:
		return newWorkflowNode(step, next, deps)
	default:
		return nil, fmt.Errorf("step %s: unknown step type %q", step.ID, step.Type)
	}
}

// resolve returns the node for id. A miss is a configuration error; the
// invariant is that CurrentNode is always a valid node id or a terminal
// sentinel.
func (g *graph) resolve(id string) (Node, error) {
	node, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q not found in workflow %s", id, g.workflow.ID)
	}

	return node, nil
}
