package engine

import (
	"context"
	"fmt"

	"github.com/relayworks/relay/pkg/agent"
	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/template"
)

// llmNode performs exactly one bounded model call and merges the result
// into the context. It never loops internally; retry policy, when wanted,
// wraps the agent before the failure can reach the engine loop.
type llmNode struct {
	id    string
	next  string
	step  *models.LLMStep
	agent agent.Agent
}

func newLLMNode(step *models.StepDefinition, next string, deps *dependencies) (*llmNode, error) {
	nodeAgent := deps.agent
	if step.LLM.MaxRetries > 0 {
		nodeAgent = agent.NewRetryingAgent(nodeAgent, step.LLM.MaxRetries, 0, deps.logger)
	}

	return &llmNode{
		id:    step.ID,
		next:  next,
		step:  step.LLM,
		agent: nodeAgent,
	}, nil
}

func (n *llmNode) ID() string {
	return n.id
}

func (n *llmNode) Execute(ctx context.Context, state *models.ExecutionState) (*models.StatePatch, error) {
	systemPrompt, err := template.RenderWithState(n.step.SystemPrompt, state)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.id, err)
	}

	userPrompt, err := template.RenderWithState(n.step.UserPrompt, state)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.id, err)
	}

	resp, err := n.agent.Call(ctx, agent.Request{
		Model:        n.step.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		OutputSchema: n.step.OutputSchema,
		MaxTokens:    n.step.MaxTokens,
		Temperature:  n.step.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("model call failed in node %s: %w", n.id, err)
	}

	if n.step.OutputSchema != nil {
		if err := agent.ValidateStructured(n.step.OutputSchema, resp.Structured); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.id, err)
		}
	}

	var output any = resp.Content
	if resp.Structured != nil {
		output = resp.Structured
	}

	return &models.StatePatch{
		Context: map[string]any{n.step.OutputKey: output},
		NodeResult: map[string]any{
			"tokens_used":   resp.TokensUsed,
			"finish_reason": resp.FinishReason,
		},
	}, nil
}

func (n *llmNode) Next(state *models.ExecutionState) string {
	return n.next
}
