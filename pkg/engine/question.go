package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relayworks/relay/pkg/agent"
	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/template"
)

const (
	questionMaxTokens   = 1024
	questionTemperature = 0.7
)

// questionNode presents a question to the user. A generated question comes
// from one LLM call scoped to the step's topic; setting WaitingForInput in
// the patch is how a question suspends the engine.
type questionNode struct {
	id    string
	next  string
	step  *models.QuestionStep
	agent agent.Agent
}

func newQuestionNode(step *models.StepDefinition, next string, deps *dependencies) (*questionNode, error) {
	if step.Question.Source == models.QuestionSourceStatic && step.Question.Prompt == "" {
		return nil, fmt.Errorf("step %s: static question requires a prompt", step.ID)
	}

	return &questionNode{
		id:    step.ID,
		next:  next,
		step:  step.Question,
		agent: deps.agent,
	}, nil
}

func (n *questionNode) ID() string {
	return n.id
}

func (n *questionNode) Execute(ctx context.Context, state *models.ExecutionState) (*models.StatePatch, error) {
	topic := n.step.Topic
	if n.step.TopicKey != "" {
		if value, ok := state.Context[n.step.TopicKey].(string); ok {
			topic = value
		}
	}

	var question string

	switch n.step.Source {
	case models.QuestionSourceStatic:
		rendered, err := template.RenderWithState(n.step.Prompt, state)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.id, err)
		}

		question = rendered
	case models.QuestionSourceGenerated:
		generated, err := n.generate(ctx, state, topic)
		if err != nil {
			return nil, err
		}

		question = generated
	default:
		return nil, fmt.Errorf("node %s: unknown question source %q", n.id, n.step.Source)
	}

	return &models.StatePatch{
		Context: map[string]any{"last_question": question},
		PendingQuestions: []models.PendingQuestion{
			{ID: uuid.New().String(), Topic: topic, Question: question},
		},
		ConversationTurns: []models.ConversationTurn{
			{Role: "assistant", Content: question, Topic: topic, Timestamp: time.Now().UTC()},
		},
		WaitingForInput: n.step.Pause,
	}, nil
}

// generate issues one bounded LLM call constrained to the topic.
func (n *questionNode) generate(ctx context.Context, state *models.ExecutionState, topic string) (string, error) {
	userPrompt, err := template.RenderWithState(n.step.Prompt, state)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", n.id, err)
	}

	if userPrompt == "" {
		userPrompt = "Ask the single most valuable next question for this topic."
	}

	resp, err := n.agent.Call(ctx, agent.Request{
		Model:        n.step.Model,
		SystemPrompt: "You are gathering requirements. Ask exactly one concise question about the topic: " + topic + ". Respond with the question text only.",
		UserPrompt:   userPrompt,
		MaxTokens:    questionMaxTokens,
		Temperature:  questionTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("question generation failed in node %s: %w", n.id, err)
	}

	return resp.Content, nil
}

func (n *questionNode) Next(state *models.ExecutionState) string {
	return n.next
}
