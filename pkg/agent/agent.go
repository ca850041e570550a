// Package agent defines the contract for the injected LLM agent and the
// decorators the engine wraps around it. The agent itself is an external
// collaborator and is not reimplemented here.
package agent

import (
	"context"
	"errors"
)

// ErrEmptyPrompt indicates a call was attempted without a user prompt.
var ErrEmptyPrompt = errors.New("agent: user prompt is empty")

// Request is one bounded model call. Every field that limits the call
// (MaxTokens, Temperature) travels with the request; the agent never
// loops internally.
type Request struct {
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	UserPrompt   string         `json:"user_prompt"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	MaxTokens    int            `json:"max_tokens"`
	Temperature  float64        `json:"temperature"`
}

// Response is the agent's reply. Structured is populated only when the
// request carried an output schema.
type Response struct {
	Content      string         `json:"content"`
	Structured   map[string]any `json:"structured,omitempty"`
	TokensUsed   int            `json:"tokens_used"`
	FinishReason string         `json:"finish_reason"`
}

// Agent is the injected LLM dependency.
type Agent interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, req Request) (*Response, error)

func (f Func) Call(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
