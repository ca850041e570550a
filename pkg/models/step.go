package models

import "fmt"

// StepType discriminates the step definition tagged union.
type StepType string

const (
	StepTypeCode        StepType = "code"
	StepTypeLLM         StepType = "llm"
	StepTypeQuestion    StepType = "question"
	StepTypeConditional StepType = "conditional"
	StepTypeLoop        StepType = "loop"
	StepTypeWorkflow    StepType = "workflow"
)

// QuestionSource selects how a Question step obtains its question text.
type QuestionSource string

const (
	QuestionSourceStatic    QuestionSource = "static"
	QuestionSourceGenerated QuestionSource = "generated"
)

// CodeStep invokes a named handler from the read-only handler registry.
// Handlers are bound at startup; there is no string-to-code evaluation.
type CodeStep struct {
	Handler string         `json:"handler" validate:"required"`
	Input   map[string]any `json:"input,omitempty"`
}

// LLMStep performs exactly one bounded model call. The result is merged
// into the execution context under OutputKey; the step never loops.
type LLMStep struct {
	Model        string         `json:"model"         validate:"required"`
	SystemPrompt string         `json:"system_prompt"`
	UserPrompt   string         `json:"user_prompt"   validate:"required"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	OutputKey    string         `json:"output_key"    validate:"required"`
	MaxTokens    int            `json:"max_tokens"    validate:"required,min=1"`
	Temperature  float64        `json:"temperature"   validate:"min=0,max=2"`

	// MaxRetries wraps this step's call in bounded exponential backoff.
	// The engine itself never retries; zero means one attempt only.
	MaxRetries uint64 `json:"max_retries,omitempty"`
}

// QuestionStep presents a question to the user. A generated question is
// produced by one topic-scoped LLM call; Pause suspends the execution
// until an answer arrives.
type QuestionStep struct {
	Source   QuestionSource `json:"source"   validate:"required,oneof=static generated"`
	Prompt   string         `json:"prompt,omitempty"`
	Topic    string         `json:"topic,omitempty"`
	TopicKey string         `json:"topic_key,omitempty"` // context path overriding Topic
	Model    string         `json:"model,omitempty"`
	Pause    bool           `json:"pause"`
}

// ConditionalStep evaluates a restricted boolean expression against the
// accumulated context and routes to the first step of the matching branch.
type ConditionalStep struct {
	Expression string            `json:"expression" validate:"required"`
	Then       []*StepDefinition `json:"then,omitempty"`
	Else       []*StepDefinition `json:"else,omitempty"`
}

// LoopStep iterates a named context collection, executing the nested steps
// once per item. The iteration count is hard-capped by MaxIterations, and a
// nested code handler may set the break signal to end the loop early.
type LoopStep struct {
	Collection    string            `json:"collection"     validate:"required"`
	ItemVariable  string            `json:"item_variable"  validate:"required"`
	Steps         []*StepDefinition `json:"steps"          validate:"required,min=1"`
	MaxIterations int               `json:"max_iterations" validate:"required,min=1"`
}

// WorkflowStep invokes another workflow as a call with return.
type WorkflowStep struct {
	WorkflowID   string            `json:"workflow_id" validate:"required"`
	InputMapping map[string]string `json:"input_mapping,omitempty"` // target context key -> source context key
	OutputKey    string            `json:"output_key,omitempty"`
}

// StepDefinition is the tagged union of all step variants. Exactly one of
// the variant fields matching Type is populated.
type StepDefinition struct {
	ID   string   `json:"id"   validate:"required"`
	Name string   `json:"name"`
	Type StepType `json:"type" validate:"required,oneof=code llm question conditional loop workflow"`

	// Next is the id of the following node; empty means the workflow ends
	// (or, inside a conditional branch, rejoins after the conditional).
	Next string `json:"next,omitempty"`

	Code        *CodeStep        `json:"code,omitempty"`
	LLM         *LLMStep         `json:"llm,omitempty"`
	Question    *QuestionStep    `json:"question,omitempty"`
	Conditional *ConditionalStep `json:"conditional,omitempty"`
	Loop        *LoopStep        `json:"loop,omitempty"`
	Workflow    *WorkflowStep    `json:"workflow,omitempty"`
}

// Validate checks that the variant matching Type is present.
func (s *StepDefinition) Validate() error {
	var ok bool

	switch s.Type {
	case StepTypeCode:
		ok = s.Code != nil
	case StepTypeLLM:
		ok = s.LLM != nil
	case StepTypeQuestion:
		ok = s.Question != nil
	case StepTypeConditional:
		ok = s.Conditional != nil
	case StepTypeLoop:
		ok = s.Loop != nil
	case StepTypeWorkflow:
		ok = s.Workflow != nil
	default:
		return fmt.Errorf("step %s: unknown step type %q", s.ID, s.Type)
	}

	if !ok {
		return fmt.Errorf("step %s: missing %s definition", s.ID, s.Type)
	}

	return nil
}
