package qa

import (
	"time"

	"github.com/relayworks/relay/pkg/models"
)

// Execution phases. The engine resumes a paused run at the processing
// node registered for the current phase.
const (
	PhaseGathering  = "gathering"
	PhaseClarifying = "clarifying"
	PhaseComplete   = "complete"
)

const (
	reviewMaxTokens  = 2048
	summaryMaxTokens = 4096
)

// Config parameterizes the planning workflow.
type Config struct {
	ProjectID string
	Model     string
}

// PlanningWorkflow builds the requirement-gathering workflow. The topic
// loop and the gap loop are graph cycles of conditionals and code steps
// rather than loop steps, because question nodes pause and loop bodies
// run to completion inside one node boundary.
func PlanningWorkflow(cfg Config) *models.Workflow {
	now := time.Now().UTC()

	return &models.Workflow{
		ID:          "planning-" + cfg.ProjectID,
		ProjectID:   cfg.ProjectID,
		Name:        "Requirement gathering",
		Description: "Interviews the user topic by topic, reviews coverage, clarifies gaps, and produces a planning summary.",
		Kind:        models.WorkflowKindPlanning,
		EntryNode:   "init",
		ResumeNodes: map[string]string{
			PhaseGathering:  "process_answer",
			PhaseClarifying: "process_clarification",
		},
		Steps: []*models.StepDefinition{
			{
				ID:   "init",
				Name: "Initialize topic loop",
				Type: models.StepTypeCode,
				Next: "route_topic",
				Code: &models.CodeStep{Handler: "qa.init"},
			},
			{
				ID:   "route_topic",
				Name: "More topics?",
				Type: models.StepTypeConditional,
				Next: "build_transcript",
				Conditional: &models.ConditionalStep{
					Expression: `context.topics_remaining === "true"`,
					Then: []*models.StepDefinition{
						{
							ID:   "prepare_question",
							Name: "Prepare next question",
							Type: models.StepTypeCode,
							Next: "ask_question",
							Code: &models.CodeStep{Handler: "qa.prepare_question"},
						},
						{
							ID:   "ask_question",
							Name: "Ask topic question",
							Type: models.StepTypeQuestion,
							Question: &models.QuestionStep{
								Source:   models.QuestionSourceGenerated,
								TopicKey: "current_topic",
								Model:    cfg.Model,
								Pause:    true,
							},
						},
					},
				},
			},
			{
				ID:   "process_answer",
				Name: "Record answer",
				Type: models.StepTypeCode,
				Next: "answer_route",
				Code: &models.CodeStep{Handler: "qa.record_answer"},
			},
			{
				ID:   "answer_route",
				Name: "Topic exhausted?",
				Type: models.StepTypeConditional,
				Next: "advance_topic",
				Conditional: &models.ConditionalStep{
					Expression: `context.topic_exhausted === "true"`,
					Else: []*models.StepDefinition{
						{
							ID:   "followup_llm",
							Name: "Decide follow-up",
							Type: models.StepTypeLLM,
							LLM: &models.LLMStep{
								Model:        cfg.Model,
								SystemPrompt: "You decide whether one more question on the current topic would add material information.",
								UserPrompt: "Topic: {{ .context.current_topic }}\n" +
									"Last question: {{ .context.last_question }}\n" +
									"Last answer: {{ .context.last_answer }}\n" +
									"Should a follow-up question be asked?",
								OutputSchema: map[string]any{
									"type": "object",
									"properties": map[string]any{
										"ask_followup": map[string]any{"type": "boolean"},
										"reason":       map[string]any{"type": "string"},
									},
									"required": []any{"ask_followup"},
								},
								OutputKey:   "followup",
								MaxTokens:   reviewMaxTokens,
								Temperature: 0.2,
							},
						},
						{
							ID:   "route_followup",
							Name: "Flatten follow-up decision",
							Type: models.StepTypeCode,
							Code: &models.CodeStep{Handler: "qa.route_followup"},
						},
						{
							ID:   "followup_route",
							Name: "Follow-up wanted?",
							Type: models.StepTypeConditional,
							Conditional: &models.ConditionalStep{
								Expression: `context.followup_needed === "true"`,
								Then: []*models.StepDefinition{
									{
										ID:   "continue_topic",
										Name: "Prepare follow-up question",
										Type: models.StepTypeCode,
										Next: "ask_question",
										Code: &models.CodeStep{Handler: "qa.prepare_question"},
									},
								},
							},
						},
					},
				},
			},
			{
				ID:   "advance_topic",
				Name: "Advance to next topic",
				Type: models.StepTypeCode,
				Next: "route_topic",
				Code: &models.CodeStep{Handler: "qa.advance_topic"},
			},
			{
				ID:   "build_transcript",
				Name: "Build transcript",
				Type: models.StepTypeCode,
				Next: "review_gaps",
				Code: &models.CodeStep{Handler: "qa.build_transcript"},
			},
			{
				ID:   "review_gaps",
				Name: "Review coverage",
				Type: models.StepTypeLLM,
				Next: "process_gaps",
				LLM: &models.LLMStep{
					Model:        cfg.Model,
					SystemPrompt: "You review a requirements interview for completeness. List concrete gaps worth one clarifying question each.",
					UserPrompt:   "Interview transcript:\n\n{{ .context.transcript }}",
					OutputSchema: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"complete": map[string]any{"type": "boolean"},
							"gaps": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "string"},
							},
						},
						"required": []any{"complete", "gaps"},
					},
					OutputKey:   "gap_review",
					MaxTokens:   reviewMaxTokens,
					Temperature: 0.2,
					MaxRetries:  2,
				},
			},
			{
				ID:   "process_gaps",
				Name: "Queue clarifications",
				Type: models.StepTypeCode,
				Next: "route_gap",
				Code: &models.CodeStep{Handler: "qa.process_gaps"},
			},
			{
				ID:   "route_gap",
				Name: "More gaps?",
				Type: models.StepTypeConditional,
				Next: "finalize",
				Conditional: &models.ConditionalStep{
					Expression: `context.gaps_remaining === "true"`,
					Then: []*models.StepDefinition{
						{
							ID:   "ask_clarification",
							Name: "Ask clarifying question",
							Type: models.StepTypeQuestion,
							Question: &models.QuestionStep{
								Source:   models.QuestionSourceGenerated,
								TopicKey: "current_gap",
								Model:    cfg.Model,
								Pause:    true,
							},
						},
					},
				},
			},
			{
				ID:   "process_clarification",
				Name: "Record clarification",
				Type: models.StepTypeCode,
				Next: "route_gap",
				Code: &models.CodeStep{Handler: "qa.record_clarification"},
			},
			{
				ID:   "finalize",
				Name: "Finalize transcript",
				Type: models.StepTypeCode,
				Next: "summary",
				Code: &models.CodeStep{Handler: "qa.finalize"},
			},
			{
				ID:   "summary",
				Name: "Write planning summary",
				Type: models.StepTypeLLM,
				LLM: &models.LLMStep{
					Model:        cfg.Model,
					SystemPrompt: "You condense a requirements interview into a structured planning summary with goals, constraints, and open risks.",
					UserPrompt:   "Interview transcript:\n\n{{ .context.transcript }}",
					OutputKey:    "summary",
					MaxTokens:    summaryMaxTokens,
					Temperature:  0.3,
					MaxRetries:   2,
				},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
