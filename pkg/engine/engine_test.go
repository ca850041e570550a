package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayworks/relay/pkg/agent"
	"github.com/relayworks/relay/pkg/engine"
	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/persistence"
	"github.com/relayworks/relay/pkg/persistence/file"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *engine.Registry {
	t.Helper()

	registry := engine.NewRegistry()

	handlers := map[string]engine.Handler{
		"test.set": func(_ context.Context, _ *models.ExecutionState, input map[string]any) (map[string]any, error) {
			patch := make(map[string]any, len(input))
			for k, v := range input {
				patch[k] = v
			}

			return patch, nil
		},
		"test.fail": func(_ context.Context, _ *models.ExecutionState, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		},
		"test.collect": func(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
			seen, _ := state.Context["seen"].([]any)
			out := append(append([]any{}, seen...), state.Context["item"])

			return map[string]any{"seen": out}, nil
		},
		"test.break": func(_ context.Context, _ *models.ExecutionState, _ map[string]any) (map[string]any, error) {
			return map[string]any{models.BreakContextKey: true}, nil
		},
		"test.process": func(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
			return map[string]any{"processed_answer": state.Context["last_answer"]}, nil
		},
	}

	for name, handler := range handlers {
		require.NoError(t, registry.Register(name, handler))
	}

	registry.Freeze()

	return registry
}

func newTestEngine(t *testing.T, agentFn agent.Func) (*engine.Engine, persistence.Persistence) {
	t.Helper()

	if agentFn == nil {
		agentFn = func(_ context.Context, _ agent.Request) (*agent.Response, error) {
			return nil, errors.New("no agent configured")
		}
	}

	store := file.NewFilePersistence(t.TempDir())
	eng := engine.New(store, nil, agentFn, testRegistry(t), testLogger())

	return eng, store
}

func saveWorkflow(t *testing.T, store persistence.Persistence, workflow *models.Workflow) {
	t.Helper()
	require.NoError(t, store.Workflows().SaveWorkflow(context.Background(), workflow))
}

func codeStep(id, handler, next string, input map[string]any) *models.StepDefinition {
	return &models.StepDefinition{
		ID:   id,
		Type: models.StepTypeCode,
		Next: next,
		Code: &models.CodeStep{Handler: handler, Input: input},
	}
}

func TestStartCompletesLinearWorkflow(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-linear",
		Name: "linear",
		Steps: []*models.StepDefinition{
			codeStep("first", "test.set", "", map[string]any{"a": "1"}),
			codeStep("second", "test.set", "", map[string]any{"b": "2"}),
		},
	})

	state, err := eng.Start(context.Background(), "wf-linear", map[string]any{"seed": "s"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, models.NodeEnd, state.CurrentNode)
	assert.Equal(t, "1", state.Context["a"])
	assert.Equal(t, "2", state.Context["b"])
	assert.Equal(t, "s", state.Context["seed"])
	assert.Equal(t, models.NodeStateCompleted, state.NodeStates["first"].Status)
	assert.Equal(t, models.NodeStateCompleted, state.NodeStates["second"].Status)

	persisted, err := store.States().GetState(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, persisted.Status)
	assert.Equal(t, state.Context["b"], persisted.Context["b"])
}

func TestStartFailureIsAResultNotAnError(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-fail",
		Name: "failing",
		Steps: []*models.StepDefinition{
			codeStep("explode", "test.fail", "", nil),
		},
	})

	state, err := eng.Start(context.Background(), "wf-fail", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, state.Status)
	assert.Equal(t, models.NodeError, state.CurrentNode)
	assert.Contains(t, state.LastError, "boom")
	assert.Equal(t, models.NodeStateFailed, state.NodeStates["explode"].Status)
}

func TestStartUnknownHandlerIsConfigurationError(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-bad-handler",
		Name: "bad handler",
		Steps: []*models.StepDefinition{
			codeStep("oops", "test.nonexistent", "", nil),
		},
	})

	_, err := eng.Start(context.Background(), "wf-bad-handler", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestStartUnknownNextNodeFailsExecution(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-dangling",
		Name: "dangling next",
		Steps: []*models.StepDefinition{
			codeStep("only", "test.set", "nowhere", nil),
		},
	})

	state, err := eng.Start(context.Background(), "wf-dangling", nil)
	require.Error(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, state.Status)
}

func TestConditionalRouting(t *testing.T) {
	workflow := func() *models.Workflow {
		return &models.Workflow{
			ID:   "wf-cond",
			Name: "conditional",
			Steps: []*models.StepDefinition{
				{
					ID:   "route",
					Type: models.StepTypeConditional,
					Conditional: &models.ConditionalStep{
						Expression: `context.flag === "yes"`,
						Then: []*models.StepDefinition{
							codeStep("then-step", "test.set", "", map[string]any{"branch": "then"}),
						},
						Else: []*models.StepDefinition{
							codeStep("else-step", "test.set", "", map[string]any{"branch": "else"}),
						},
					},
				},
			},
		}
	}

	tests := []struct {
		name string
		flag string
		want string
	}{
		{name: "matched takes then branch", flag: "yes", want: "then"},
		{name: "unmatched takes else branch", flag: "no", want: "else"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, store := newTestEngine(t, nil)
			saveWorkflow(t, store, workflow())

			state, err := eng.Start(context.Background(), "wf-cond", map[string]any{"flag": tt.flag})
			require.NoError(t, err)

			assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
			assert.Equal(t, tt.want, state.Context["branch"])
		})
	}
}

func TestMalformedConditionalTakesElseBranch(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-malformed",
		Name: "malformed conditional",
		Steps: []*models.StepDefinition{
			{
				ID:   "route",
				Type: models.StepTypeConditional,
				Conditional: &models.ConditionalStep{
					Expression: `context.flag == "yes" && true`,
					Then: []*models.StepDefinition{
						codeStep("then-step", "test.set", "", map[string]any{"branch": "then"}),
					},
					Else: []*models.StepDefinition{
						codeStep("else-step", "test.set", "", map[string]any{"branch": "else"}),
					},
				},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-malformed", map[string]any{"flag": "yes"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, "else", state.Context["branch"])
}

func TestLoopIteratesCollection(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-loop",
		Name: "loop",
		Steps: []*models.StepDefinition{
			{
				ID:   "each",
				Type: models.StepTypeLoop,
				Loop: &models.LoopStep{
					Collection:    "items",
					ItemVariable:  "item",
					MaxIterations: 10,
					Steps: []*models.StepDefinition{
						codeStep("collect", "test.collect", "", nil),
					},
				},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-loop", map[string]any{
		"items": []any{"a", "b", "c"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, []any{"a", "b", "c"}, state.Context["seen"])
	assert.Equal(t, 3, state.NodeStates["each"].Result["iterations"])
}

func TestLoopHonorsMaxIterations(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-loop-cap",
		Name: "loop cap",
		Steps: []*models.StepDefinition{
			{
				ID:   "each",
				Type: models.StepTypeLoop,
				Loop: &models.LoopStep{
					Collection:    "items",
					ItemVariable:  "item",
					MaxIterations: 2,
					Steps: []*models.StepDefinition{
						codeStep("collect", "test.collect", "", nil),
					},
				},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-loop-cap", map[string]any{
		"items": []any{"a", "b", "c", "d"},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b"}, state.Context["seen"])
	assert.Equal(t, 2, state.NodeStates["each"].Result["iterations"])
}

func TestLoopMissingCollectionYieldsZeroIterations(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-loop-empty",
		Name: "loop empty",
		Steps: []*models.StepDefinition{
			{
				ID:   "each",
				Type: models.StepTypeLoop,
				Loop: &models.LoopStep{
					Collection:    "missing",
					ItemVariable:  "item",
					MaxIterations: 10,
					Steps: []*models.StepDefinition{
						codeStep("collect", "test.collect", "", nil),
					},
				},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-loop-empty", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, 0, state.NodeStates["each"].Result["iterations"])
	assert.NotContains(t, state.Context, "seen")
}

func TestLoopBreakSignalStopsIterationAndDoesNotLeak(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-loop-break",
		Name: "loop break",
		Steps: []*models.StepDefinition{
			{
				ID:   "each",
				Type: models.StepTypeLoop,
				Loop: &models.LoopStep{
					Collection:    "items",
					ItemVariable:  "item",
					MaxIterations: 10,
					Steps: []*models.StepDefinition{
						codeStep("collect", "test.collect", "", nil),
						{
							ID:   "maybe-stop",
							Type: models.StepTypeConditional,
							Conditional: &models.ConditionalStep{
								Expression: `context.item === "b"`,
								Then: []*models.StepDefinition{
									codeStep("stop", "test.break", "", nil),
								},
							},
						},
					},
				},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-loop-break", map[string]any{
		"items": []any{"a", "b", "c"},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b"}, state.Context["seen"])
	assert.Equal(t, 2, state.NodeStates["each"].Result["iterations"])
	assert.NotContains(t, state.Context, models.BreakContextKey)
}

func TestQuestionInsideLoopIsRejected(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-loop-question",
		Name: "loop question",
		Steps: []*models.StepDefinition{
			{
				ID:   "each",
				Type: models.StepTypeLoop,
				Loop: &models.LoopStep{
					Collection:    "items",
					ItemVariable:  "item",
					MaxIterations: 10,
					Steps: []*models.StepDefinition{
						{
							ID:   "ask",
							Type: models.StepTypeQuestion,
							Question: &models.QuestionStep{
								Source: models.QuestionSourceStatic,
								Prompt: "Really?",
								Pause:  true,
							},
						},
					},
				},
			},
		},
	})

	_, err := eng.Start(context.Background(), "wf-loop-question", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot run inside a loop body")
}

func pausingWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          "wf-pause",
		Name:        "pausing",
		ResumeNodes: map[string]string{"gathering": "process"},
		Steps: []*models.StepDefinition{
			codeStep("setup", "test.set", "", map[string]any{models.PhaseContextKey: "gathering"}),
			{
				ID:   "ask",
				Type: models.StepTypeQuestion,
				Next: models.NodeEnd,
				Question: &models.QuestionStep{
					Source: models.QuestionSourceStatic,
					Prompt: "What color should it be?",
					Pause:  true,
				},
			},
			codeStep("process", "test.process", "", nil),
		},
	}
}

func TestQuestionPausesExecution(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	saveWorkflow(t, store, pausingWorkflow())

	state, err := eng.Start(context.Background(), "wf-pause", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusWaitingForInput, state.Status)
	require.Len(t, state.PendingQuestions, 1)
	assert.Equal(t, "What color should it be?", state.PendingQuestions[0].Question)
	assert.Equal(t, "What color should it be?", state.Context["last_question"])

	// The paused snapshot is a completed node boundary, restorable after a
	// process restart.
	persisted, err := store.States().GetState(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaitingForInput, persisted.Status)
	assert.Len(t, persisted.PendingQuestions, 1)
}

func TestResumeEntersProcessingNodeNotQuestionNode(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	saveWorkflow(t, store, pausingWorkflow())

	paused, err := eng.Start(context.Background(), "wf-pause", nil)
	require.NoError(t, err)
	require.Len(t, paused.PendingQuestions, 1)

	answers := map[string]string{paused.PendingQuestions[0].ID: "blue"}

	resumed, err := eng.Resume(context.Background(), paused.ID, answers, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, "blue", resumed.Context["processed_answer"])
	assert.Empty(t, resumed.PendingQuestions)

	// One assistant turn from the question, one user turn from the answer.
	require.Len(t, resumed.ConversationHistory, 2)
	assert.Equal(t, "assistant", resumed.ConversationHistory[0].Role)
	assert.Equal(t, "user", resumed.ConversationHistory[1].Role)
	assert.Equal(t, "blue", resumed.ConversationHistory[1].Content)
}

func TestResumeRequiresWaitingForInput(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-done",
		Name: "already done",
		Steps: []*models.StepDefinition{
			codeStep("only", "test.set", "", nil),
		},
	})

	state, err := eng.Start(context.Background(), "wf-done", nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, state.Status)

	_, err = eng.Resume(context.Background(), state.ID, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only waiting_for_input")
}

func TestLLMStepMergesStructuredOutput(t *testing.T) {
	agentFn := agent.Func(func(_ context.Context, req agent.Request) (*agent.Response, error) {
		return &agent.Response{
			Content:      `{"severity":"high"}`,
			Structured:   map[string]any{"severity": "high"},
			TokensUsed:   42,
			FinishReason: "stop",
		}, nil
	})

	eng, store := newTestEngine(t, agentFn)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-llm",
		Name: "llm",
		Steps: []*models.StepDefinition{
			{
				ID:   "classify",
				Type: models.StepTypeLLM,
				LLM: &models.LLMStep{
					Model:      "test-model",
					UserPrompt: "Classify {{ .context.subject }}",
					OutputSchema: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"severity": map[string]any{"type": "string"},
						},
						"required": []any{"severity"},
					},
					OutputKey: "classification",
					MaxTokens: 256,
				},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-llm", map[string]any{"subject": "an outage"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)

	classification, ok := state.Context["classification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "high", classification["severity"])
	assert.Equal(t, 42, state.NodeStates["classify"].Result["tokens_used"])
}

func TestLLMStepSchemaViolationFailsExecution(t *testing.T) {
	agentFn := agent.Func(func(_ context.Context, _ agent.Request) (*agent.Response, error) {
		return &agent.Response{
			Content:    "not what was asked",
			Structured: map[string]any{"unrelated": true},
		}, nil
	})

	eng, store := newTestEngine(t, agentFn)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-llm-schema",
		Name: "llm schema",
		Steps: []*models.StepDefinition{
			{
				ID:   "classify",
				Type: models.StepTypeLLM,
				LLM: &models.LLMStep{
					Model:      "test-model",
					UserPrompt: "Classify it",
					OutputSchema: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"severity": map[string]any{"type": "string"},
						},
						"required": []any{"severity"},
					},
					OutputKey: "classification",
					MaxTokens: 256,
				},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-llm-schema", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, state.Status)
	assert.NotEmpty(t, state.LastError)
}

func TestNestedWorkflowCallWithReturn(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-child",
		Name: "child",
		Steps: []*models.StepDefinition{
			codeStep("greet", "test.set", "", map[string]any{"greeting": "hello"}),
		},
	})

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-parent",
		Name: "parent",
		Steps: []*models.StepDefinition{
			{
				ID:   "call-child",
				Type: models.StepTypeWorkflow,
				Workflow: &models.WorkflowStep{
					WorkflowID:   "wf-child",
					InputMapping: map[string]string{"who": "user_name"},
					OutputKey:    "child_out",
				},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-parent", map[string]any{"user_name": "sam"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)

	childContext, ok := state.Context["child_out"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", childContext["greeting"])
	assert.Equal(t, "sam", childContext["who"])
}

func TestNestedWorkflowFailurePropagatesAsNodeFailure(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-child-fail",
		Name: "failing child",
		Steps: []*models.StepDefinition{
			codeStep("explode", "test.fail", "", nil),
		},
	})

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-parent-fail",
		Name: "parent of failing child",
		Steps: []*models.StepDefinition{
			{
				ID:   "call-child",
				Type: models.StepTypeWorkflow,
				Workflow: &models.WorkflowStep{WorkflowID: "wf-child-fail"},
			},
		},
	})

	state, err := eng.Start(context.Background(), "wf-parent-fail", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, state.Status)
	assert.Contains(t, state.LastError, "wf-child-fail")
}

func TestCancelledContextFailsExecution(t *testing.T) {
	eng, store := newTestEngine(t, nil)

	saveWorkflow(t, store, &models.Workflow{
		ID:   "wf-cancel",
		Name: "cancelled",
		Steps: []*models.StepDefinition{
			codeStep("only", "test.set", "", nil),
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := eng.Start(ctx, "wf-cancel", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, state.Status)
	assert.Contains(t, state.LastError, "cancelled")
}
