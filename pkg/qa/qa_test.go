package qa_test

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
	"github.com/relayworks/relay/pkg/persistence/file"
	"github.com/relayworks/relay/pkg/qa"
)

func testRegistry(t *testing.T) *engine.Registry {
	t.Helper()

	registry := engine.NewRegistry()
	require.NoError(t, qa.RegisterHandlers(registry))
	registry.Freeze()

	return registry
}

func handler(t *testing.T, registry *engine.Registry, name string) engine.Handler {
	t.Helper()

	h, ok := registry.Get(name)
	require.True(t, ok, "handler %s not registered", name)

	return h
}

func stateWithContext(context map[string]any) *models.ExecutionState {
	state := models.NewExecutionState("exec-test", "wf-test", "init")
	for k, v := range context {
		state.Context[k] = v
	}

	return state
}

func TestInitSeedsTopicLoop(t *testing.T) {
	registry := testRegistry(t)
	initFn := handler(t, registry, "qa.init")

	patch, err := initFn(context.Background(), stateWithContext(map[string]any{
		"topics": []any{
			map[string]any{"name": "scope", "estimated_questions": float64(3)},
			map[string]any{"name": "constraints", "estimated_questions": float64(2)},
		},
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, "true", patch["topics_remaining"])
	assert.Equal(t, "scope", patch["current_topic"])
	assert.Equal(t, 3, patch["topic_estimate"])
	assert.Equal(t, qa.PhaseGathering, patch[models.PhaseContextKey])
}

func TestInitWithoutTopics(t *testing.T) {
	registry := testRegistry(t)
	initFn := handler(t, registry, "qa.init")

	patch, err := initFn(context.Background(), stateWithContext(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, "false", patch["topics_remaining"])
	assert.NotContains(t, patch, "current_topic")
}

func TestTopicEstimateIsCappedAtSevenQuestions(t *testing.T) {
	registry := testRegistry(t)
	initFn := handler(t, registry, "qa.init")

	patch, err := initFn(context.Background(), stateWithContext(map[string]any{
		"topics": []any{
			map[string]any{"name": "everything", "estimated_questions": float64(20)},
		},
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, 7, patch["topic_estimate"])
}

func TestRecordAnswerMarksTopicExhaustedAtEstimate(t *testing.T) {
	registry := testRegistry(t)
	record := handler(t, registry, "qa.record_answer")

	patch, err := record(context.Background(), stateWithContext(map[string]any{
		"current_topic":         "scope",
		"last_question":         "What is in scope?",
		"last_answer":           "Only the engine.",
		"topic_questions_asked": 1,
		"topic_estimate":        2,
		"questions_total":       1,
		"gathered":              []any{},
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, "true", patch["topic_exhausted"])
	assert.Equal(t, 2, patch["topic_questions_asked"])

	gathered, ok := patch["gathered"].([]any)
	require.True(t, ok)
	require.Len(t, gathered, 1)

	entry, ok := gathered[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Only the engine.", entry["answer"])
}

func TestProcessGapsCapsClarificationBudget(t *testing.T) {
	registry := testRegistry(t)
	process := handler(t, registry, "qa.process_gaps")

	patch, err := process(context.Background(), stateWithContext(map[string]any{
		"clarifications_asked": 0,
		"gap_review": map[string]any{
			"complete": false,
			"gaps":     []any{"g1", "g2", "g3", "g4", "g5", "g6", "g7"},
		},
	}), nil)
	require.NoError(t, err)

	gaps, ok := patch["gaps"].([]any)
	require.True(t, ok)
	assert.Len(t, gaps, 5)
	assert.Equal(t, "true", patch["gaps_remaining"])
	assert.Equal(t, "g1", patch["current_gap"])
	assert.Equal(t, qa.PhaseClarifying, patch[models.PhaseContextKey])
}

func TestProcessGapsWithCompleteReview(t *testing.T) {
	registry := testRegistry(t)
	process := handler(t, registry, "qa.process_gaps")

	patch, err := process(context.Background(), stateWithContext(map[string]any{
		"clarifications_asked": 0,
		"gap_review": map[string]any{
			"complete": true,
			"gaps":     []any{"ignored when complete"},
		},
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, "false", patch["gaps_remaining"])
}

func TestRecordClarificationPopsQueueAndEnforcesCap(t *testing.T) {
	registry := testRegistry(t)
	record := handler(t, registry, "qa.record_clarification")

	patch, err := record(context.Background(), stateWithContext(map[string]any{
		"current_gap":          "error handling",
		"last_question":        "How should failures surface?",
		"last_answer":          "As data, not exceptions.",
		"clarifications_asked": 4,
		"clarifications":       []any{},
		"gaps":                 []any{"error handling", "observability"},
	}), nil)
	require.NoError(t, err)

	// One gap is left, but the fifth clarification exhausts the budget.
	assert.Equal(t, 5, patch["clarifications_asked"])
	assert.Equal(t, "false", patch["gaps_remaining"])
}

// scriptedAgent answers the workflow's LLM calls by call shape: question
// generation returns plain text, schema'd calls return matching documents.
type scriptedAgent struct {
	askFollowup  bool
	reviewsLeft  []map[string]any
	questionsAsk int
}

func (a *scriptedAgent) Call(_ context.Context, req agent.Request) (*agent.Response, error) {
	if req.OutputSchema == nil {
		a.questionsAsk++

		return &agent.Response{Content: "Generated question?", TokensUsed: 10, FinishReason: "stop"}, nil
	}

	properties, ok := req.OutputSchema["properties"].(map[string]any)
	if !ok {
		return nil, errors.New("unexpected schema")
	}

	if _, isFollowup := properties["ask_followup"]; isFollowup {
		followup := a.askFollowup
		a.askFollowup = false

		return &agent.Response{
			Structured: map[string]any{"ask_followup": followup},
		}, nil
	}

	if _, isReview := properties["complete"]; isReview {
		if len(a.reviewsLeft) == 0 {
			return &agent.Response{
				Structured: map[string]any{"complete": true, "gaps": []any{}},
			}, nil
		}

		review := a.reviewsLeft[0]
		a.reviewsLeft = a.reviewsLeft[1:]

		return &agent.Response{Structured: review}, nil
	}

	return nil, errors.New("unexpected structured call")
}

func runPlanning(t *testing.T, scripted *scriptedAgent, topics []any) *models.ExecutionState {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewFilePersistence(t.TempDir())
	registry := testRegistry(t)

	workflow := qa.PlanningWorkflow(qa.Config{ProjectID: "proj", Model: "test-model"})
	require.NoError(t, store.Workflows().SaveWorkflow(context.Background(), workflow))

	eng := engine.New(store, nil, scripted, registry, logger)

	state, err := eng.Start(context.Background(), workflow.ID, map[string]any{"topics": topics})
	require.NoError(t, err)

	for state.Status == models.ExecutionStatusWaitingForInput {
		require.Len(t, state.PendingQuestions, 1)

		answers := map[string]string{state.PendingQuestions[0].ID: "An answer."}

		state, err = eng.Resume(context.Background(), state.ID, answers, nil)
		require.NoError(t, err)
	}

	return state
}

func TestPlanningWorkflowSingleTopicRunsToSummary(t *testing.T) {
	scripted := &scriptedAgent{}

	state := runPlanning(t, scripted, []any{
		map[string]any{"name": "scope", "estimated_questions": float64(1)},
	})

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, qa.PhaseComplete, state.Context[models.PhaseContextKey])
	assert.NotEmpty(t, state.Context["summary"])
	assert.NotEmpty(t, state.Context["transcript"])
	assert.Equal(t, 1, state.Context["questions_total"])
}

func TestPlanningWorkflowFollowupAndClarification(t *testing.T) {
	scripted := &scriptedAgent{
		askFollowup: true,
		reviewsLeft: []map[string]any{
			{"complete": false, "gaps": []any{"error handling"}},
		},
	}

	state := runPlanning(t, scripted, []any{
		map[string]any{"name": "scope", "estimated_questions": float64(2)},
	})

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, 2, state.Context["questions_total"])
	assert.Equal(t, 1, state.Context["clarifications_asked"])

	gathered, ok := state.Context["gathered"].([]any)
	require.True(t, ok)
	assert.Len(t, gathered, 2)

	clarifications, ok := state.Context["clarifications"].([]any)
	require.True(t, ok)
	assert.Len(t, clarifications, 1)

	// Two interview answers plus one clarification, each an assistant and
	// a user turn.
	assert.Len(t, state.ConversationHistory, 6)
}
