// Package qa builds the topic-based requirement-gathering workflow: an
// outer pass over ordered topics, a capped inner question loop per topic,
// a completeness review proposing gaps, capped clarifying questions, and
// a final summary. The flow is plain workflow steps wired to the code
// handlers registered here; nothing in the engine is Q&A-specific.
package qa

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/relayworks/relay/pkg/engine"
	"github.com/relayworks/relay/pkg/models"
)

const (
	// maxQuestionsPerTopic caps the inner question loop regardless of the
	// topic's own estimate.
	maxQuestionsPerTopic = 7

	// maxClarifyingQuestions caps gap clarifications across the whole run.
	maxClarifyingQuestions = 5
)

// RegisterHandlers binds every qa.* code handler into the registry. Call
// before Freeze.
func RegisterHandlers(registry *engine.Registry) error {
	handlers := map[string]engine.Handler{
		"qa.init":                 initHandler,
		"qa.prepare_question":     prepareQuestionHandler,
		"qa.record_answer":        recordAnswerHandler,
		"qa.route_followup":       routeFollowupHandler,
		"qa.advance_topic":        advanceTopicHandler,
		"qa.build_transcript":     buildTranscriptHandler,
		"qa.process_gaps":         processGapsHandler,
		"qa.record_clarification": recordClarificationHandler,
		"qa.finalize":             finalizeHandler,
	}

	for name, handler := range handlers {
		if err := registry.Register(name, handler); err != nil {
			return err
		}
	}

	return nil
}

// initHandler seeds the loop counters from the ordered topic list in the
// input context.
func initHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	topics := topicList(state.Context)

	patch := map[string]any{
		"topic_index":           0,
		"topic_questions_asked": 0,
		"questions_total":       0,
		"clarifications_asked":  0,
		"gathered":              []any{},
		"clarifications":        []any{},
		"topics_remaining":      strconv.FormatBool(len(topics) > 0),
		models.PhaseContextKey:  PhaseGathering,
	}

	if len(topics) > 0 {
		name, estimate := topicAt(topics, 0)
		patch["current_topic"] = name
		patch["topic_estimate"] = estimate
	}

	return patch, nil
}

func prepareQuestionHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"question_number": contextInt(state.Context, "topic_questions_asked") + 1,
	}, nil
}

// recordAnswerHandler appends the answered question to the gathered list
// and decides whether the current topic is exhausted.
func recordAnswerHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	question, _ := state.Context["last_question"].(string)
	answer, _ := state.Context["last_answer"].(string)
	topic, _ := state.Context["current_topic"].(string)

	gathered := appendEntry(state.Context["gathered"], map[string]any{
		"topic":    topic,
		"question": question,
		"answer":   answer,
	})

	asked := contextInt(state.Context, "topic_questions_asked") + 1
	estimate := contextInt(state.Context, "topic_estimate")

	return map[string]any{
		"gathered":              gathered,
		"topic_questions_asked": asked,
		"questions_total":       contextInt(state.Context, "questions_total") + 1,
		"topic_exhausted":       strconv.FormatBool(asked >= estimate),
	}, nil
}

// routeFollowupHandler flattens the follow-up decision into a routable
// string flag.
func routeFollowupHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	needed := false
	if decision, ok := state.Context["followup"].(map[string]any); ok {
		needed, _ = decision["ask_followup"].(bool)
	}

	return map[string]any{
		"followup_needed": strconv.FormatBool(needed),
	}, nil
}

func advanceTopicHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	topics := topicList(state.Context)
	index := contextInt(state.Context, "topic_index") + 1

	patch := map[string]any{
		"topic_index":           index,
		"topic_questions_asked": 0,
		"topics_remaining":      strconv.FormatBool(index < len(topics)),
	}

	if index < len(topics) {
		name, estimate := topicAt(topics, index)
		patch["current_topic"] = name
		patch["topic_estimate"] = estimate
	}

	return patch, nil
}

// buildTranscriptHandler renders the conversation so far into a single
// text block for the review and summary prompts.
func buildTranscriptHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"transcript": renderTranscript(state.Context),
	}, nil
}

// processGapsHandler reads the completeness review, caps the gap list by
// the remaining clarification budget, and switches the execution into the
// clarifying phase.
func processGapsHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	var gaps []any

	if review, ok := state.Context["gap_review"].(map[string]any); ok {
		complete, _ := review["complete"].(bool)
		if !complete {
			gaps, _ = review["gaps"].([]any)
		}
	}

	budget := maxClarifyingQuestions - contextInt(state.Context, "clarifications_asked")
	if budget < 0 {
		budget = 0
	}

	if len(gaps) > budget {
		gaps = gaps[:budget]
	}

	patch := map[string]any{
		"gaps":                 gaps,
		"gaps_remaining":       strconv.FormatBool(len(gaps) > 0),
		models.PhaseContextKey: PhaseClarifying,
	}

	if len(gaps) > 0 {
		patch["current_gap"], _ = gaps[0].(string)
	}

	return patch, nil
}

// recordClarificationHandler stores one gap's answer and pops the gap
// queue, respecting the overall clarification cap.
func recordClarificationHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	question, _ := state.Context["last_question"].(string)
	answer, _ := state.Context["last_answer"].(string)
	gap, _ := state.Context["current_gap"].(string)

	clarifications := appendEntry(state.Context["clarifications"], map[string]any{
		"gap":      gap,
		"question": question,
		"answer":   answer,
	})

	asked := contextInt(state.Context, "clarifications_asked") + 1

	var remaining []any
	if gaps, ok := state.Context["gaps"].([]any); ok && len(gaps) > 1 {
		remaining = gaps[1:]
	}

	more := len(remaining) > 0 && asked < maxClarifyingQuestions

	patch := map[string]any{
		"clarifications":       clarifications,
		"clarifications_asked": asked,
		"gaps":                 remaining,
		"gaps_remaining":       strconv.FormatBool(more),
	}

	if more {
		patch["current_gap"], _ = remaining[0].(string)
	}

	return patch, nil
}

func finalizeHandler(_ context.Context, state *models.ExecutionState, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"transcript":           renderTranscript(state.Context),
		models.PhaseContextKey: PhaseComplete,
	}, nil
}

func topicList(context map[string]any) []any {
	topics, _ := context["topics"].([]any)

	return topics
}

// topicAt resolves a topic's name and its per-topic question budget, the
// smaller of the topic's own estimate and the hard cap.
func topicAt(topics []any, index int) (string, int) {
	topic, ok := topics[index].(map[string]any)
	if !ok {
		return fmt.Sprintf("topic %d", index+1), 1
	}

	name, _ := topic["name"].(string)

	estimate := toInt(topic["estimated_questions"])
	if estimate < 1 {
		estimate = 1
	}

	if estimate > maxQuestionsPerTopic {
		estimate = maxQuestionsPerTopic
	}

	return name, estimate
}

func contextInt(context map[string]any, key string) int {
	return toInt(context[key])
}

// toInt tolerates the float64 that JSON round-trips produce.
func toInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func appendEntry(existing any, entry map[string]any) []any {
	list, _ := existing.([]any)
	out := make([]any, 0, len(list)+1)
	out = append(out, list...)

	return append(out, entry)
}

func renderTranscript(context map[string]any) string {
	var b strings.Builder

	if gathered, ok := context["gathered"].([]any); ok {
		for _, item := range gathered {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}

			fmt.Fprintf(&b, "[%v]\nQ: %v\nA: %v\n\n", entry["topic"], entry["question"], entry["answer"])
		}
	}

	if clarifications, ok := context["clarifications"].([]any); ok {
		for _, item := range clarifications {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}

			fmt.Fprintf(&b, "[clarification: %v]\nQ: %v\nA: %v\n\n", entry["gap"], entry["question"], entry["answer"])
		}
	}

	return strings.TrimSpace(b.String())
}
