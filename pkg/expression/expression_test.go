package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_ResultEquality(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		result  string
		matched bool
	}{
		{"success matches", `result === "success"`, "success", true},
		{"success does not match failure", `result === "success"`, "failure", false},
		{"negated match", `result !== "failure"`, "success", true},
		{"negated no match", `result !== "success"`, "success", false},
		{"extra whitespace", `result   ===   "success"`, "success", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, wellFormed := Evaluate(tt.expr, tt.result, nil)
			assert.True(t, wellFormed)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestEvaluate_ContextEquality(t *testing.T) {
	context := map[string]any{
		"outcome":  "approved",
		"verified": true,
		"count":    3,
	}

	matched, wellFormed := Evaluate(`context.outcome === "approved"`, "", context)
	assert.True(t, wellFormed)
	assert.True(t, matched)

	matched, wellFormed = Evaluate(`context.outcome !== "approved"`, "", context)
	assert.True(t, wellFormed)
	assert.False(t, matched)

	// Non-string context values compare via their canonical string form.
	matched, _ = Evaluate(`context.verified === "true"`, "", context)
	assert.True(t, matched)

	matched, _ = Evaluate(`context.count === "3"`, "", context)
	assert.True(t, matched)
}

func TestEvaluate_MissingContextKey(t *testing.T) {
	matched, wellFormed := Evaluate(`context.missing === "x"`, "", map[string]any{})
	assert.True(t, wellFormed)
	assert.False(t, matched)

	matched, wellFormed = Evaluate(`context.missing !== "x"`, "", map[string]any{})
	assert.True(t, wellFormed)
	assert.True(t, matched)
}

func TestEvaluate_NumericComparisons(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		context map[string]any
		matched bool
	}{
		{"greater matches", `context.count > 10`, map[string]any{"count": 11}, true},
		{"greater strict", `context.count > 10`, map[string]any{"count": 10}, false},
		{"less", `context.count < 5`, map[string]any{"count": 4}, true},
		{"greater or equal", `context.count >= 10`, map[string]any{"count": 10}, true},
		{"less or equal", `context.count <= 10`, map[string]any{"count": 10}, true},
		{"float value", `context.score > 0.5`, map[string]any{"score": 0.75}, true},
		{"negative threshold", `context.delta < -1`, map[string]any{"delta": -2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, wellFormed := Evaluate(tt.expr, "", tt.context)
			assert.True(t, wellFormed)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestEvaluate_NonNumericNeverMatches(t *testing.T) {
	matched, wellFormed := Evaluate(`context.count > 10`, "", map[string]any{"count": "eleven"})
	assert.True(t, wellFormed)
	assert.False(t, matched)

	matched, _ = Evaluate(`context.count > 10`, "", map[string]any{})
	assert.False(t, matched)
}

func TestEvaluate_MalformedIsNonMatching(t *testing.T) {
	malformed := []string{
		"",
		"result == \"success\"",        // unsupported operator
		"result === success",           // unquoted literal
		"context.count = 10",           // assignment is not comparison
		`context.count > "ten"`,        // quoted numeric operand
		`result === "a" || result === "b"`, // no boolean connectives
		"len(context.items) > 0",       // no function calls
		"context.a.b === \"x\"",        // no nested paths
		"__import__('os')",             // definitely not code
	}

	for _, expr := range malformed {
		matched, wellFormed := Evaluate(expr, "success", map[string]any{"count": 10})
		assert.False(t, matched, "expr %q must not match", expr)
		assert.False(t, wellFormed, "expr %q must be flagged malformed", expr)
	}
}

func TestEvaluate_EscapedQuotes(t *testing.T) {
	matched, wellFormed := Evaluate(`context.title === "say \"hi\""`, "", map[string]any{"title": `say "hi"`})
	assert.True(t, wellFormed)
	assert.True(t, matched)
}
