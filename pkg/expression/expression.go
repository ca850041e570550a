// Package expression evaluates the restricted condition grammar used by
// automation transitions and conditional steps.
//
// Exactly four literal shapes are recognized:
//
//	result (===|!==) "literal"
//	context.<name> (===|!==) "literal"
//	context.<name> (>|<|>=|<=) <number>
//
// Anything else, including malformed syntax, unsupported operators, and
// type mismatches, resolves to non-matching. The evaluator never returns
// an error and never executes arbitrary code.
package expression

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	resultPattern  = regexp.MustCompile(`^result\s*(===|!==)\s*"((?:[^"\\]|\\.)*)"$`)
	equalsPattern  = regexp.MustCompile(`^context\.([A-Za-z_][A-Za-z0-9_]*)\s*(===|!==)\s*"((?:[^"\\]|\\.)*)"$`)
	comparePattern = regexp.MustCompile(`^context\.([A-Za-z_][A-Za-z0-9_]*)\s*(>=|<=|>|<)\s*(-?\d+(?:\.\d+)?)$`)
)

// Evaluate resolves expr against the run result and the execution context.
// The second return value reports whether the expression was well-formed;
// callers log a warning on false but must still treat it as non-matching.
func Evaluate(expr, result string, context map[string]any) (matched, wellFormed bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, false
	}

	if m := resultPattern.FindStringSubmatch(expr); m != nil {
		return compareStrings(result, m[1], unescape(m[2])), true
	}

	if m := equalsPattern.FindStringSubmatch(expr); m != nil {
		value, ok := context[m[1]]
		if !ok {
			// Missing context values compare as the empty string, so a
			// !== check can still match.
			return compareStrings("", m[2], unescape(m[3])), true
		}

		return compareStrings(stringify(value), m[2], unescape(m[3])), true
	}

	if m := comparePattern.FindStringSubmatch(expr); m != nil {
		value, ok := toNumber(context[m[1]])
		if !ok {
			// Type mismatch: comparing a non-number with a numeric
			// operator is well-formed but never matches.
			return false, true
		}

		threshold, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return false, false
		}

		return compareNumbers(value, m[2], threshold), true
	}

	return false, false
}

func compareStrings(left, op, right string) bool {
	switch op {
	case "===":
		return left == right
	case "!==":
		return left != right
	default:
		return false
	}
}

func compareNumbers(left float64, op string, right float64) bool {
	switch op {
	case ">":
		return left > right
	case "<":
		return left < right
	case ">=":
		return left >= right
	case "<=":
		return left <= right
	default:
		return false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)

	return s
}
