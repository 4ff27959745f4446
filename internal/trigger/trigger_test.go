package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/invoicegate/internal/state"
)

func stateWithMatch(result string) *state.WorkflowState {
	s := state.New("run_1", "", nil, map[string]any{"amount": 100.0, "vendor_name": "Acme"})
	if result != "" {
		s.Match = &state.Match{MatchResult: result}
	}
	return s
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		want Condition
	}{
		{"match_result == 'FAILED'", Condition{Path: "match_result", Op: Eq, Literal: "FAILED"}},
		{`  match.match_result != "MATCHED"  `, Condition{Path: "match.match_result", Op: Ne, Literal: "MATCHED"}},
		{"status=='PAUSED'", Condition{Path: "status", Op: Eq, Literal: "PAUSED"}},
		{"a == ''", Condition{Path: "a", Op: Eq, Literal: ""}},
		{"a == 'it's'", Condition{Path: "a", Op: Eq, Literal: "it's"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	bad := []string{
		"",
		"match_result",
		"match_result = 'FAILED'",
		"match_result == FAILED",
		"match_result == 'FAILED\"",
		"match_result == 'FAILED' and x",
		"match..result == 'x'",
		".match == 'x'",
		"match. == 'x'",
		"match-result == 'x'",
		"== 'x'",
		"match_result >= 'x'",
		"match_result == 'a\nb'",
	}
	for _, expr := range bad {
		_, err := Parse(expr)
		var syn *SyntaxError
		assert.ErrorAs(t, err, &syn, "expr %q", expr)
	}
}

func TestEvaluateMatchResult(t *testing.T) {
	t.Parallel()

	const expr = "match_result == 'FAILED'"
	assert.True(t, Evaluate(expr, stateWithMatch(state.MatchFailed)))
	assert.False(t, Evaluate(expr, stateWithMatch(state.MatchMatched)))
	assert.False(t, Evaluate(expr, stateWithMatch("")), "missing match namespace")
	assert.False(t, Evaluate("match_result == FAILED", stateWithMatch(state.MatchFailed)), "unparsable")
}

func TestEvaluateMissingPathIsFalseForBothOperators(t *testing.T) {
	t.Parallel()

	s := stateWithMatch("")
	assert.False(t, Evaluate("match.match_result == 'FAILED'", s))
	assert.False(t, Evaluate("match.match_result != 'FAILED'", s))
	assert.False(t, Evaluate("nothing.here != 'x'", s))
}

func TestEvaluatePaths(t *testing.T) {
	t.Parallel()

	s := stateWithMatch(state.MatchFailed)
	s.Status = state.StatusMismatch

	assert.True(t, Evaluate("input_state.match.match_result == 'FAILED'", s))
	assert.True(t, Evaluate("input_state.match_result == 'FAILED'", s))
	assert.True(t, Evaluate("status != 'PAUSED'", s))
	assert.True(t, Evaluate("input_payload.vendor_name == 'Acme'", s))
	assert.True(t, Evaluate("input_payload.amount == '100'", s))
	assert.False(t, Evaluate("", s))
	assert.False(t, Evaluate("status == 'MISMATCH'", nil))
}

func TestEvaluateComparesJSONText(t *testing.T) {
	t.Parallel()

	s := state.New("run_2", "", nil, map[string]any{
		"amount":     60.0,
		"urgent":     true,
		"line_items": []any{map[string]any{"sku": "A-1"}},
	})

	assert.True(t, Evaluate("input_payload.amount == '60'", s))
	assert.False(t, Evaluate("input_payload.amount == '60.0'", s))
	assert.True(t, Evaluate("input_payload.urgent == 'true'", s))
	assert.False(t, Evaluate("input_payload.urgent == 'True'", s))
	assert.True(t, Evaluate("input_payload.line_items.0.sku == 'A-1'", s))
}

func TestConditionString(t *testing.T) {
	t.Parallel()
	c := Condition{Path: "a.b", Op: Ne, Literal: "x"}
	assert.Equal(t, "a.b != 'x'", c.String())
}
