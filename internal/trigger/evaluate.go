package trigger

import (
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/invoicegate/internal/state"
)

const inputStatePrefix = "input_state."

// Evaluate reports whether expr holds for st. Empty, malformed, or
// unresolvable expressions are false.
func Evaluate(expr string, st *state.WorkflowState) bool {
	if strings.TrimSpace(expr) == "" || st == nil {
		return false
	}
	cond, err := Parse(expr)
	if err != nil {
		slog.Debug("trigger parse failed", "expr", expr, "error", err)
		return false
	}
	doc, err := st.Marshal()
	if err != nil {
		return false
	}
	return cond.Eval(doc)
}

// Eval applies the condition to a JSON document.
func (c Condition) Eval(doc []byte) bool {
	value, ok := resolve(doc, c.Path)
	if !ok {
		return false
	}
	switch c.Op {
	case Eq:
		return value == c.Literal
	case Ne:
		return value != c.Literal
	default:
		return false
	}
}

// resolve returns the JSON text of the value at path: true, 60, or the raw
// string. Numeric segments index arrays.
func resolve(doc []byte, path string) (string, bool) {
	path = strings.TrimPrefix(path, inputStatePrefix)
	r := gjson.GetBytes(doc, path)
	if !present(r) && path == "match_result" {
		r = gjson.GetBytes(doc, "match.match_result")
	}
	if !present(r) {
		return "", false
	}
	return r.String(), true
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}
