// Package trigger evaluates the restricted condition language used for
// conditional routing: a dotted path, == or !=, and a quoted literal.
//
//	match_result == 'FAILED'
//	input_state.match.match_result != "MATCHED"
//
// Anything outside that grammar evaluates to false.
package trigger

import "fmt"

// Op is a comparison operator.
type Op int

const (
	// Eq compares for string equality.
	Eq Op = iota + 1
	// Ne compares for string inequality.
	Ne
)

func (o Op) String() string {
	switch o {
	case Eq:
		return "=="
	case Ne:
		return "!="
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Condition is a parsed trigger expression.
type Condition struct {
	Path    string
	Op      Op
	Literal string
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s '%s'", c.Path, c.Op, c.Literal)
}

// SyntaxError reports why an expression could not be parsed.
type SyntaxError struct {
	Expr   string
	Pos    int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("trigger %q: %s at offset %d", e.Expr, e.Reason, e.Pos)
}
