package workflow

import (
	"fmt"
	"log/slog"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/state"
	"github.com/randalmurphal/invoicegate/internal/trigger"
)

// RouteKind is the shape of an outgoing edge.
type RouteKind int

const (
	RouteTerminal RouteKind = iota
	RouteFixed
	RouteDecide
)

func (k RouteKind) String() string {
	switch k {
	case RouteFixed:
		return "fixed"
	case RouteDecide:
		return "decide"
	default:
		return "terminal"
	}
}

// Route is the outgoing edge of one stage.
type Route struct {
	Kind RouteKind
	// Next is the target of a fixed route.
	Next StageID
	// Decide picks the target of a decide route. End stops the run.
	Decide func(st *state.WorkflowState) StageID
	// Targets lists every stage Decide may return, for build-time checks.
	Targets []StageID
}

// Terminal ends the invocation after the stage.
func Terminal() Route { return Route{Kind: RouteTerminal} }

// Fixed always continues to next.
func Fixed(next StageID) Route { return Route{Kind: RouteFixed, Next: next} }

// Decide chooses the next stage from the merged state.
func Decide(fn func(st *state.WorkflowState) StageID, targets ...StageID) Route {
	return Route{Kind: RouteDecide, Decide: fn, Targets: targets}
}

// Graph is a compiled workflow.
type Graph struct {
	def      Definition
	order    []StageID
	declared map[StageID]bool
	handlers map[StageID]Handler
	routes   map[StageID]Route
	logger   *slog.Logger
}

// GraphOption configures Build.
type GraphOption func(*Graph)

// WithGraphLogger sets the logger used for routing decisions.
func WithGraphLogger(l *slog.Logger) GraphOption {
	return func(g *Graph) { g.logger = l }
}

// Build compiles def into a routing table. Every declared stage must be a
// known stage with a handler, and every stage a route can reach must be
// declared.
func Build(def Definition, handlers map[StageID]Handler, opts ...GraphOption) (*Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{
		def:      def,
		order:    def.StageIDs(),
		declared: make(map[StageID]bool),
		handlers: make(map[StageID]Handler),
		routes:   make(map[StageID]Route),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, id := range g.order {
		h, ok := handlers[id]
		if !ok || h == nil {
			return nil, gateerrors.ConfigInvalid("stages", fmt.Sprintf("missing handler for stage %q", id))
		}
		g.declared[id] = true
		g.handlers[id] = h
	}

	gateExpr := ""
	if sd, ok := def.Stage(StageCheckpointHITL); ok {
		gateExpr = sd.TriggerCondition
	}

	for i, id := range g.order {
		switch id {
		case StageMatchTwoWay:
			g.routes[id] = Decide(matchRouter(gateExpr), StageCheckpointHITL, StageReconcile)
		case StageCheckpointHITL:
			g.routes[id] = Terminal()
		case StageHITLDecision:
			g.routes[id] = Decide(decisionRouter, StageReconcile, StageComplete)
		default:
			if i+1 < len(g.order) {
				g.routes[id] = Fixed(g.order[i+1])
			} else {
				g.routes[id] = Terminal()
			}
		}
	}

	for id, r := range g.routes {
		if r.Kind != RouteDecide {
			continue
		}
		for _, target := range r.Targets {
			if !g.declared[target] {
				return nil, gateerrors.ConfigInvalid("stages",
					fmt.Sprintf("stage %q routes to %q, which is not declared", id, target))
			}
		}
	}
	return g, nil
}

// matchRouter sends the run to the review gate when the gate's trigger
// holds or the match failed.
func matchRouter(gateExpr string) func(st *state.WorkflowState) StageID {
	return func(st *state.WorkflowState) StageID {
		if trigger.Evaluate(gateExpr, st) {
			return StageCheckpointHITL
		}
		if st.Match != nil && st.Match.MatchResult == state.MatchFailed {
			return StageCheckpointHITL
		}
		return StageReconcile
	}
}

func decisionRouter(st *state.WorkflowState) StageID {
	if st.Human == nil {
		return End
	}
	switch st.Human.Decision {
	case state.DecisionAccept:
		return StageReconcile
	case state.DecisionReject:
		return StageComplete
	default:
		return End
	}
}

// Definition returns the definition the graph was built from.
func (g *Graph) Definition() Definition { return g.def }

// Stages returns the declared order.
func (g *Graph) Stages() []StageID {
	out := make([]StageID, len(g.order))
	copy(out, g.order)
	return out
}

// Has reports whether id is declared.
func (g *Graph) Has(id StageID) bool { return g.declared[id] }

// Handler returns the handler bound to id.
func (g *Graph) Handler(id StageID) (Handler, bool) {
	h, ok := g.handlers[id]
	return h, ok
}

// Route returns the outgoing edge of id.
func (g *Graph) Route(id StageID) (Route, bool) {
	r, ok := g.routes[id]
	return r, ok
}

// Entry returns resume_from when it names a declared stage, else the
// first declared stage.
func (g *Graph) Entry(st *state.WorkflowState) StageID {
	if st != nil && st.ResumeFrom != "" {
		if id := StageID(st.ResumeFrom); g.declared[id] {
			return id
		}
		g.logger.Debug("resume_from is not a declared stage, starting at the top",
			"resume_from", st.ResumeFrom, "run_id", st.RunID)
	}
	return g.order[0]
}

// Next returns the stage that follows current, or End.
func (g *Graph) Next(current StageID, st *state.WorkflowState) StageID {
	r, ok := g.routes[current]
	if !ok {
		return End
	}
	switch r.Kind {
	case RouteFixed:
		return r.Next
	case RouteDecide:
		next := r.Decide(st)
		g.logger.Debug("route decided", "stage", current, "next", next, "run_id", st.RunID)
		return next
	default:
		return End
	}
}
