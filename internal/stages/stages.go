// Package stages implements the invoice stage handlers.
//
// Each handler reads the accumulated state, calls abilities through the
// router, and returns only the namespaces its stage owns.
package stages

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/invoicegate/internal/ability"
	"github.com/randalmurphal/invoicegate/internal/review"
	"github.com/randalmurphal/invoicegate/internal/state"
	"github.com/randalmurphal/invoicegate/internal/tools"
	"github.com/randalmurphal/invoicegate/internal/workflow"
)

// DefaultAppURL is used for review links when no APP_URL is configured.
const DefaultAppURL = "http://localhost:8000"

// Pause reasons recorded on review checkpoints.
const (
	PausedReason        = "2-way match failed"
	TriggerReasonPrefix = "trigger_condition: "
	ManualReviewReason  = "review requested"
)

// Audit log actions.
const (
	ActionSelect       = "bigtool.select"
	ActionAbility      = "ability"
	ActionPersistRaw   = "persist_raw"
	ActionCheckpoint   = "checkpoint"
	ActionDecision     = "decision"
	ActionPersistFinal = "persist_final"
)

// Next-stage markers written to the human namespace.
const (
	NextWaiting = "WAITING"
)

// ReviewStore is the part of the review store the stages use.
type ReviewStore interface {
	SaveRawInvoice(ctx context.Context, rawID string, payload map[string]any) error
	SaveCheckpoint(ctx context.Context, req review.SaveRequest) (string, error)
	GetStatus(ctx context.Context, id string) (*review.Status, error)
	SaveFinalResult(ctx context.Context, runID string, payload map[string]any, status string, finalPayload map[string]any) (string, error)
}

var _ ReviewStore = (*review.Store)(nil)

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Router   *ability.Router
	Selector *tools.Selector
	Reviews  ReviewStore
	// AppURL is the base of review links.
	AppURL string
	// GateTrigger is the CHECKPOINT_HITL trigger_condition, recorded as the
	// pause reason when it sends a matched invoice to review.
	GateTrigger string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Stages holds the handlers.
type Stages struct {
	router      *ability.Router
	selector    *tools.Selector
	reviews     ReviewStore
	appURL      string
	gateTrigger string
	now         func() time.Time
	logger      *slog.Logger
}

// New creates the stage set.
func New(deps Deps) *Stages {
	s := &Stages{
		router:      deps.Router,
		selector:    deps.Selector,
		reviews:     deps.Reviews,
		appURL:      deps.AppURL,
		gateTrigger: strings.TrimSpace(deps.GateTrigger),
		now:         deps.Now,
		logger:      deps.Logger,
	}
	if s.appURL == "" {
		s.appURL = DefaultAppURL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.router == nil {
		s.router = ability.NewDemoRouter()
	}
	if s.selector == nil {
		s.selector = tools.NewSelector(tools.DefaultPools())
	}
	return s
}

// Handlers returns a handler for every built-in stage.
func (s *Stages) Handlers() map[workflow.StageID]workflow.Handler {
	return map[workflow.StageID]workflow.Handler{
		workflow.StageIntake:         s.Intake,
		workflow.StageUnderstand:     s.Understand,
		workflow.StagePrepare:        s.Prepare,
		workflow.StageRetrieve:       s.Retrieve,
		workflow.StageMatchTwoWay:    s.MatchTwoWay,
		workflow.StageCheckpointHITL: s.CheckpointHITL,
		workflow.StageHITLDecision:   s.HITLDecision,
		workflow.StageReconcile:      s.Reconcile,
		workflow.StageApprove:        s.Approve,
		workflow.StagePosting:        s.Posting,
		workflow.StageNotify:         s.Notify,
		workflow.StageComplete:       s.Complete,
	}
}

// Capabilities used by the handlers.
var capabilities = []string{
	tools.CapStorage,
	tools.CapOCR,
	tools.CapEnrichment,
	tools.CapERPConnector,
	tools.CapDB,
	tools.CapEmail,
}

// Validate checks that every capability has a non-empty pool and every
// ability routes to a registered server.
func (s *Stages) Validate() error {
	pools := s.selector.Pools()
	for _, c := range capabilities {
		if err := tools.Validate(map[string][]string{c: pools[c]}); err != nil {
			return err
		}
	}
	return s.router.CheckServed(ability.All()...)
}

// ReviewURL is the link reviewers follow to the pending queue.
func (s *Stages) ReviewURL() string {
	return strings.TrimRight(s.appURL, "/") + "/human-review/pending"
}

// selectTool picks a tool for capability and logs the selection.
func (s *Stages) selectTool(u *state.Update, stage workflow.StageID, capability string, st *state.WorkflowState) error {
	sel, err := s.selector.Select(capability, toolContext(st), nil)
	if err != nil {
		return err
	}
	u.Log(string(stage), ActionSelect, sel.LogDetail())
	return nil
}

// call invokes an ability and logs its result.
func (s *Stages) call(ctx context.Context, u *state.Update, stage workflow.StageID, id ability.ID, payload map[string]any) (map[string]any, error) {
	res, err := s.router.Call(ctx, id, payload)
	if err != nil {
		return nil, err
	}
	u.Log(string(stage), ActionAbility, res)
	return res, nil
}

func toolContext(st *state.WorkflowState) tools.Context {
	c := tools.Context{
		InvoiceID:     st.PayloadString("invoice_id"),
		VendorName:    st.PayloadString("vendor_name"),
		PreferredTool: st.PayloadString("preferred_tool"),
	}
	if f, ok := state.ToFloat(st.InputPayload["amount"]); ok {
		c.Amount = &f
	}
	return c
}

func (s *Stages) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
