package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/invoicegate/internal/ability"
	"github.com/randalmurphal/invoicegate/internal/checkpoint"
	"github.com/randalmurphal/invoicegate/internal/db"
	"github.com/randalmurphal/invoicegate/internal/events"
	"github.com/randalmurphal/invoicegate/internal/review"
	"github.com/randalmurphal/invoicegate/internal/stages"
	"github.com/randalmurphal/invoicegate/internal/state"
	"github.com/randalmurphal/invoicegate/internal/tools"
	"github.com/randalmurphal/invoicegate/internal/workflow"
)

// Components are the inputs needed to assemble a runtime.
type Components struct {
	DB         *db.DB
	Definition workflow.Definition
	// Pools maps capability to tool names. Nil uses tools.DefaultPools.
	Pools map[string][]string
	// Seed salts tool selection hashes.
	Seed      string
	AppURL    string
	Publisher events.Publisher
	Logger    *slog.Logger
	// Now overrides the clock of the stores and handlers.
	Now func() time.Time
	// Providers replace the demo ability servers.
	Providers map[ability.Server]ability.Provider
}

// Runtime bundles the engine with the stores front ends use directly.
type Runtime struct {
	Engine  *Engine
	Reviews *review.Store
	Log     *checkpoint.Log
	Graph   *workflow.Graph

	publisher *events.PublishHelper
	logger    *slog.Logger
}

// Assemble validates the configuration and builds a runtime. All
// configuration errors surface here, before any run starts.
func Assemble(c Components) (*Runtime, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}

	abilityMap, err := ability.Validate(c.Definition.AbilityMap)
	if err != nil {
		return nil, err
	}
	routerOpts := []ability.RouterOption{
		ability.WithAbilityMap(abilityMap),
		ability.WithRouterLogger(logger),
	}
	for server, p := range c.Providers {
		routerOpts = append(routerOpts, ability.WithProvider(server, p))
	}
	router := ability.NewDemoRouter(routerOpts...)

	pools := c.Pools
	if pools == nil {
		pools = tools.DefaultPools()
	}
	if err := tools.Validate(pools); err != nil {
		return nil, err
	}
	selector := tools.NewSelector(pools, tools.WithSeed(c.Seed), tools.WithLogger(logger))

	reviews := review.New(c.DB, review.WithClock(now), review.WithLogger(logger))
	execLog := checkpoint.New(c.DB, checkpoint.WithClock(now), checkpoint.WithLogger(logger))

	gate, _ := c.Definition.Stage(workflow.StageCheckpointHITL)
	handlers := stages.New(stages.Deps{
		Router:      router,
		Selector:    selector,
		Reviews:     reviews,
		AppURL:      c.AppURL,
		GateTrigger: gate.TriggerCondition,
		Now:         now,
		Logger:      logger,
	})
	if err := handlers.Validate(); err != nil {
		return nil, err
	}

	graph, err := workflow.Build(c.Definition, handlers.Handlers(), workflow.WithGraphLogger(logger))
	if err != nil {
		return nil, err
	}

	opts := []Option{WithLogger(logger)}
	if c.Publisher != nil {
		opts = append(opts, WithPublisher(c.Publisher))
	}
	return &Runtime{
		Engine:    New(graph, execLog, reviews, opts...),
		Reviews:   reviews,
		Log:       execLog,
		Graph:     graph,
		publisher: events.NewPublishHelper(c.Publisher),
		logger:    logger,
	}, nil
}

// DecisionOutcome is the result of Decide.
type DecisionOutcome struct {
	review.DecisionResult
	// State is the resumed run, nil when not resumed or resume failed.
	State *state.WorkflowState
	// ResumeErr is the resume failure. The decision itself is recorded.
	ResumeErr error
}

// Decide records a reviewer decision and, when resume is set, continues
// the paused run. Only a failure to record the decision is returned as
// an error.
func (r *Runtime) Decide(ctx context.Context, checkpointID, decision, notes, reviewerID string, resume bool) (*DecisionOutcome, error) {
	res, err := r.Reviews.ApplyDecision(ctx, checkpointID, decision, notes, reviewerID)
	if err != nil {
		return nil, err
	}
	out := &DecisionOutcome{DecisionResult: res}

	runID := ""
	if snap, err := r.Reviews.LoadCheckpoint(ctx, checkpointID); err == nil {
		runID = snap.RunID
	}
	normalized, _ := review.NormalizeDecision(decision)
	r.publisher.DecisionApplied(runID, events.DecisionUpdate{
		CheckpointID: checkpointID,
		Decision:     normalized,
		ReviewerID:   reviewerID,
		NextStage:    res.NextStage,
	})

	if !resume {
		return out, nil
	}
	st, err := r.Engine.ResumeFromCheckpoint(ctx, checkpointID, "")
	if err != nil {
		r.logger.Warn("resume after decision failed", "checkpoint_id", checkpointID, "error", err)
		out.ResumeErr = err
		return out, nil
	}
	out.State = st
	return out, nil
}
