// Package executor drives invoice runs through the stage graph.
//
// The engine is stateless between calls: every committed stage is appended to
// the execution log, and a run paused at the review gate is resumed from the
// review checkpoint's snapshot, possibly by another process.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/invoicegate/internal/checkpoint"
	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/events"
	"github.com/randalmurphal/invoicegate/internal/state"
	"github.com/randalmurphal/invoicegate/internal/workflow"
)

const tracerName = "github.com/randalmurphal/invoicegate/internal/executor"

// SourceLoop tags execution checkpoints written by the stage loop.
const SourceLoop = "loop"

// Metadata keys stored with each execution checkpoint.
const (
	MetaSource = "source"
	MetaStep   = "step"
	MetaStage  = "stage"
	MetaStatus = "status"
)

// CheckpointLoader loads the state snapshot saved at the review gate.
type CheckpointLoader interface {
	LoadCheckpoint(ctx context.Context, id string) (*state.WorkflowState, error)
}

// Engine runs invoices through a compiled stage graph.
type Engine struct {
	graph     *workflow.Graph
	log       *checkpoint.Log
	reviews   CheckpointLoader
	namespace string
	publisher *events.PublishHelper
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = events.NewPublishHelper(p) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer for run and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithNamespace scopes execution checkpoints to a log namespace.
func WithNamespace(ns string) Option {
	return func(e *Engine) { e.namespace = ns }
}

// New creates an engine.
func New(graph *workflow.Graph, log *checkpoint.Log, reviews CheckpointLoader, opts ...Option) *Engine {
	e := &Engine{
		graph:   graph,
		log:     log,
		reviews: reviews,
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the compiled stage graph.
func (e *Engine) Graph() *workflow.Graph { return e.graph }

// Start runs a new invoice from the first declared stage. An empty runID
// gets a fresh one. A run that stops at the review gate returns with
// status PAUSED and no error.
func (e *Engine) Start(ctx context.Context, payload map[string]any, runID string) (*state.WorkflowState, error) {
	def := e.graph.Definition()
	st := state.New(runID, def.WorkflowName, def.Config, payload)
	return e.run(ctx, st, false)
}

// ResumeFromCheckpoint reloads the snapshot saved with a review checkpoint
// and continues the same run at resumeStage (HITL_DECISION when empty).
// A run that has already posted or completed is not resumed again; the
// error has code ALREADY_RESOLVED.
func (e *Engine) ResumeFromCheckpoint(ctx context.Context, checkpointID, resumeStage string) (*state.WorkflowState, error) {
	if resumeStage == "" {
		resumeStage = string(workflow.StageHITLDecision)
	}
	st, err := e.reviews.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if st.RunID == "" {
		return nil, gateerrors.Persistence("resume checkpoint",
			fmt.Errorf("snapshot for %s has no run id", checkpointID))
	}
	if err := e.checkResumable(ctx, checkpointID, st.RunID); err != nil {
		return nil, err
	}
	st.ResumeFrom = resumeStage
	return e.run(ctx, st, true)
}

// settledStages are the stages whose commit means the run already went past
// the review gate with side effects that must not repeat.
var settledStages = map[string]bool{
	string(workflow.StagePosting):  true,
	string(workflow.StageNotify):   true,
	string(workflow.StageComplete): true,
}

// checkResumable rejects a resume once the run's chain head is a settled
// stage. A run that failed before posting can still be resumed.
func (e *Engine) checkResumable(ctx context.Context, checkpointID, runID string) error {
	head, err := e.log.Get(ctx, checkpoint.Config{ThreadID: runID, Namespace: e.namespace}, "")
	if err != nil {
		if errors.Is(err, gateerrors.ErrNotFound) {
			return nil
		}
		return err
	}
	stage, _ := head.Metadata[MetaStage].(string)
	if settledStages[stage] {
		e.logger.Warn("resume refused, run already settled",
			"run_id", runID, "checkpoint_id", checkpointID, "stage", stage)
		return gateerrors.AlreadyResumed(checkpointID, runID, stage)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, st *state.WorkflowState, resumed bool) (*state.WorkflowState, error) {
	cfg := checkpoint.Config{ThreadID: st.RunID, Namespace: e.namespace}
	stage := e.graph.Entry(st)

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run.id", st.RunID),
		attribute.String("run.entry", string(stage)),
		attribute.Bool("run.resumed", resumed),
	))
	defer span.End()

	step := 0
	if resumed {
		step = e.lastStep(ctx, cfg)
	}

	logger := e.logger.With("run_id", st.RunID)
	logger.Info("run started", "entry", stage, "resumed", resumed)
	e.publisher.RunStarted(st.RunID, string(stage), resumed)

	last := stage
	for stage != workflow.End {
		if err := ctx.Err(); err != nil {
			return e.fail(span, st, stage, err)
		}
		step++
		if err := e.runStage(ctx, cfg, st, stage, step); err != nil {
			return e.fail(span, st, stage, err)
		}
		last = stage
		stage = e.graph.Next(stage, st)
	}

	span.SetAttributes(attribute.String("run.status", st.Status))
	if st.Checkpoint != nil && (st.Status == state.StatusPaused || st.Status == state.StatusWaitingHuman) {
		logger.Info("run paused for review", "status", st.Status,
			"checkpoint_id", st.Checkpoint.CheckpointID, "review_url", st.Checkpoint.ReviewURL)
		e.publisher.RunPaused(st.RunID, st.Checkpoint.CheckpointID)
		return st, nil
	}
	logger.Info("run finished", "last_stage", last, "status", st.Status)
	e.publisher.RunCompleted(st.RunID, string(last), st.Status)
	return st, nil
}

// runStage executes one handler and commits its update.
func (e *Engine) runStage(ctx context.Context, cfg checkpoint.Config, st *state.WorkflowState, stage workflow.StageID, step int) error {
	handler, ok := e.graph.Handler(stage)
	if !ok {
		return gateerrors.ConfigInvalid("stage", fmt.Sprintf("no handler bound for %s", stage))
	}

	ctx, span := e.tracer.Start(ctx, "stage."+string(stage), trace.WithAttributes(
		attribute.String("run.id", st.RunID),
		attribute.String("stage.id", string(stage)),
		attribute.Int("stage.step", step),
	))
	defer span.End()

	update, err := handler(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	state.Merge(st, update)

	id, err := e.log.Put(ctx, cfg, st, checkpoint.Metadata{
		MetaSource: SourceLoop,
		MetaStep:   step,
		MetaStage:  string(stage),
		MetaStatus: st.Status,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	touched := update.Touched()
	names := make([]string, 0, len(touched))
	if len(touched) > 0 {
		writes := make([]checkpoint.ChannelWrite, 0, len(touched))
		for _, ns := range touched {
			writes = append(writes, checkpoint.ChannelWrite{Channel: ns.Name, Value: ns.Value})
			names = append(names, ns.Name)
		}
		if err := e.log.PutWrites(ctx, cfg, id, string(stage), taskPath(stage, step), writes); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	span.SetAttributes(attribute.String("stage.status", st.Status), attribute.String("checkpoint.id", id))
	e.logger.Debug("stage committed",
		"run_id", st.RunID, "stage", stage, "step", step, "status", st.Status, "checkpoint_id", id, "namespaces", names)
	e.publisher.StageCompleted(st.RunID, events.StageUpdate{
		Stage:            string(stage),
		Step:             step,
		Status:           st.Status,
		ExecCheckpointID: id,
		Namespaces:       names,
	})
	return nil
}

func (e *Engine) fail(span trace.Span, st *state.WorkflowState, stage workflow.StageID, err error) (*state.WorkflowState, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Error("stage failed", "run_id", st.RunID, "stage", stage, "error", err)
	e.publisher.RunFailed(st.RunID, string(stage), err)
	return st, fmt.Errorf("run %s stage %s: %w", st.RunID, stage, err)
}

// lastStep returns the step number of the chain head, or 0 for a new chain.
func (e *Engine) lastStep(ctx context.Context, cfg checkpoint.Config) int {
	head, err := e.log.Get(ctx, cfg, "")
	if err != nil {
		return 0
	}
	n, _ := state.ToFloat(head.Metadata[MetaStep])
	return int(n)
}

func taskPath(stage workflow.StageID, step int) string {
	return fmt.Sprintf("%s:%d:%s", SourceLoop, step, stage)
}
