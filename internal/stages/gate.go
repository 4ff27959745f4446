package stages

import (
	"context"
	"fmt"

	"github.com/randalmurphal/invoicegate/internal/review"
	"github.com/randalmurphal/invoicegate/internal/state"
	"github.com/randalmurphal/invoicegate/internal/tools"
	"github.com/randalmurphal/invoicegate/internal/workflow"
)

// CheckpointHITL parks the run in the review queue. Entering the gate always
// pauses: either the match failed or the gate's trigger condition held.
func (s *Stages) CheckpointHITL(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	stage := workflow.StageCheckpointHITL
	if s.reviews == nil {
		return u, fmt.Errorf("%s: no review store configured", stage)
	}
	if err := s.selectTool(&u, stage, tools.CapDB, st); err != nil {
		return u, err
	}

	cp := &state.Checkpoint{
		CheckpointID: review.NewCheckpointID(),
		ReviewURL:    s.ReviewURL(),
		PausedReason: s.pauseReason(st),
	}
	snapshot, err := st.Clone()
	if err != nil {
		return u, fmt.Errorf("snapshot state: %w", err)
	}
	snapshot.Checkpoint = cp
	snapshot.Status = state.StatusPaused

	req := review.SaveRequest{
		ID:         cp.CheckpointID,
		State:      snapshot,
		Reason:     cp.PausedReason,
		ReviewURL:  cp.ReviewURL,
		InvoiceID:  st.PayloadString("invoice_id"),
		VendorName: st.PayloadString("vendor_name"),
	}
	if f, ok := state.ToFloat(st.InputPayload["amount"]); ok {
		req.Amount = &f
	}
	if _, err := s.reviews.SaveCheckpoint(ctx, req); err != nil {
		return u, err
	}

	u.Log(string(stage), ActionCheckpoint, map[string]any{
		"checkpoint_id": cp.CheckpointID,
		"review_url":    cp.ReviewURL,
		"paused_reason": cp.PausedReason,
	})
	u.Checkpoint = cp
	s.logger.Info("run paused for review", "run_id", st.RunID, "checkpoint_id", cp.CheckpointID, "reason", cp.PausedReason)
	return u.WithStatus(state.StatusPaused), nil
}

// pauseReason names what sent the run to review.
func (s *Stages) pauseReason(st *state.WorkflowState) string {
	if st.Match != nil && st.Match.MatchResult == state.MatchFailed {
		return PausedReason
	}
	if s.gateTrigger != "" {
		return TriggerReasonPrefix + s.gateTrigger
	}
	return ManualReviewReason
}

// HITLDecision reads the reviewer's decision for the run's checkpoint.
func (s *Stages) HITLDecision(ctx context.Context, st *state.WorkflowState) (state.Update, error) {
	var u state.Update
	if st.Checkpoint == nil || st.Checkpoint.CheckpointID == "" {
		u.Human = &state.Human{Decision: state.DecisionUnknown, NextStage: review.NextManualHandoff}
		return u.WithStatus(state.StatusRequiresManualHandling), nil
	}
	if s.reviews == nil {
		return u, fmt.Errorf("%s: no review store configured", workflow.StageHITLDecision)
	}

	status, err := s.reviews.GetStatus(ctx, st.Checkpoint.CheckpointID)
	if err != nil {
		return u, err
	}
	if status.Decision == "" {
		u.Human = &state.Human{Decision: state.DecisionPending, NextStage: NextWaiting}
		return u.WithStatus(state.StatusWaitingHuman), nil
	}

	human := &state.Human{
		Decision:    status.Decision,
		ReviewerID:  status.ReviewerID,
		ResumeToken: status.ResumeToken,
	}
	var next string
	switch status.Decision {
	case state.DecisionAccept:
		human.NextStage = review.NextReconcile
		next = state.StatusResumeReconcile
	case state.DecisionReject:
		human.NextStage = review.NextManualHandoff
		next = state.StatusRequiresManualHandling
	default:
		human.NextStage = NextWaiting
		next = state.StatusWaitingHuman
	}
	u.Log(string(workflow.StageHITLDecision), ActionDecision, map[string]any{
		"human_decision": human.Decision,
		"reviewer_id":    human.ReviewerID,
		"resume_token":   human.ResumeToken,
		"next_stage":     human.NextStage,
	})
	u.Human = human
	return u.WithStatus(next), nil
}
