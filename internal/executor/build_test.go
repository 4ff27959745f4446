package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/events"
	"github.com/randalmurphal/invoicegate/internal/state"
)

func TestRuntime_DecideAndResume(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.rt.Engine.Start(ctx, invoicePayload(100, 60), "run_decide")
	require.NoError(t, err)
	chkID := st.Checkpoint.CheckpointID

	sub := f.pub.Subscribe("run_decide")
	out, err := f.rt.Decide(ctx, chkID, "accept", "ok", "rev-1", true)
	require.NoError(t, err)
	assert.Regexp(t, `^resume_[0-9a-f]{10}$`, out.ResumeToken)
	assert.Equal(t, "RECONCILE", out.NextStage)
	require.NoError(t, out.ResumeErr)
	require.NotNil(t, out.State)
	assert.Equal(t, state.StatusCompleted, out.State.Status)

	var decided *events.DecisionUpdate
	for len(sub) > 0 {
		ev := <-sub
		if ev.Type == events.EventDecisionApplied {
			d := ev.Data.(events.DecisionUpdate)
			decided = &d
		}
	}
	require.NotNil(t, decided)
	assert.Equal(t, chkID, decided.CheckpointID)
	assert.Equal(t, state.DecisionAccept, decided.Decision)
	assert.Equal(t, "rev-1", decided.ReviewerID)

	_, err = f.rt.Decide(ctx, chkID, "REJECT", "", "rev-2", true)
	assert.True(t, errors.Is(err, gateerrors.ErrAlreadyResolved))

	// The run already posted, so resuming the same checkpoint again is refused.
	_, err = f.rt.Engine.ResumeFromCheckpoint(ctx, chkID, "")
	assert.True(t, errors.Is(err, gateerrors.ErrAlreadyResolved))
	results, err := f.rt.Reviews.ListFinalResults(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRuntime_DecideWithoutResume(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.rt.Engine.Start(ctx, invoicePayload(100, 60), "run_noresume")
	require.NoError(t, err)

	out, err := f.rt.Decide(ctx, st.Checkpoint.CheckpointID, "REJECT", "", "rev-1", false)
	require.NoError(t, err)
	assert.Nil(t, out.State)
	assert.NoError(t, out.ResumeErr)

	status, err := f.rt.Reviews.GetStatus(ctx, st.Checkpoint.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, state.DecisionReject, status.Decision)
	assert.Equal(t, []string{
		"INTAKE", "UNDERSTAND", "PREPARE", "RETRIEVE", "MATCH_TWO_WAY", "CHECKPOINT_HITL",
	}, chainStages(t, f.rt.Log, "run_noresume"))
}

func TestRuntime_DecideUnknownCheckpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.rt.Decide(context.Background(), "chk_nope", "ACCEPT", "", "rev-1", true)
	assert.True(t, errors.Is(err, gateerrors.ErrNotFound))

	_, err = f.rt.Decide(context.Background(), "chk_nope", "MAYBE", "", "rev-1", true)
	assert.True(t, errors.Is(err, gateerrors.ErrInvalidDecision))
}
