package events

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryPublisher_DeliversByRun(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher()
	defer p.Close()

	mine := p.Subscribe("run_a")
	other := p.Subscribe("run_b")
	global := p.Subscribe(GlobalRunID)

	p.Publish(NewEvent(EventRunStarted, "run_a", RunUpdate{Stage: "INTAKE"}))

	ev := receive(t, mine)
	assert.Equal(t, EventRunStarted, ev.Type)
	assert.Equal(t, "run_a", ev.RunID)

	ev = receive(t, global)
	assert.Equal(t, "run_a", ev.RunID)

	select {
	case ev := <-other:
		t.Fatalf("unexpected event for run_b: %+v", ev)
	default:
	}
}

func TestMemoryPublisher_FullBufferDropped(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()

	ch := p.Subscribe("run_a")
	p.Publish(NewEvent(EventStageCompleted, "run_a", StageUpdate{Step: 1}))
	p.Publish(NewEvent(EventStageCompleted, "run_a", StageUpdate{Step: 2}))

	ev := receive(t, ch)
	assert.Equal(t, 1, ev.Data.(StageUpdate).Step)
	assert.Empty(t, ch)
	assert.Equal(t, int64(1), p.Dropped())
}

func TestMemoryPublisher_UnsubscribeAndClose(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher()
	ch := p.Subscribe("run_a")
	require.Equal(t, 1, p.SubscriberCount("run_a"))

	p.Unsubscribe("run_a", ch)
	assert.Equal(t, 0, p.SubscriberCount("run_a"))
	_, ok := <-ch
	assert.False(t, ok)

	live := p.Subscribe("run_b")
	p.Close()
	_, ok = <-live
	assert.False(t, ok)

	// Subscribing after close yields a closed channel.
	_, ok = <-p.Subscribe("run_c")
	assert.False(t, ok)

	// Publishing after close is a no-op.
	p.Publish(NewEvent(EventRunStarted, "run_b", nil))
	p.Close()
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	p := NewNopPublisher()
	p.Publish(NewEvent(EventRunStarted, "run_a", nil))
	_, ok := <-p.Subscribe("run_a")
	assert.False(t, ok)
	p.Close()
}

func TestPublishHelper_NilSafe(t *testing.T) {
	t.Parallel()

	var nilHelper *PublishHelper
	nilHelper.RunStarted("run_a", "INTAKE", false)

	NewPublishHelper(nil).RunFailed("run_a", "MATCH_TWO_WAY", errors.New("boom"))
}

func TestPublishHelper_Events(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher()
	defer p.Close()
	ch := p.Subscribe("run_a")
	h := NewPublishHelper(p)

	h.RunStarted("run_a", "HITL_DECISION", true)
	ev := receive(t, ch)
	assert.Equal(t, EventRunStarted, ev.Type)
	assert.Equal(t, RunUpdate{Stage: "HITL_DECISION", Status: "running", Resumed: true}, ev.Data)

	h.StageCompleted("run_a", StageUpdate{Stage: "INTAKE", Step: 1, Status: "RUNNING"})
	ev = receive(t, ch)
	assert.Equal(t, EventStageCompleted, ev.Type)

	h.RunPaused("run_a", "chk_abc")
	ev = receive(t, ch)
	assert.Equal(t, EventRunPaused, ev.Type)
	assert.Equal(t, "chk_abc", ev.Data.(RunUpdate).CheckpointID)

	h.RunCompleted("run_a", "COMPLETE", "COMPLETED")
	ev = receive(t, ch)
	assert.Equal(t, "COMPLETED", ev.Data.(RunUpdate).Status)

	h.RunFailed("run_a", "RETRIEVE", errors.New("erp down"))
	ev = receive(t, ch)
	assert.Equal(t, FailureUpdate{Stage: "RETRIEVE", Error: "erp down"}, ev.Data)

	h.DecisionApplied("run_a", DecisionUpdate{CheckpointID: "chk_abc", Decision: "ACCEPT", NextStage: "RECONCILE"})
	ev = receive(t, ch)
	assert.Equal(t, EventDecisionApplied, ev.Type)
}

func TestCLIPublisher_Lines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	inner := NewMemoryPublisher()
	defer inner.Close()
	sub := inner.Subscribe("run_a")

	p := NewCLIPublisher(&buf, WithInnerPublisher(inner))
	h := NewPublishHelper(p)

	h.RunStarted("run_a", "INTAKE", false)
	h.StageCompleted("run_a", StageUpdate{Stage: "INTAKE", Step: 1, Status: "RUNNING"})
	h.RunPaused("run_a", "chk_abc")
	h.DecisionApplied("run_a", DecisionUpdate{CheckpointID: "chk_abc", Decision: "ACCEPT", ReviewerID: "rev-1"})
	h.RunFailed("run_a", "RETRIEVE", errors.New("erp down"))
	h.RunCompleted("run_a", "COMPLETE", "COMPLETED")

	out := buf.String()
	assert.Contains(t, out, "[run_a] started at INTAKE")
	assert.Contains(t, out, "INTAKE")
	assert.Contains(t, out, "-> RUNNING")
	assert.Contains(t, out, "paused for review (checkpoint chk_abc)")
	assert.Contains(t, out, "ACCEPT by rev-1 on chk_abc")
	assert.Contains(t, out, "failed at RETRIEVE: erp down")
	assert.Contains(t, out, "finished with status COMPLETED")

	// Events also reach the inner publisher.
	assert.Equal(t, EventRunStarted, receive(t, sub).Type)
}

func TestCLIPublisher_QuietMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewCLIPublisher(&buf, WithStreamMode(false))
	h := NewPublishHelper(p)

	h.StageCompleted("run_a", StageUpdate{Stage: "INTAKE", Step: 1, Status: "RUNNING"})
	assert.Empty(t, buf.String())

	h.RunCompleted("run_a", "COMPLETE", "COMPLETED")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	_, ok := <-p.Subscribe("run_a")
	assert.False(t, ok)
	p.Close()
}
