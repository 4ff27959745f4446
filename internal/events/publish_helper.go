package events

// PublishHelper wraps event publishing with nil-safety and convenience methods.
// All methods are safe to call even when the underlying publisher is nil.
type PublishHelper struct {
	publisher Publisher
}

// NewPublishHelper creates a new PublishHelper wrapping the given publisher.
// If p is nil, all publish operations become no-ops.
func NewPublishHelper(p Publisher) *PublishHelper {
	return &PublishHelper{publisher: p}
}

// Publish sends an event to the underlying publisher.
func (ep *PublishHelper) Publish(ev Event) {
	if ep == nil || ep.publisher == nil {
		return
	}
	ep.publisher.Publish(ev)
}

// RunStarted publishes a run start at the entry stage.
func (ep *PublishHelper) RunStarted(runID, entry string, resumed bool) {
	ep.Publish(NewEvent(EventRunStarted, runID, RunUpdate{
		Stage:   entry,
		Status:  "running",
		Resumed: resumed,
	}))
}

// StageCompleted publishes a committed stage.
func (ep *PublishHelper) StageCompleted(runID string, update StageUpdate) {
	ep.Publish(NewEvent(EventStageCompleted, runID, update))
}

// RunPaused publishes a run stopping at the review gate.
func (ep *PublishHelper) RunPaused(runID, checkpointID string) {
	ep.Publish(NewEvent(EventRunPaused, runID, RunUpdate{
		Status:       "PAUSED",
		CheckpointID: checkpointID,
	}))
}

// RunCompleted publishes the final status of a run.
func (ep *PublishHelper) RunCompleted(runID, lastStage, status string) {
	ep.Publish(NewEvent(EventRunCompleted, runID, RunUpdate{
		Stage:  lastStage,
		Status: status,
	}))
}

// RunFailed publishes a stage error.
func (ep *PublishHelper) RunFailed(runID, stage string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ep.Publish(NewEvent(EventRunFailed, runID, FailureUpdate{Stage: stage, Error: msg}))
}

// DecisionApplied publishes a resolved review.
func (ep *PublishHelper) DecisionApplied(runID string, update DecisionUpdate) {
	ep.Publish(NewEvent(EventDecisionApplied, runID, update))
}
