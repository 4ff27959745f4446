// Package events provides engine event types and publishing infrastructure.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventRunStarted indicates a run entered its first stage.
	EventRunStarted EventType = "run_started"
	// EventStageCompleted indicates a stage committed its update.
	EventStageCompleted EventType = "stage_completed"
	// EventRunPaused indicates a run stopped at the review gate.
	EventRunPaused EventType = "run_paused"
	// EventRunCompleted indicates a run reached a terminal stage.
	EventRunCompleted EventType = "run_completed"
	// EventRunFailed indicates a stage returned an error.
	EventRunFailed EventType = "run_failed"
	// EventDecisionApplied indicates a reviewer resolved a checkpoint.
	EventDecisionApplied EventType = "decision_applied"
)

// Event represents a published event.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	Data  any       `json:"data"`
	Time  time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, runID string, data any) Event {
	return Event{
		Type:  eventType,
		RunID: runID,
		Data:  data,
		Time:  time.Now(),
	}
}

// RunUpdate describes a run entering or leaving the engine.
type RunUpdate struct {
	Stage        string `json:"stage,omitempty"`
	Status       string `json:"status"`
	Resumed      bool   `json:"resumed,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// StageUpdate describes one committed stage.
type StageUpdate struct {
	Stage            string   `json:"stage"`
	Step             int      `json:"step"`
	Status           string   `json:"status"`
	ExecCheckpointID string   `json:"exec_checkpoint_id"`
	Namespaces       []string `json:"namespaces,omitempty"`
}

// FailureUpdate describes a stage error.
type FailureUpdate struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// DecisionUpdate describes a review decision.
type DecisionUpdate struct {
	CheckpointID string `json:"checkpoint_id"`
	Decision     string `json:"decision"`
	ReviewerID   string `json:"reviewer_id,omitempty"`
	NextStage    string `json:"next_stage"`
}
