// Package state defines the WorkflowState carried through an invoice run.
//
// A state is a set of independently owned namespaces. Each stage returns an
// Update naming only the namespaces it writes; Merge replaces those wholesale
// and leaves the rest untouched.
package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Status values written by the built-in stages. Status is a free-form tag,
// so handlers may set others.
const (
	StatusNew                    = "NEW"
	StatusIngested               = "INGESTED"
	StatusUnderstood             = "UNDERSTOOD"
	StatusPrepared               = "PREPARED"
	StatusRetrieved              = "RETRIEVED"
	StatusMatched                = "MATCHED"
	StatusMismatch               = "MISMATCH"
	StatusPaused                 = "PAUSED"
	StatusWaitingHuman           = "WAITING_HUMAN"
	StatusResumeReconcile        = "RESUME_RECONCILE"
	StatusRequiresManualHandling = "REQUIRES_MANUAL_HANDLING"
	StatusReconciled             = "RECONCILED"
	StatusApproved               = "APPROVED"
	StatusPosted                 = "POSTED"
	StatusNotified               = "NOTIFIED"
	StatusCompleted              = "COMPLETED"
)

// DefaultWorkflowName is used when a definition does not name itself.
const DefaultWorkflowName = "InvoiceProcessing"

// LogEntry is one audit record appended by a stage.
type LogEntry struct {
	Stage  string         `json:"stage"`
	Action string         `json:"action"`
	Detail map[string]any `json:"detail"`
}

// WorkflowState is the full state of one run.
type WorkflowState struct {
	RunID        string         `json:"run_id"`
	WorkflowName string         `json:"workflow_name"`
	Config       map[string]any `json:"config"`
	Status       string         `json:"status"`
	ResumeFrom   string         `json:"resume_from,omitempty"`
	InputPayload map[string]any `json:"input_payload"`
	Logs         []LogEntry     `json:"logs"`

	Raw        *Raw        `json:"raw,omitempty"`
	Parsed     *Parsed     `json:"parsed,omitempty"`
	Vendor     *Vendor     `json:"vendor,omitempty"`
	Flags      *Flags      `json:"flags,omitempty"`
	Retrieved  *Retrieved  `json:"retrieved,omitempty"`
	Match      *Match      `json:"match,omitempty"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
	Human      *Human      `json:"human,omitempty"`
	Reconcile  *Reconcile  `json:"reconcile,omitempty"`
	Approval   *Approval   `json:"approval,omitempty"`
	Posting    *Posting    `json:"posting,omitempty"`
	Notify     *Notify     `json:"notify,omitempty"`
	Final      *Final      `json:"final,omitempty"`
}

// New creates the initial state for a run. An empty runID gets a fresh one.
func New(runID, workflowName string, config, payload map[string]any) *WorkflowState {
	if runID == "" {
		runID = NewRunID()
	}
	if workflowName == "" {
		workflowName = DefaultWorkflowName
	}
	cfg := make(map[string]any, len(config))
	for k, v := range config {
		cfg[k] = v
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &WorkflowState{
		RunID:        runID,
		WorkflowName: workflowName,
		Config:       cfg,
		Status:       StatusNew,
		InputPayload: payload,
		Logs:         []LogEntry{},
	}
}

// NewRunID returns "run_" followed by 10 hex characters.
func NewRunID() string {
	return "run_" + HexID(10)
}

// HexID returns n lowercase hex characters from a random UUID (n <= 32).
func HexID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// Marshal serializes the state to JSON.
func (s *WorkflowState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal parses a JSON state snapshot.
func Unmarshal(data []byte) (*WorkflowState, error) {
	var s WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode workflow state: %w", err)
	}
	if s.Logs == nil {
		s.Logs = []LogEntry{}
	}
	return &s, nil
}

// Clone returns a deep copy via a JSON round trip.
func (s *WorkflowState) Clone() (*WorkflowState, error) {
	data, err := s.Marshal()
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Payload helpers. Input payloads are free-form JSON objects.

// PayloadString returns a string field of the input payload, or "".
func (s *WorkflowState) PayloadString(key string) string {
	if v, ok := s.InputPayload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadAmount returns the invoice amount, or 0 if absent or not numeric.
func (s *WorkflowState) PayloadAmount() float64 {
	f, _ := ToFloat(s.InputPayload["amount"])
	return f
}

// ConfigFloat reads a numeric workflow config value with a default.
func (s *WorkflowState) ConfigFloat(key string, def float64) float64 {
	if f, ok := ToFloat(s.Config[key]); ok {
		return f
	}
	return def
}

// ToFloat converts JSON-ish numeric values.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
