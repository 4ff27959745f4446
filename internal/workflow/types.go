// Package workflow defines the invoice stage pipeline and compiles a
// workflow definition into a routing table.
package workflow

import (
	"context"
	"fmt"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// StageID names one stage of the invoice pipeline.
type StageID string

// Built-in stages, in default order.
const (
	StageIntake         StageID = "INTAKE"
	StageUnderstand     StageID = "UNDERSTAND"
	StagePrepare        StageID = "PREPARE"
	StageRetrieve       StageID = "RETRIEVE"
	StageMatchTwoWay    StageID = "MATCH_TWO_WAY"
	StageCheckpointHITL StageID = "CHECKPOINT_HITL"
	StageHITLDecision   StageID = "HITL_DECISION"
	StageReconcile      StageID = "RECONCILE"
	StageApprove        StageID = "APPROVE"
	StagePosting        StageID = "POSTING"
	StageNotify         StageID = "NOTIFY"
	StageComplete       StageID = "COMPLETE"
)

// End is returned by Next when the current invocation stops.
const End StageID = ""

var defaultOrder = []StageID{
	StageIntake,
	StageUnderstand,
	StagePrepare,
	StageRetrieve,
	StageMatchTwoWay,
	StageCheckpointHITL,
	StageHITLDecision,
	StageReconcile,
	StageApprove,
	StagePosting,
	StageNotify,
	StageComplete,
}

// DefaultStages returns the built-in stage order.
func DefaultStages() []StageID {
	out := make([]StageID, len(defaultOrder))
	copy(out, defaultOrder)
	return out
}

// Valid reports whether id is a built-in stage.
func (id StageID) Valid() bool {
	for _, s := range defaultOrder {
		if s == id {
			return true
		}
	}
	return false
}

func (id StageID) String() string { return string(id) }

// Handler runs one stage and returns the namespaces it wrote.
type Handler func(ctx context.Context, st *state.WorkflowState) (state.Update, error)

// StageDef is one entry of a workflow definition.
type StageDef struct {
	ID               StageID `json:"id" yaml:"id"`
	Description      string  `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerCondition string  `json:"trigger_condition,omitempty" yaml:"trigger_condition,omitempty"`
}

// Definition is the workflow document: stage order, handler config and
// the ability-to-server map.
type Definition struct {
	WorkflowName string            `json:"workflow_name" yaml:"workflow_name"`
	Stages       []StageDef        `json:"stages" yaml:"stages"`
	Config       map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
	AbilityMap   map[string]string `json:"ability_map,omitempty" yaml:"ability_map,omitempty"`
}

// Config keys read by the match stage.
const (
	ConfigTolerancePct   = "two_way_tolerance_pct"
	ConfigMatchThreshold = "match_threshold"
)

// Default match settings.
const (
	DefaultTolerancePct   = 5.0
	DefaultMatchThreshold = 0.9
)

// DefaultGateTrigger pauses the run when the two-way match failed.
const DefaultGateTrigger = "match_result == 'FAILED'"

// DefaultDefinition returns the built-in invoice workflow.
func DefaultDefinition() Definition {
	stages := make([]StageDef, 0, len(defaultOrder))
	for _, id := range defaultOrder {
		sd := StageDef{ID: id}
		if id == StageCheckpointHITL {
			sd.TriggerCondition = DefaultGateTrigger
		}
		stages = append(stages, sd)
	}
	return Definition{
		WorkflowName: state.DefaultWorkflowName,
		Stages:       stages,
		Config: map[string]any{
			ConfigTolerancePct:   DefaultTolerancePct,
			ConfigMatchThreshold: DefaultMatchThreshold,
		},
		AbilityMap: map[string]string{},
	}
}

// StageIDs returns the declared stage ids, or the default order when the
// definition declares none.
func (d Definition) StageIDs() []StageID {
	var ids []StageID
	for _, s := range d.Stages {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return DefaultStages()
	}
	return ids
}

// Stage returns the declaration for id.
func (d Definition) Stage(id StageID) (StageDef, bool) {
	for _, s := range d.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageDef{}, false
}

// Validate checks stage ids for unknown names and duplicates.
func (d Definition) Validate() error {
	seen := make(map[StageID]bool)
	for i, s := range d.Stages {
		if s.ID == "" {
			continue
		}
		if !s.ID.Valid() {
			return gateerrors.ConfigInvalid(fmt.Sprintf("stages[%d].id", i), fmt.Sprintf("unknown stage %q", s.ID))
		}
		if seen[s.ID] {
			return gateerrors.ConfigInvalid(fmt.Sprintf("stages[%d].id", i), fmt.Sprintf("stage %q declared twice", s.ID))
		}
		seen[s.ID] = true
	}
	return nil
}
