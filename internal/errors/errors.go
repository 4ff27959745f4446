// Package errors provides structured error types for invoicegate.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for invoicegate.
const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeConfigInvalid     Code = "CONFIG_INVALID"
	CodeInvalidDecision   Code = "INVALID_DECISION"
	CodeAlreadyResolved   Code = "ALREADY_RESOLVED"
	CodePersistenceFailed Code = "PERSISTENCE_FAILED"
	CodeAbilityFailed     Code = "ABILITY_FAILED"
	CodeInvalidPayload    Code = "INVALID_PAYLOAD"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryUpstream
)

var codeCategories = map[Code]Category{
	CodeNotFound:          CategoryNotFound,
	CodeConfigInvalid:     CategoryBadRequest,
	CodeInvalidDecision:   CategoryBadRequest,
	CodeInvalidPayload:    CategoryBadRequest,
	CodeAlreadyResolved:   CategoryConflict,
	CodePersistenceFailed: CategoryInternal,
	CodeAbilityFailed:     CategoryUpstream,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryUpstream:
		return 502
	default:
		return 500
	}
}

// GateError is the structured error type for invoicegate.
type GateError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *GateError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *GateError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *GateError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *GateError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *GateError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *GateError) MarshalJSON() ([]byte, error) {
	type alias GateError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a GateError with the same code.
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is comparisons; only Code is compared.
var (
	ErrNotFound          = &GateError{Code: CodeNotFound}
	ErrConfig            = &GateError{Code: CodeConfigInvalid}
	ErrInvalidDecision   = &GateError{Code: CodeInvalidDecision}
	ErrAlreadyResolved   = &GateError{Code: CodeAlreadyResolved}
	ErrPersistenceFailed = &GateError{Code: CodePersistenceFailed}
	ErrAbilityFailed     = &GateError{Code: CodeAbilityFailed}
	ErrInvalidPayload    = &GateError{Code: CodeInvalidPayload}
)

// --- Error constructors ---

// NotFound returns an error for a missing checkpoint, run, or record.
func NotFound(kind, id string) *GateError {
	return &GateError{
		Code: CodeNotFound,
		What: fmt.Sprintf("%s %s not found", kind, id),
		Fix:  "Run 'invoicegate pending' to list checkpoints awaiting review",
	}
}

// ConfigInvalid returns an error for invalid configuration.
func ConfigInvalid(field, reason string) *GateError {
	return &GateError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check the workflow definition and tool pools configuration",
	}
}

// InvalidDecision returns an error for a decision other than ACCEPT or REJECT.
func InvalidDecision(decision string) *GateError {
	return &GateError{
		Code: CodeInvalidDecision,
		What: fmt.Sprintf("invalid decision %q", decision),
		Why:  "decision must be ACCEPT or REJECT",
	}
}

// AlreadyResolved returns an error when a review checkpoint has been decided.
func AlreadyResolved(id, decision string) *GateError {
	return &GateError{
		Code: CodeAlreadyResolved,
		What: fmt.Sprintf("checkpoint %s is already resolved", id),
		Why:  fmt.Sprintf("recorded decision is %s", decision),
		Fix:  "Run 'invoicegate history <run-id>' to see how the run continued",
	}
}

// AlreadyResumed returns an error when a run has already moved past the
// review gate it paused at.
func AlreadyResumed(checkpointID, runID, stage string) *GateError {
	return &GateError{
		Code: CodeAlreadyResolved,
		What: fmt.Sprintf("run %s already continued past checkpoint %s", runID, checkpointID),
		Why:  fmt.Sprintf("last committed stage is %s", stage),
		Fix:  fmt.Sprintf("Run 'invoicegate history %s' to see the committed stages", runID),
	}
}

// InvalidPayload returns an error for a rejected invoice payload.
func InvalidPayload(reason string) *GateError {
	return &GateError{
		Code: CodeInvalidPayload,
		What: "invalid invoice payload",
		Why:  reason,
	}
}

// Persistence wraps a store failure.
func Persistence(op string, err error) *GateError {
	return &GateError{
		Code:  CodePersistenceFailed,
		What:  op,
		Cause: err,
	}
}

// Ability wraps an ability provider failure.
func Ability(server, ability string, err error) *GateError {
	return &GateError{
		Code:  CodeAbilityFailed,
		What:  fmt.Sprintf("ability %s on %s failed", ability, server),
		Cause: err,
	}
}

// AsGateError attempts to convert an error to a GateError.
// Returns nil if the error is not a GateError.
func AsGateError(err error) *GateError {
	var gateErr *GateError
	if stderrors.As(err, &gateErr) {
		return gateErr
	}
	return nil
}
