// Package errs provides the structured error kinds used throughout planscope.
// Errors preserve message and causal context while still implementing the
// standard error interface, so callers can use errors.Is/errors.As across
// wrapped chains the way they would with stdlib errors.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a planscope error so callers can branch on failure category
// without parsing message text.
type Kind string

const (
	// PlanGeneration covers any failure in PlanGenerator.GeneratePlan that is
	// not more specifically classified below.
	PlanGeneration Kind = "plan_generation"
	// PlanParsing covers malformed plan JSON structure.
	PlanParsing Kind = "plan_parsing"
	// PlanValidation covers a structurally valid plan that violates an
	// invariant (dense step IDs, acyclic graph, reference ordering).
	PlanValidation Kind = "plan_validation"
	// PlanExecution covers a failure raised while executing a step.
	PlanExecution Kind = "plan_execution"
	// ToolNotFound is raised when a plan references a tool absent from the
	// registry at execution time.
	ToolNotFound Kind = "tool_not_found"
	// DependencyError covers cycles or dangling dependency references.
	DependencyError Kind = "dependency_error"
	// VariableResolution covers a failed {{steps.N.field}} resolution.
	VariableResolution Kind = "variable_resolution"
	// ACEContext covers a failure in ContextManager retrieval or retention.
	ACEContext Kind = "ace_context"
	// ACEReflection covers a failure in the Reflector.
	ACEReflection Kind = "ace_reflection"
	// ACECuration covers a failure in the Curator.
	ACECuration Kind = "ace_curation"
	// TaskMatching covers a failure in TaskMatcher lookups.
	TaskMatching Kind = "task_matching"
	// ModelClientErr covers a failure at the ModelClient boundary, including
	// JSON-repair exhaustion.
	ModelClientErr Kind = "model_client"
	// Cancelled indicates the caller's context was cancelled.
	Cancelled Kind = "cancelled"
	// Timeout indicates a suspension point exceeded its deadline.
	Timeout Kind = "timeout"
)

// Error is the structured error type returned by planscope components. It
// carries a Kind for classification, a human Message, an optional Cause for
// chaining, and kind-specific fields (StepID, ExecutedSteps) that callers may
// inspect after a type assertion or errors.As.
type Error struct {
	Kind Kind
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying error, preserved across wrapping so
	// errors.Is/As continue to work through Unwrap.
	Cause error
	// StepID identifies the step that failed, when Kind is PlanExecution,
	// ToolNotFound, VariableResolution, or DependencyError. Zero if not
	// applicable.
	StepID int
	// ExecutedSteps lists the step IDs that completed before the failure,
	// populated for PlanExecution and Cancelled errors so callers can
	// display partial progress.
	ExecutedSteps []int
}

// New constructs an Error of the given kind with the provided message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf formats according to a format specifier and returns an Error of the
// given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that chains an underlying cause.
// If message is empty, the cause's message is reused.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithStep attaches a step ID to the error and returns it for chaining.
func (e *Error) WithStep(stepID int) *Error {
	e.StepID = stepID
	return e
}

// WithExecuted attaches the list of steps executed before failure.
func (e *Error) WithExecuted(stepIDs []int) *Error {
	e.ExecutedSteps = stepIDs
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause to support errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, enabling
// errors.Is(err, errs.New(errs.ToolNotFound, "")) style kind checks.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error. The
// boolean is false when err does not carry a planscope error kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
