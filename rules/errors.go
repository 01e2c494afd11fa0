package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidType is matched by every *TypeError
	ErrInvalidType = errors.New("invalid evaluation field type")

	// ErrInvalidRule is matched by every *ValidationError
	ErrInvalidRule = errors.New("element does not implement Rule")

	// ErrNilEvaluation is returned when a rule reports no error but also no evaluation
	ErrNilEvaluation = errors.New("rule returned a nil evaluation")

	// ErrRuleNotFound indicates a rule definition does not exist
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleExists indicates a rule definition with the same ID already exists
	ErrRuleExists = errors.New("rule already exists")
)

// TypeError is returned when an Evaluation is built from a mapping holding a
// wrongly typed value for a recognized field
type TypeError struct {
	Field string
	Want  string
	Got   any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("evaluation field %q must be %s, got %T", e.Field, e.Want, e.Got)
}

func (e *TypeError) Unwrap() error {
	return ErrInvalidType
}

// ValidationError is returned by the driver when an element of the rule list is not a usable Rule
type ValidationError struct {
	Index   int
	Element any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule list element %d (%T): %v", e.Index, e.Element, ErrInvalidRule)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRule
}

// CompileError wraps a CEL compilation failure for a rule definition
type CompileError struct {
	RuleID string
	Cause  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %s: compile error: %v", e.RuleID, e.Cause)
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}
