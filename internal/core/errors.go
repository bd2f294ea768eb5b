package core

import (
	"errors"
	"fmt"
)

var (
	// ErrBudgetNotFound is returned when a budget document does not exist.
	ErrBudgetNotFound = errors.New("budget not found")
)

// ValidationError reports malformed user input. It is handled at the
// allocation session boundary and never reaches a recalculation run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced entity that no longer exists. Missing
// categories and accounts inside a month are treated as zero-balance
// entities by the engine, not as fatal failures.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// PersistenceError wraps a failed read or write against the document store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
