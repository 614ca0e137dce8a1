package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned when adding a service whose name is taken.
	ErrAlreadyExists = errors.New("service already exists")
	// ErrNotFound is returned when the named service is not in the catalog.
	ErrNotFound = errors.New("service not found")
	// ErrNoOpUpdate is returned when an update names no fields to change.
	ErrNoOpUpdate = errors.New("no updatable fields provided")
)

// ValidationError reports a malformed definition: a bad name, a missing
// required field, or a field that conflicts with the service kind.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid service definition: %s %s", e.Field, e.Reason)
}

// PersistenceError wraps a failed durable write. The in-memory mirror was
// left unchanged, so callers may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
