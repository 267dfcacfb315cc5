package store

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a lookup for an unknown report, job, or document id.
// It is a user error: never retried, surfaced distinctly.
var ErrNotFound = errors.New("not found")

// ErrOverloaded is returned when the submission queue is at capacity.
var ErrOverloaded = errors.New("queue overloaded")

// ErrReadOnlyViolation is returned when executeQuery receives anything other
// than a single SELECT statement.
var ErrReadOnlyViolation = errors.New("only a single SELECT statement is allowed")

// InitializationError is fatal for the owning request: the store could not
// be opened and no fallback applied.
type InitializationError struct {
	Cause error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("store initialization failed: %v", e.Cause)
}

func (e *InitializationError) Unwrap() error { return e.Cause }

// DatabaseError wraps a root cause from the persistence layer.
type DatabaseError struct {
	Op    string
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Op, e.Cause)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

// RetryExhaustedError terminates an operation after the retry budget is
// spent, wrapping the last cause.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Cause }
