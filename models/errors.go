// models/errors.go
package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups by id when no property exists.
	ErrNotFound = errors.New("property not found")
	// ErrConflict means another writer saved the same identity key first.
	ErrConflict = errors.New("concurrent write conflict")
)

// ValidationError is returned by the normalizer when a record cannot be identified.
// Callers skip the record and continue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// ConflictRetryError is returned when a record still conflicts after its single retry.
type ConflictRetryError struct {
	Key IdentityKey
	Err error
}

func (e *ConflictRetryError) Error() string {
	return fmt.Sprintf("conflict persisted after retry for %s: %v", e.Key, e.Err)
}

func (e *ConflictRetryError) Unwrap() error { return e.Err }

// RepositoryUnavailableError wraps any storage fault. It is never retried by the engine.
type RepositoryUnavailableError struct {
	Op  string
	Err error
}

func (e *RepositoryUnavailableError) Error() string {
	return fmt.Sprintf("repository unavailable (%s): %v", e.Op, e.Err)
}

func (e *RepositoryUnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as a RepositoryUnavailableError unless it is nil or already one.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ru *RepositoryUnavailableError
	if errors.As(err, &ru) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &RepositoryUnavailableError{Op: op, Err: err}
}
