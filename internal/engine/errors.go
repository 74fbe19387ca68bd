package engine

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrStorage         = errors.New("storage error")
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("relationship not found")

	ErrNarrativeDisabled = errors.New("no narrative service configured")
	ErrBatchInProgress   = errors.New("narrative batch already running")
)

// StorageError reports a datastore failure. The operation was aborted and
// nothing was partially written; callers may drop the event or retry later.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Retryable is always true: the store is the single source of truth and
// every write is transactional.
func (e *StorageError) Retryable() bool { return true }

// ExternalServiceError reports a narrative or classifier call that failed,
// timed out, or returned unusable output.
type ExternalServiceError struct {
	Service string
	Agent   string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("%s service: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s service (%s): %v", e.Service, e.Agent, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// ValidationError reports a malformed interaction event. The event is
// dropped and counted, never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
