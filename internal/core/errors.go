package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by mutations whose target does not exist or is not
	// visible to the caller. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when adding a handle that is already present.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict matches any *ConflictError.
	ErrConflict = errors.New("version conflict")
	// ErrStoreBusy means the writer lock could not be acquired in time. Retryable.
	ErrStoreBusy = errors.New("store busy")
	// ErrSchemaMismatch means the store was written by an incompatible schema.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrForbidden is returned for admin-only address book changes.
	ErrForbidden = errors.New("forbidden")
	// ErrReadOnly is returned for writes through a store opened read-only.
	ErrReadOnly = errors.New("store opened read-only")
	// ErrValidation matches any *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes malformed input rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when an update carries a stale expected version.
type ConflictError struct {
	Handle          string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, current %d", e.Handle, e.ExpectedVersion, e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsRetryable reports whether err is transient store contention.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreBusy)
}
