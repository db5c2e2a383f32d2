package domain

import "fmt"

// ValidationError reports bad caller input (size ceiling, type allow-list,
// malformed file name). Never retried internally.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports an illegal lifecycle transition. The caller must
// re-query state before retrying.
type InvalidStateError struct {
	From State
	Op   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s asset in state %s", e.Op, e.From)
}

// NotFoundError reports a missing asset record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return "asset not found: " + e.ID }

// ConflictError reports a lost optimistic-concurrency race on an asset
// record. The caller should re-read and retry.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string { return "asset update conflict: " + e.ID }

// UnsupportedMediaError reports a source object that could not be decoded as
// an image. Recorded as a Failed derivative state, never retried.
type UnsupportedMediaError struct {
	Key string
	Err error
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported media %s: %v", e.Key, e.Err)
}

func (e *UnsupportedMediaError) Unwrap() error { return e.Err }

// TransientStorageError wraps an object-store I/O failure that is safe to
// retry from the caller's side.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// TimeoutError reports derivative generation exceeding its deadline.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return "timeout: " + e.Op }
