package engine

import (
	"errors"
	"fmt"
	"strings"

	"sourceline/internal/repo"
)

// ValidationError marks malformed input caught before any mutation.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError marks an absent RFQ or Bid reference.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

// Is lets callers match the underlying repo sentinel too.
func (e NotFoundError) Is(target error) bool { return target == repo.ErrNotFound }

func notFound(entity, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Entity: entity, ID: id}
	}
	return storeErr("get "+entity, err)
}

// ConflictError marks an invariant that blocked the operation. Invariant
// names which one; the message is returned to the caller verbatim.
type ConflictError struct {
	Invariant string
	Msg       string
}

func (e ConflictError) Error() string { return e.Msg }

func conflict(invariant, format string, args ...any) error {
	return ConflictError{Invariant: invariant, Msg: fmt.Sprintf(format, args...)}
}

// StoreError marks a persistence failure. Retryable failures are transient
// lock contention; the rest escalate to the caller.
type StoreError struct {
	Op        string
	Err       error
	Retryable bool
	// Fatal marks a failure after the retry budget is spent on a
	// multi-step sequence; it requires external reconciliation.
	Fatal bool
}

func (e StoreError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("store failure during %s (reconciliation required): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store failure during %s: %v", e.Op, e.Err)
}

func (e StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return StoreError{Op: op, Err: err, Retryable: isRetryable(err)}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
