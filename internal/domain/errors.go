// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrOwnership indicates the caller is not the current lock holder.
var ErrOwnership = errors.New("ownership violation: caller does not hold the lock")

// Reason enumerates the permission denial codes surfaced to the API layer.
type Reason string

const (
	ReasonNotAcceptedLicense   Reason = "NOT_ACCEPTED_LICENSE"
	ReasonNotOnAllowedList     Reason = "NOT_ON_ALLOWED_LIST"
	ReasonProjectNotPublished  Reason = "PROJECT_NOT_PUBLISHED"
	ReasonAlreadyHasTaskLocked Reason = "ALREADY_HAS_TASK_LOCKED"
	ReasonNotValidator         Reason = "NOT_VALIDATOR"
	ReasonInsufficientRole     Reason = "INSUFFICIENT_ROLE"
)

// ErrPermissionDenied is the sentinel matched by errors.Is for any
// PermissionError, regardless of reason.
var ErrPermissionDenied = errors.New("permission denied")

// PermissionError carries the reason code for a denied operation.
type PermissionError struct {
	Reason Reason
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Denied builds a PermissionError for the given reason.
func Denied(reason Reason) error {
	return &PermissionError{Reason: reason}
}
