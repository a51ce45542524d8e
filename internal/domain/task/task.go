// Package task defines the Task domain entity and its lifecycle.
package task

import (
	"encoding/json"
	"time"
)

// Status represents the current lifecycle state of a task.
type Status string

const (
	StatusReady               Status = "READY"
	StatusLockedForMapping    Status = "LOCKED_FOR_MAPPING"
	StatusMapped              Status = "MAPPED"
	StatusLockedForValidation Status = "LOCKED_FOR_VALIDATION"
	StatusValidated           Status = "VALIDATED"
	StatusInvalidated         Status = "INVALIDATED"
	StatusBadImagery          Status = "BADIMAGERY"
	StatusRemoved             Status = "REMOVED"
)

// Locked reports whether the status is one of the two lock-holding states.
func (s Status) Locked() bool {
	return s == StatusLockedForMapping || s == StatusLockedForValidation
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusLockedForMapping, StatusMapped,
		StatusLockedForValidation, StatusValidated, StatusInvalidated,
		StatusBadImagery, StatusRemoved:
		return true
	}
	return false
}

// Task is the smallest unit of mapping/validation work. It is identified by
// (ProjectID, ID); the ID is unique only within its project. Geometry is
// opaque to the lifecycle engine.
type Task struct {
	ID          int             `json:"id"`
	ProjectID   int64           `json:"project_id"`
	Status      Status          `json:"status"`
	LockedBy    *int64          `json:"locked_by,omitempty"`
	MappedBy    *int64          `json:"mapped_by,omitempty"`
	ValidatedBy *int64          `json:"validated_by,omitempty"`
	Zoom        int             `json:"zoom"`
	X           int             `json:"x"`
	Y           int             `json:"y"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LockConsistent reports the core invariant: LockedBy is set iff the task is
// in a locked status.
func (t *Task) LockConsistent() bool {
	return (t.LockedBy != nil) == t.Status.Locked()
}

// HeldBy reports whether userID currently holds the lock on t.
func (t *Task) HeldBy(userID int64) bool {
	return t.LockedBy != nil && *t.LockedBy == userID
}
