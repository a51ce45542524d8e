package task

import (
	"errors"
	"fmt"
)

// Event names a lifecycle operation applied to a task.
type Event string

const (
	EventLockForMapping        Event = "lock_for_mapping"
	EventUnlockAfterMapping    Event = "unlock_after_mapping"
	EventLockForValidation     Event = "lock_for_validation"
	EventUnlockAfterValidation Event = "unlock_after_validation"
	EventResetLock             Event = "reset_lock"
	EventSplit                 Event = "split"
)

// ErrInvalidTransition is the sentinel matched by errors.Is for any
// InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

// InvalidTransitionError reports an operation whose required source status
// or target status does not match the task's actual state.
type InvalidTransitionError struct {
	TaskID    int
	ProjectID int64
	From      Status
	Event     Event
	Target    Status // zero when the source status itself is illegal
}

func (e *InvalidTransitionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("task %d/%d: %s from %s to %s is not a legal transition",
			e.ProjectID, e.TaskID, e.Event, e.From, e.Target)
	}
	return fmt.Sprintf("task %d/%d: %s is not legal from status %s",
		e.ProjectID, e.TaskID, e.Event, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// lockSources maps each lock event to the statuses it may be applied from.
var lockSources = map[Event]map[Status]struct{}{
	EventLockForMapping: {
		StatusReady:       {},
		StatusInvalidated: {},
		StatusBadImagery:  {},
	},
	EventLockForValidation: {
		StatusMapped:      {},
		StatusInvalidated: {},
		StatusBadImagery:  {},
	},
}

// unlockTargets maps each unlock event to its legal resulting statuses.
// Out-of-range targets fail before any mutation.
var unlockTargets = map[Event]map[Status]struct{}{
	EventUnlockAfterMapping: {
		StatusMapped:     {},
		StatusBadImagery: {},
		StatusReady:      {},
	},
	EventUnlockAfterValidation: {
		StatusValidated:   {},
		StatusInvalidated: {},
	},
}

// lockedState maps each unlock event to the lock status it releases.
var lockedState = map[Event]Status{
	EventUnlockAfterMapping:    StatusLockedForMapping,
	EventUnlockAfterValidation: StatusLockedForValidation,
}

// CanLock reports whether ev (a lock event) may be applied to a task
// currently in status from.
func CanLock(ev Event, from Status) bool {
	_, ok := lockSources[ev][from]
	return ok
}

// CheckUnlock validates an unlock event against the task's current status and
// the requested target status.
func CheckUnlock(t *Task, ev Event, target Status) error {
	if t.Status != lockedState[ev] {
		return &InvalidTransitionError{TaskID: t.ID, ProjectID: t.ProjectID, From: t.Status, Event: ev}
	}
	if _, ok := unlockTargets[ev][target]; !ok {
		return &InvalidTransitionError{TaskID: t.ID, ProjectID: t.ProjectID, From: t.Status, Event: ev, Target: target}
	}
	return nil
}

// Splittable reports whether a task may be split into four children.
// Any non-locked, non-removed task qualifies (legacy grid projects only;
// the project-level gate lives with the caller).
func Splittable(s Status) bool {
	return !s.Locked() && s != StatusRemoved
}

// SplitChildren returns the four READY child tasks of parent at zoom+1.
// Child ids are assigned by the store; geometry generation is outside the
// lifecycle engine, so children carry no geometry here.
func SplitChildren(parent *Task) []Task {
	children := make([]Task, 0, 4)
	for dx := range 2 {
		for dy := range 2 {
			children = append(children, Task{
				ProjectID: parent.ProjectID,
				Status:    StatusReady,
				Zoom:      parent.Zoom + 1,
				X:         parent.X*2 + dx,
				Y:         parent.Y*2 + dy,
			})
		}
	}
	return children
}
