// Package stats computes the counter deltas implied by a task transition.
//
// The functions here are pure: they take counter snapshots and return new
// ones. Loading and persisting the aggregates is the caller's concern.
package stats

import (
	"github.com/mapcrew/tasking/internal/domain/project"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/domain/user"
)

// Action distinguishes a forward transition from the reversal of one.
type Action string

const (
	// ActionChange is a user actively producing the new status.
	ActionChange Action = "change"
	// ActionUndo reverses a prior transition; user deltas apply to the user
	// whose action is being undone, not to the actor performing the undo.
	ActionUndo Action = "undo"
)

// Apply returns the project and user counters after a transition from last to
// next. Project counters always move with the statuses entered and left; user
// counters move forward on a change and backward on an undo. A transition to
// the same status is a no-op.
func Apply(pc project.Counters, uc user.Counters, last, next task.Status, action Action) (project.Counters, user.Counters) {
	if next == last {
		return pc, uc
	}

	switch next {
	case task.StatusMapped:
		pc.Mapped++
	case task.StatusValidated:
		pc.Validated++
	case task.StatusBadImagery:
		pc.BadImagery++
	}

	if action == ActionChange {
		switch next {
		case task.StatusMapped:
			uc.Mapped++
		case task.StatusValidated:
			uc.Validated++
		case task.StatusInvalidated:
			uc.Invalidated++
		}
	}

	switch last {
	case task.StatusMapped:
		pc.Mapped--
	case task.StatusValidated:
		pc.Validated--
	case task.StatusBadImagery:
		pc.BadImagery--
	}

	if action == ActionUndo {
		switch last {
		case task.StatusMapped:
			uc.Mapped--
		case task.StatusValidated:
			uc.Validated--
		case task.StatusInvalidated:
			uc.Invalidated--
		}
	}

	return pc, uc
}
