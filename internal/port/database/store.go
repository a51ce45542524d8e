// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/mapcrew/tasking/internal/domain/project"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/domain/user"
)

// Store is the port interface for persistence. Every operation is atomic at
// the single-row level; there is no cross-task transaction, by design.
type Store interface {
	// Projects
	GetProject(ctx context.Context, id int64) (*project.Project, error)
	// SaveProjectCounters persists the counter fields with an optimistic
	// version check; a stale version returns domain.ErrConflict.
	SaveProjectCounters(ctx context.Context, p *project.Project) error

	// Users
	GetUser(ctx context.Context, id int64) (*user.User, error)
	SaveUserCounters(ctx context.Context, u *user.User) error
	HasAcceptedLicense(ctx context.Context, userID, licenseID int64) (bool, error)
	IsOnAllowList(ctx context.Context, projectID, userID int64) (bool, error)

	// Tasks
	GetTask(ctx context.Context, projectID int64, taskID int) (*task.Task, error)
	// SaveTask writes status, lock holder and attribution fields with an
	// optimistic version check; a stale version returns domain.ErrConflict.
	// This is the compare-and-set half of the locking discipline.
	SaveTask(ctx context.Context, t *task.Task) error
	CreateTasks(ctx context.Context, tasks []task.Task) ([]task.Task, error)
	ListTasksByStatus(ctx context.Context, projectID int64, st task.Status) ([]task.Task, error)
	ListExpiredLocks(ctx context.Context, lockedBefore time.Time) ([]task.Task, error)
	CountLockedByUser(ctx context.Context, userID int64) (int, error)

	// History ledger
	AppendHistory(ctx context.Context, e *task.HistoryEntry) error
	// GetLastStatus returns the ActionText of the most recent STATE_CHANGE
	// entry, or domain.ErrNotFound when the task has none yet.
	GetLastStatus(ctx context.Context, projectID int64, taskID int) (task.Status, error)
	GetHistory(ctx context.Context, projectID int64, taskID int) ([]task.HistoryEntry, error)
}
