package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	taskotel "github.com/mapcrew/tasking/internal/adapter/otel"
	"github.com/mapcrew/tasking/internal/adapter/ws"
	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/stats"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/port/broadcast"
	"github.com/mapcrew/tasking/internal/port/database"
	"github.com/mapcrew/tasking/internal/port/notifier"
	"github.com/mapcrew/tasking/internal/port/permission"
)

// LockService is the locking coordinator. It wraps the task state machine
// with lock-acquisition/release semantics and ownership checks. At most one
// outstanding lock exists per task: every write is a compare-and-set against
// the version read together with the preconditions, so a concurrent writer
// surfaces as domain.ErrConflict rather than a lost update.
type LockService struct {
	store    database.Store
	perm     permission.Checker
	history  *HistoryService
	stats    *StatsService
	notifier notifier.Notifier
	hub      broadcast.Broadcaster
	metrics  *taskotel.Metrics
	lockTTL  time.Duration
}

// NewLockService creates a new LockService. lockTTL bounds how long a lock
// may be held before the sweeper releases it.
func NewLockService(
	store database.Store,
	perm permission.Checker,
	history *HistoryService,
	statsSvc *StatsService,
	n notifier.Notifier,
	hub broadcast.Broadcaster,
	lockTTL time.Duration,
) *LockService {
	return &LockService{
		store:    store,
		perm:     perm,
		history:  history,
		stats:    statsSvc,
		notifier: n,
		hub:      hub,
		lockTTL:  lockTTL,
	}
}

// SetMetrics attaches metric instruments. Optional; nil disables metrics.
func (s *LockService) SetMetrics(m *taskotel.Metrics) {
	s.metrics = m
}

// LockForMapping places an exclusive mapping lock on the task.
func (s *LockService) LockForMapping(ctx context.Context, projectID int64, taskID int, userID int64) (*task.Task, error) {
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}

	// Retry-safe: the caller already holds this exact lock.
	if t.Status == task.StatusLockedForMapping && t.HeldBy(userID) {
		return t, nil
	}
	if t.Status.Locked() {
		return nil, fmt.Errorf("task %d/%d held by another user: %w", projectID, taskID, domain.ErrOwnership)
	}
	if !task.CanLock(task.EventLockForMapping, t.Status) {
		return nil, &task.InvalidTransitionError{TaskID: taskID, ProjectID: projectID, From: t.Status, Event: task.EventLockForMapping}
	}

	if err := s.admit(ctx, userID); err != nil {
		return nil, err
	}
	dec, err := s.perm.CanMap(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, domain.Denied(dec.Reason)
	}

	if err := s.applyLock(ctx, t, task.StatusLockedForMapping, task.ActionLockedForMapping, userID); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LocksAcquired.Add(ctx, 1)
	}
	return t, nil
}

// LockForValidation places validation locks on a set of tasks. All
// preconditions are verified for every task before the first write.
func (s *LockService) LockForValidation(ctx context.Context, projectID int64, taskIDs []int, userID int64) ([]task.Task, error) {
	elevated, err := s.perm.IsElevated(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(taskIDs))
	held := make(map[int]bool, len(taskIDs))
	for _, id := range taskIDs {
		t, err := s.store.GetTask(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		if t.Status == task.StatusLockedForValidation && t.HeldBy(userID) {
			held[id] = true
			tasks = append(tasks, t)
			continue
		}
		if t.Status.Locked() {
			return nil, fmt.Errorf("task %d/%d held by another user: %w", projectID, id, domain.ErrOwnership)
		}
		if !task.CanLock(task.EventLockForValidation, t.Status) {
			return nil, &task.InvalidTransitionError{TaskID: id, ProjectID: projectID, From: t.Status, Event: task.EventLockForValidation}
		}
		// A user does not validate their own mapped work unless elevated.
		if t.MappedBy != nil && *t.MappedBy == userID && !elevated {
			return nil, domain.Denied(domain.ReasonNotValidator)
		}
		tasks = append(tasks, t)
	}

	// Retry-safe: the caller already holds every requested lock.
	if len(held) == len(tasks) {
		out := make([]task.Task, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, *t)
		}
		return out, nil
	}

	// Admission: locks the caller holds beyond the requested set deny the
	// grant; the requested set's own locks must not count against a retry.
	n, err := s.store.CountLockedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n > len(held) {
		return nil, domain.Denied(domain.ReasonAlreadyHasTaskLocked)
	}
	dec, err := s.perm.CanValidate(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, domain.Denied(dec.Reason)
	}

	out := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if !held[t.ID] {
			if err := s.applyLock(ctx, t, task.StatusLockedForValidation, task.ActionLockedForValidation, userID); err != nil {
				// Units already locked stay locked; the caller re-fetches.
				return nil, err
			}
		}
		out = append(out, *t)
	}
	if s.metrics != nil {
		s.metrics.LocksAcquired.Add(ctx, int64(len(out)))
	}
	return out, nil
}

// UnlockAfterMapping releases a mapping lock, moving the task to newStatus
// (MAPPED, BADIMAGERY or READY).
func (s *LockService) UnlockAfterMapping(ctx context.Context, projectID int64, taskID int, userID int64, newStatus task.Status, comment string) (*task.Task, error) {
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if err := task.CheckUnlock(t, task.EventUnlockAfterMapping, newStatus); err != nil {
		return nil, err
	}
	if !t.HeldBy(userID) {
		return nil, fmt.Errorf("task %d/%d: %w", projectID, taskID, domain.ErrOwnership)
	}

	last, err := s.history.LastStatus(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}

	s.recordComment(ctx, t, userID, comment)

	t.Status = newStatus
	t.LockedBy = nil
	t.LockedAt = nil
	// Attribution follows the ledger: no state change, no re-attribution.
	if newStatus != last && (newStatus == task.StatusMapped || newStatus == task.StatusBadImagery) {
		t.MappedBy = &userID
	}
	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}

	if newStatus != last {
		if err := s.history.Record(ctx, task.StateChange(t, userID, newStatus, nil)); err != nil {
			return nil, err
		}
		if err := s.stats.UpdateAfterTransition(ctx, projectID, userID, last, newStatus, stats.ActionChange); err != nil {
			return nil, err
		}
	} else {
		if err := s.history.Record(ctx, &task.HistoryEntry{
			TaskID: taskID, ProjectID: projectID, Action: task.ActionAutoUnlockedForMapping, UserID: userID,
		}); err != nil {
			return nil, err
		}
	}

	if s.metrics != nil && newStatus == task.StatusMapped {
		s.metrics.TasksMapped.Add(ctx, 1)
	}
	s.broadcastStatus(ctx, t)
	return t, nil
}

// UnlockAfterValidation releases a validation lock on a single task, moving
// it to newStatus (VALIDATED or INVALIDATED). Batch callers fan this out per
// task; see ValidationService.
func (s *LockService) UnlockAfterValidation(ctx context.Context, projectID int64, taskID int, userID int64, newStatus task.Status, comment string, issues []task.MappingIssue) (*task.Task, error) {
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if err := task.CheckUnlock(t, task.EventUnlockAfterValidation, newStatus); err != nil {
		return nil, err
	}
	if !t.HeldBy(userID) {
		return nil, fmt.Errorf("task %d/%d: %w", projectID, taskID, domain.ErrOwnership)
	}

	last, err := s.history.LastStatus(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}

	s.recordComment(ctx, t, userID, comment)

	t.Status = newStatus
	t.LockedBy = nil
	t.LockedAt = nil
	if newStatus == task.StatusValidated {
		t.ValidatedBy = &userID
	}
	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}

	if newStatus != last {
		if err := s.history.Record(ctx, task.StateChange(t, userID, newStatus, issues)); err != nil {
			return nil, err
		}
		if err := s.stats.UpdateAfterTransition(ctx, projectID, userID, last, newStatus, stats.ActionChange); err != nil {
			return nil, err
		}
	} else {
		if err := s.history.Record(ctx, &task.HistoryEntry{
			TaskID: taskID, ProjectID: projectID, Action: task.ActionAutoUnlockedForValidation, UserID: userID,
		}); err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		switch newStatus {
		case task.StatusValidated:
			s.metrics.TasksValidated.Add(ctx, 1)
		case task.StatusInvalidated:
			s.metrics.TasksInvalidated.Add(ctx, 1)
		}
	}
	s.broadcastStatus(ctx, t)
	return t, nil
}

// ResetLock releases a lock without changing status: the task returns to the
// status recorded by the ledger before the lock event.
func (s *LockService) ResetLock(ctx context.Context, projectID int64, taskID int, userID int64, comment string) (*task.Task, error) {
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if !t.Status.Locked() {
		return nil, &task.InvalidTransitionError{TaskID: taskID, ProjectID: projectID, From: t.Status, Event: task.EventResetLock}
	}
	if !t.HeldBy(userID) {
		return nil, fmt.Errorf("task %d/%d: %w", projectID, taskID, domain.ErrOwnership)
	}

	prior, err := s.history.LastStatus(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}

	s.recordComment(ctx, t, userID, comment)

	t.Status = prior
	t.LockedBy = nil
	t.LockedAt = nil
	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	if err := s.history.Record(ctx, &task.HistoryEntry{
		TaskID: taskID, ProjectID: projectID, Action: task.ActionTaskReset, UserID: userID,
	}); err != nil {
		return nil, err
	}

	s.broadcastStatus(ctx, t)
	return t, nil
}

// Split retires a non-locked task to REMOVED and creates four READY children
// at zoom+1. Legacy grid projects only; geometry for the children is
// generated outside the lifecycle engine.
func (s *LockService) Split(ctx context.Context, projectID int64, taskID int, userID int64) ([]task.Task, error) {
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Splittable(t.Status) {
		return nil, &task.InvalidTransitionError{TaskID: taskID, ProjectID: projectID, From: t.Status, Event: task.EventSplit}
	}
	dec, err := s.perm.CanMap(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, domain.Denied(dec.Reason)
	}

	last := t.Status

	children, err := s.store.CreateTasks(ctx, task.SplitChildren(t))
	if err != nil {
		return nil, err
	}

	t.Status = task.StatusRemoved
	if err := s.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	if err := s.history.Record(ctx, &task.HistoryEntry{
		TaskID: taskID, ProjectID: projectID, Action: task.ActionTaskSplit, UserID: userID,
	}); err != nil {
		return nil, err
	}
	if err := s.history.Record(ctx, task.StateChange(t, userID, task.StatusRemoved, nil)); err != nil {
		return nil, err
	}
	if err := s.stats.UpdateAfterTransition(ctx, projectID, userID, last, task.StatusRemoved, stats.ActionChange); err != nil {
		return nil, err
	}

	// Four children replace one retired parent.
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	p.Counters.TotalTasks += len(children) - 1
	if err := s.store.SaveProjectCounters(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("task split", "project_id", projectID, "task_id", taskID, "children", len(children))
	s.broadcastStatus(ctx, t)
	return children, nil
}

// SweepExpiredLocks releases locks held longer than the configured TTL,
// restoring each task to its pre-lock status. Individual failures are logged
// and do not stop the sweep.
func (s *LockService) SweepExpiredLocks(ctx context.Context) (int, error) {
	stale, err := s.store.ListExpiredLocks(ctx, time.Now().UTC().Add(-s.lockTTL))
	if err != nil {
		return 0, fmt.Errorf("list expired locks: %w", err)
	}

	released := 0
	for i := range stale {
		t := &stale[i]
		holder := int64(0)
		if t.LockedBy != nil {
			holder = *t.LockedBy
		}

		action := task.ActionAutoUnlockedForMapping
		if t.Status == task.StatusLockedForValidation {
			action = task.ActionAutoUnlockedForValidation
		}

		prior, err := s.history.LastStatus(ctx, t.ProjectID, t.ID)
		if err != nil {
			slog.Warn("stale lock sweep: last status", "project_id", t.ProjectID, "task_id", t.ID, "error", err)
			continue
		}

		t.Status = prior
		t.LockedBy = nil
		t.LockedAt = nil
		if err := s.store.SaveTask(ctx, t); err != nil {
			slog.Warn("stale lock sweep: save", "project_id", t.ProjectID, "task_id", t.ID, "error", err)
			continue
		}
		if err := s.history.Record(ctx, &task.HistoryEntry{
			TaskID: t.ID, ProjectID: t.ProjectID, Action: action, UserID: holder,
		}); err != nil {
			slog.Warn("stale lock sweep: history", "project_id", t.ProjectID, "task_id", t.ID, "error", err)
			continue
		}

		s.broadcastStatus(ctx, t)
		released++
	}

	if released > 0 {
		slog.Info("stale locks released", "count", released)
	}
	return released, nil
}

// admit enforces the admission-time one-active-lock policy. Evaluated fresh
// on every lock acquisition, never cached.
func (s *LockService) admit(ctx context.Context, userID int64) error {
	n, err := s.store.CountLockedByUser(ctx, userID)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.Denied(domain.ReasonAlreadyHasTaskLocked)
	}
	return nil
}

// applyLock writes the lock state and appends the matching ledger entry.
func (s *LockService) applyLock(ctx context.Context, t *task.Task, st task.Status, action task.Action, userID int64) error {
	now := time.Now().UTC()
	t.Status = st
	t.LockedBy = &userID
	t.LockedAt = &now
	if err := s.store.SaveTask(ctx, t); err != nil {
		return err
	}
	if err := s.history.Record(ctx, &task.HistoryEntry{
		TaskID: t.ID, ProjectID: t.ProjectID, Action: action, UserID: userID,
	}); err != nil {
		return err
	}
	s.broadcastStatus(ctx, t)
	return nil
}

// recordComment appends a COMMENT ledger entry and triggers mention fan-out.
// Both are best-effort: failures are logged, never propagated.
func (s *LockService) recordComment(ctx context.Context, t *task.Task, userID int64, comment string) {
	if comment == "" {
		return
	}
	if err := s.history.Record(ctx, &task.HistoryEntry{
		TaskID: t.ID, ProjectID: t.ProjectID, Action: task.ActionComment, ActionText: comment, UserID: userID,
	}); err != nil {
		slog.Warn("comment entry failed", "project_id", t.ProjectID, "task_id", t.ID, "error", err)
		return
	}
	if err := s.notifier.NotifyMentions(ctx, notifier.Mention{
		ProjectID: t.ProjectID, TaskID: t.ID, FromUserID: userID, Comment: comment,
	}); err != nil {
		slog.Warn("mention notify failed", "project_id", t.ProjectID, "task_id", t.ID, "error", err)
	}
}

func (s *LockService) broadcastStatus(ctx context.Context, t *task.Task) {
	s.hub.BroadcastTask(ctx, t.ProjectID, ws.EventTaskStatus, ws.TaskStatusEvent{
		ProjectID: t.ProjectID,
		TaskID:    t.ID,
		Status:    string(t.Status),
	})
}
