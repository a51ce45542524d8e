package service

import (
	"context"
	"fmt"
	"log/slog"

	taskotel "github.com/mapcrew/tasking/internal/adapter/otel"
	"github.com/mapcrew/tasking/internal/adapter/ws"
	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/stats"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/port/broadcast"
	"github.com/mapcrew/tasking/internal/port/database"
	"github.com/mapcrew/tasking/internal/port/permission"
)

// revertTargets maps a revertable status to the status the undo restores.
var revertTargets = map[task.Status]task.Status{
	task.StatusValidated:  task.StatusMapped,
	task.StatusBadImagery: task.StatusReady,
}

// RevertService undoes a specific user's actions: every task the user moved
// into the given status is driven back to the status it held before. Tasks in
// the same status actioned by other users are left untouched.
type RevertService struct {
	store   database.Store
	perm    permission.Checker
	history *HistoryService
	stats   *StatsService
	hub     broadcast.Broadcaster
}

// NewRevertService creates a new RevertService.
func NewRevertService(store database.Store, perm permission.Checker, history *HistoryService, statsSvc *StatsService, hub broadcast.Broadcaster) *RevertService {
	return &RevertService{store: store, perm: perm, history: history, stats: statsSvc, hub: hub}
}

// RevertUserTasks reverts every task in the project that targetUserID moved
// into actionToRevert (VALIDATED or BADIMAGERY). The acting user must hold
// elevated permission on the project. Tasks are processed sequentially as
// independent units: on failure, already-reverted tasks stay reverted.
func (s *RevertService) RevertUserTasks(ctx context.Context, projectID, targetUserID, actingUserID int64, actionToRevert task.Status) error {
	restored, ok := revertTargets[actionToRevert]
	if !ok {
		return fmt.Errorf("revert of %s: %w", actionToRevert, task.ErrInvalidTransition)
	}

	ctx, span := taskotel.StartRevertSpan(ctx, projectID, targetUserID, string(actionToRevert))
	defer span.End()

	elevated, err := s.perm.IsElevated(ctx, projectID, actingUserID)
	if err != nil {
		return err
	}
	if !elevated {
		return domain.Denied(domain.ReasonInsufficientRole)
	}

	candidates, err := s.store.ListTasksByStatus(ctx, projectID, actionToRevert)
	if err != nil {
		return err
	}

	reverted := 0
	for i := range candidates {
		t := &candidates[i]
		if !actionedBy(t, actionToRevert, targetUserID) {
			continue
		}
		if err := s.revertOne(ctx, t, targetUserID, actionToRevert, restored); err != nil {
			return fmt.Errorf("revert task %d/%d: %w", projectID, t.ID, err)
		}
		reverted++
	}

	slog.Info("user tasks reverted",
		"project_id", projectID,
		"target_user_id", targetUserID,
		"acting_user_id", actingUserID,
		"status", actionToRevert,
		"count", reverted,
	)
	return nil
}

// actionedBy reports whether the target user produced the task's current
// status: validated_by for VALIDATED, mapped_by for BADIMAGERY. This per-task
// ownership filter is what keeps other users' work untouched.
func actionedBy(t *task.Task, st task.Status, userID int64) bool {
	switch st {
	case task.StatusValidated:
		return t.ValidatedBy != nil && *t.ValidatedBy == userID
	case task.StatusBadImagery:
		return t.MappedBy != nil && *t.MappedBy == userID
	}
	return false
}

// revertOne drives a single task back through the state machine on behalf of
// the target user: a validation lock, then an undo unlock to the restored
// status. Counter deltas reverse against the target user, not the actor.
func (s *RevertService) revertOne(ctx context.Context, t *task.Task, targetUserID int64, from, restored task.Status) error {
	t.Status = task.StatusLockedForValidation
	t.LockedBy = &targetUserID
	if err := s.store.SaveTask(ctx, t); err != nil {
		return err
	}
	if err := s.history.Record(ctx, &task.HistoryEntry{
		TaskID: t.ID, ProjectID: t.ProjectID, Action: task.ActionLockedForValidation, UserID: targetUserID,
	}); err != nil {
		return err
	}

	t.Status = restored
	t.LockedBy = nil
	t.LockedAt = nil
	switch restored {
	case task.StatusReady:
		t.MappedBy = nil
	case task.StatusMapped:
		t.ValidatedBy = nil
	}
	if err := s.store.SaveTask(ctx, t); err != nil {
		return err
	}
	if err := s.history.Record(ctx, task.StateChange(t, targetUserID, restored, nil)); err != nil {
		return err
	}
	if err := s.stats.UpdateAfterTransition(ctx, t.ProjectID, targetUserID, from, restored, stats.ActionUndo); err != nil {
		return err
	}

	s.hub.BroadcastTask(ctx, t.ProjectID, ws.EventTaskStatus, ws.TaskStatusEvent{
		ProjectID: t.ProjectID,
		TaskID:    t.ID,
		Status:    string(t.Status),
	})
	return nil
}
