// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/port/database"
)

// HistoryService is the append-only ledger of task transitions. It answers
// "what was this task's last meaningful status" for the stats reconciler and
// the revert engine.
type HistoryService struct {
	store database.Store
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(store database.Store) *HistoryService {
	return &HistoryService{store: store}
}

// Record appends an entry to the ledger. Entries are never mutated or
// deleted afterwards.
func (s *HistoryService) Record(ctx context.Context, e *task.HistoryEntry) error {
	if e.ActionDate.IsZero() {
		e.ActionDate = time.Now().UTC()
	}
	if err := s.store.AppendHistory(ctx, e); err != nil {
		return fmt.Errorf("append history for task %d/%d: %w", e.ProjectID, e.TaskID, err)
	}
	return nil
}

// LastStatus returns the most recent STATE_CHANGE status for the task. A task
// with no STATE_CHANGE entries yet is READY (freshly partitioned).
func (s *HistoryService) LastStatus(ctx context.Context, projectID int64, taskID int) (task.Status, error) {
	st, err := s.store.GetLastStatus(ctx, projectID, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return task.StatusReady, nil
		}
		return "", fmt.Errorf("last status for task %d/%d: %w", projectID, taskID, err)
	}
	return st, nil
}

// Feed returns the task's history, newest first.
func (s *HistoryService) Feed(ctx context.Context, projectID int64, taskID int) ([]task.HistoryEntry, error) {
	return s.store.GetHistory(ctx, projectID, taskID)
}
