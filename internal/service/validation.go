package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	taskotel "github.com/mapcrew/tasking/internal/adapter/otel"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/port/notifier"
)

// TaskUnlock is one unit of a batch unlock-after-validation.
type TaskUnlock struct {
	TaskID    int                 `json:"task_id"`
	NewStatus task.Status         `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
	Issues    []task.MappingIssue `json:"issues,omitempty"`
}

// ValidationService drives batch unlock-after-validation across many tasks
// concurrently. Each task is an independent unit of work with no cross-task
// transaction: completed units stay committed when a later unit fails. The
// only shared mutable state is the per-batch set of mappers already notified,
// guarded by a mutex so a mapper with several tasks in one batch receives
// exactly one validation-result notification.
type ValidationService struct {
	locks    *LockService
	notifier notifier.Notifier
	metrics  *taskotel.Metrics
}

// NewValidationService creates a new ValidationService.
func NewValidationService(locks *LockService, n notifier.Notifier) *ValidationService {
	return &ValidationService{locks: locks, notifier: n}
}

// SetMetrics attaches metric instruments. Optional; nil disables metrics.
func (s *ValidationService) SetMetrics(m *taskotel.Metrics) {
	s.metrics = m
}

// UnlockBatchAfterValidation fans out one worker per unit and joins on all of
// them. Units not yet started when the context is cancelled are aborted;
// units in flight run to completion so no task is left locked. Returns the
// tasks whose units completed, plus the first unit error if any.
func (s *ValidationService) UnlockBatchAfterValidation(ctx context.Context, projectID, validatorID int64, units []TaskUnlock) ([]task.Task, error) {
	start := time.Now()

	var mu sync.Mutex
	notified := make(map[int64]struct{}, len(units))
	results := make([]*task.Task, len(units))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range units {
		g.Go(func() error {
			// Abort units that have not started. Once past this gate the
			// unit runs on a cancellation-shielded context: a caller
			// deadline firing mid-unit must not kill the writes and leave
			// the task stranded in its lock until the sweeper.
			if err := gctx.Err(); err != nil {
				return err
			}

			uctx, span := taskotel.StartUnlockSpan(context.WithoutCancel(ctx), projectID, u.TaskID, string(u.NewStatus))
			defer span.End()

			t, err := s.locks.UnlockAfterValidation(uctx, projectID, u.TaskID, validatorID, u.NewStatus, u.Comment, u.Issues)
			if err != nil {
				return err
			}
			results[i] = t

			s.notifyMapperOnce(uctx, t, validatorID, u.NewStatus, &mu, notified)
			return nil
		})
	}
	err := g.Wait()

	out := make([]task.Task, 0, len(units))
	for _, t := range results {
		if t != nil {
			out = append(out, *t)
		}
	}

	if s.metrics != nil {
		s.metrics.BatchUnlockDuration.Record(ctx, time.Since(start).Seconds())
	}
	slog.Info("batch unlock finished",
		"project_id", projectID,
		"validator_id", validatorID,
		"requested", len(units),
		"completed", len(out),
	)
	return out, err
}

// notifyMapperOnce sends the validation-result notification to the task's
// mapper unless another unit of this batch already did. Delivery is
// best-effort; failures are logged and never fail the unit.
func (s *ValidationService) notifyMapperOnce(ctx context.Context, t *task.Task, validatorID int64, st task.Status, mu *sync.Mutex, notified map[int64]struct{}) {
	if t.MappedBy == nil || *t.MappedBy == validatorID {
		return
	}
	mapper := *t.MappedBy

	mu.Lock()
	if _, seen := notified[mapper]; seen {
		mu.Unlock()
		return
	}
	notified[mapper] = struct{}{}
	mu.Unlock()

	if err := s.notifier.NotifyValidationResult(ctx, notifier.ValidationResult{
		ProjectID:   t.ProjectID,
		TaskID:      t.ID,
		Status:      st,
		ValidatorID: validatorID,
		MapperID:    mapper,
	}); err != nil {
		slog.Warn("validation result notify failed",
			"project_id", t.ProjectID,
			"task_id", t.ID,
			"mapper_id", mapper,
			"error", err,
		)
	}
}
