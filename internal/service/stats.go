package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/project"
	"github.com/mapcrew/tasking/internal/domain/stats"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/domain/user"
	"github.com/mapcrew/tasking/internal/port/database"
)

// statsRetries bounds the optimistic retry loop per aggregate. Concurrent
// batch units race on the same project and user rows; losers reload and
// reapply their delta.
const statsRetries = 5

// StatsService applies the counter deltas implied by a task transition to the
// owning project and the affected user. The delta computation itself is pure
// (domain/stats); this service loads and persists the aggregates, retrying on
// version conflicts so each aggregate is updated independently exactly once.
type StatsService struct {
	store database.Store
}

// NewStatsService creates a new StatsService.
func NewStatsService(store database.Store) *StatsService {
	return &StatsService{store: store}
}

// UpdateAfterTransition reconciles project and user counters for a transition
// from last to next. For a forward change, userID is the acting user; for an
// undo, userID is the user whose action is being reversed.
func (s *StatsService) UpdateAfterTransition(ctx context.Context, projectID, userID int64, last, next task.Status, action stats.Action) error {
	if last == next {
		return nil
	}

	if err := s.updateProject(ctx, projectID, last, next, action); err != nil {
		return fmt.Errorf("stats: project %d: %w", projectID, err)
	}
	if err := s.updateUser(ctx, userID, last, next, action); err != nil {
		return fmt.Errorf("stats: user %d: %w", userID, err)
	}

	slog.Debug("counters reconciled",
		"project_id", projectID,
		"user_id", userID,
		"last", last,
		"next", next,
		"action", action,
	)
	return nil
}

func (s *StatsService) updateProject(ctx context.Context, projectID int64, last, next task.Status, action stats.Action) error {
	for attempt := 0; attempt < statsRetries; attempt++ {
		p, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		p.Counters, _ = stats.Apply(p.Counters, user.Counters{}, last, next, action)

		err = s.store.SaveProjectCounters(ctx, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return domain.ErrConflict
}

func (s *StatsService) updateUser(ctx context.Context, userID int64, last, next task.Status, action stats.Action) error {
	for attempt := 0; attempt < statsRetries; attempt++ {
		u, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		_, u.Counters = stats.Apply(project.Counters{}, u.Counters, last, next, action)
		if action == stats.ActionChange && next == task.StatusValidated {
			now := time.Now().UTC()
			u.Counters.LastValidationDate = &now
		}

		err = s.store.SaveUserCounters(ctx, u)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return domain.ErrConflict
}
