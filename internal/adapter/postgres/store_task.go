package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/task"
)

const taskColumns = `id, project_id, status, locked_by, mapped_by, validated_by,
	zoom, x, y, geometry, locked_at, version, created_at, updated_at`

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Status, &t.LockedBy, &t.MappedBy, &t.ValidatedBy,
		&t.Zoom, &t.X, &t.Y, &t.Geometry, &t.LockedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, projectID int64, taskID int) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 AND id = $2`,
		projectID, taskID)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %d/%d: %w", projectID, taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %d/%d: %w", projectID, taskID, err)
	}
	return &t, nil
}

func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $3, locked_by = $4, mapped_by = $5, validated_by = $6,
		    locked_at = $7, version = version + 1, updated_at = now()
		WHERE project_id = $1 AND id = $2 AND version = $8`,
		t.ProjectID, t.ID, t.Status, t.LockedBy, t.MappedBy, t.ValidatedBy,
		t.LockedAt, t.Version)
	if err != nil {
		return fmt.Errorf("save task %d/%d: %w", t.ProjectID, t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save task %d/%d: %w", t.ProjectID, t.ID, domain.ErrConflict)
	}
	t.Version++
	return nil
}

func (s *Store) CreateTasks(ctx context.Context, tasks []task.Task) ([]task.Task, error) {
	created := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		// Ids continue the project's sequence; callers never pick them.
		row := s.pool.QueryRow(ctx, `
			INSERT INTO tasks (id, project_id, status, zoom, x, y, geometry)
			VALUES (
				(SELECT COALESCE(MAX(id), 0) + 1 FROM tasks WHERE project_id = $1),
				$1, $2, $3, $4, $5, $6)
			RETURNING `+taskColumns,
			t.ProjectID, t.Status, t.Zoom, t.X, t.Y, t.Geometry)

		c, err := scanTask(row)
		if err != nil {
			return created, fmt.Errorf("create task in project %d: %w", t.ProjectID, err)
		}
		created = append(created, c)
	}
	return created, nil
}

func (s *Store) ListTasksByStatus(ctx context.Context, projectID int64, st task.Status) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 AND status = $2 ORDER BY id`,
		projectID, st)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status %s: %w", st, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) ListExpiredLocks(ctx context.Context, lockedBefore time.Time) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE locked_at IS NOT NULL AND locked_at < $1 ORDER BY locked_at`,
		lockedBefore)
	if err != nil {
		return nil, fmt.Errorf("list expired locks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) CountLockedByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE locked_by = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count locked by user %d: %w", userID, err)
	}
	return n, nil
}
