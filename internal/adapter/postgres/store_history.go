package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/task"
)

func (s *Store) AppendHistory(ctx context.Context, e *task.HistoryEntry) error {
	var issuesJSON any
	if len(e.Issues) > 0 {
		data, err := json.Marshal(e.Issues)
		if err != nil {
			return fmt.Errorf("marshal issues: %w", err)
		}
		issuesJSON = data
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO task_history (task_id, project_id, action, action_text, action_date, user_id, issues)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.TaskID, e.ProjectID, e.Action, e.ActionText, e.ActionDate, e.UserID, issuesJSON,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append history %d/%d: %w", e.ProjectID, e.TaskID, err)
	}
	return nil
}

func (s *Store) GetLastStatus(ctx context.Context, projectID int64, taskID int) (task.Status, error) {
	var text string
	err := s.pool.QueryRow(ctx, `
		SELECT action_text FROM task_history
		WHERE project_id = $1 AND task_id = $2 AND action = $3
		ORDER BY action_date DESC, id DESC LIMIT 1`,
		projectID, taskID, task.ActionStateChange).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("last status %d/%d: %w", projectID, taskID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("last status %d/%d: %w", projectID, taskID, err)
	}
	return task.Status(text), nil
}

func (s *Store) GetHistory(ctx context.Context, projectID int64, taskID int) ([]task.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, project_id, action, action_text, action_date, user_id, issues
		FROM task_history
		WHERE project_id = $1 AND task_id = $2
		ORDER BY action_date DESC, id DESC`,
		projectID, taskID)
	if err != nil {
		return nil, fmt.Errorf("get history %d/%d: %w", projectID, taskID, err)
	}
	defer rows.Close()

	var entries []task.HistoryEntry
	for rows.Next() {
		var e task.HistoryEntry
		var issuesJSON []byte
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ProjectID, &e.Action, &e.ActionText,
			&e.ActionDate, &e.UserID, &issuesJSON); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if len(issuesJSON) > 0 {
			if err := json.Unmarshal(issuesJSON, &e.Issues); err != nil {
				return nil, fmt.Errorf("unmarshal issues: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
