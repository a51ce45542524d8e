package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/project"
	"github.com/mapcrew/tasking/internal/domain/user"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id int64) (*project.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, status, author_id, license_id, restricted,
		       total_tasks, tasks_mapped, tasks_validated, tasks_bad_imagery,
		       version, created_at, updated_at
		FROM projects WHERE id = $1`, id)

	var p project.Project
	err := row.Scan(&p.ID, &p.Name, &p.Status, &p.AuthorID, &p.LicenseID, &p.Restricted,
		&p.Counters.TotalTasks, &p.Counters.Mapped, &p.Counters.Validated, &p.Counters.BadImagery,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get project %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return &p, nil
}

func (s *Store) SaveProjectCounters(ctx context.Context, p *project.Project) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET total_tasks = $2, tasks_mapped = $3, tasks_validated = $4, tasks_bad_imagery = $5,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $6`,
		p.ID, p.Counters.TotalTasks, p.Counters.Mapped, p.Counters.Validated, p.Counters.BadImagery,
		p.Version)
	if err != nil {
		return fmt.Errorf("save project counters %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save project counters %d: %w", p.ID, domain.ErrConflict)
	}
	p.Version++
	return nil
}

// --- Users ---

func (s *Store) GetUser(ctx context.Context, id int64) (*user.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, role,
		       tasks_mapped, tasks_validated, tasks_invalidated, last_validation_date,
		       version, created_at
		FROM users WHERE id = $1`, id)

	var u user.User
	err := row.Scan(&u.ID, &u.Username, &u.Role,
		&u.Counters.Mapped, &u.Counters.Validated, &u.Counters.Invalidated, &u.Counters.LastValidationDate,
		&u.Version, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get user %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

func (s *Store) SaveUserCounters(ctx context.Context, u *user.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET tasks_mapped = $2, tasks_validated = $3, tasks_invalidated = $4,
		    last_validation_date = $5, version = version + 1
		WHERE id = $1 AND version = $6`,
		u.ID, u.Counters.Mapped, u.Counters.Validated, u.Counters.Invalidated,
		u.Counters.LastValidationDate, u.Version)
	if err != nil {
		return fmt.Errorf("save user counters %d: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save user counters %d: %w", u.ID, domain.ErrConflict)
	}
	u.Version++
	return nil
}

func (s *Store) HasAcceptedLicense(ctx context.Context, userID, licenseID int64) (bool, error) {
	var accepted bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_licenses WHERE user_id = $1 AND license_id = $2)`,
		userID, licenseID).Scan(&accepted)
	if err != nil {
		return false, fmt.Errorf("check license %d for user %d: %w", licenseID, userID, err)
	}
	return accepted, nil
}

func (s *Store) IsOnAllowList(ctx context.Context, projectID, userID int64) (bool, error) {
	var listed bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM project_allow_list WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID).Scan(&listed)
	if err != nil {
		return false, fmt.Errorf("check allow list %d for user %d: %w", projectID, userID, err)
	}
	return listed, nil
}
