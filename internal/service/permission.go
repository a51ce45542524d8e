package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/project"
	"github.com/mapcrew/tasking/internal/port/cache"
	"github.com/mapcrew/tasking/internal/port/database"
	"github.com/mapcrew/tasking/internal/port/permission"
)

// PermissionService computes permission decisions from project and user
// state: publication status, license acceptance, allow-list membership, and
// role. Decisions depend only on slowly-changing inputs and are cached per
// (project, user) with a short TTL. The one-active-lock admission check is
// deliberately NOT part of these decisions; the locking coordinator evaluates
// it fresh at acquisition time.
type PermissionService struct {
	store database.Store
	cache cache.Cache
	ttl   time.Duration
}

// NewPermissionService creates a PermissionService. cache may be nil to
// disable decision caching.
func NewPermissionService(store database.Store, c cache.Cache, ttl time.Duration) *PermissionService {
	return &PermissionService{store: store, cache: c, ttl: ttl}
}

// CanMap decides whether the user may lock tasks for mapping in the project.
func (s *PermissionService) CanMap(ctx context.Context, projectID, userID int64) (permission.Decision, error) {
	return s.cached(ctx, fmt.Sprintf("perm:map:%d:%d", projectID, userID), func() (permission.Decision, error) {
		return s.decide(ctx, projectID, userID, false)
	})
}

// CanValidate decides whether the user may lock tasks for validation in the
// project. Validation additionally requires a validator-capable role.
func (s *PermissionService) CanValidate(ctx context.Context, projectID, userID int64) (permission.Decision, error) {
	return s.cached(ctx, fmt.Sprintf("perm:validate:%d:%d", projectID, userID), func() (permission.Decision, error) {
		return s.decide(ctx, projectID, userID, true)
	})
}

// IsElevated reports whether the user holds project-manager/admin authority
// over the project, either by role or by authorship.
func (s *PermissionService) IsElevated(ctx context.Context, projectID, userID int64) (bool, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.Role.Elevated() {
		return true, nil
	}
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	return p.AuthorID == userID, nil
}

func (s *PermissionService) decide(ctx context.Context, projectID, userID int64, validating bool) (permission.Decision, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return permission.Decision{}, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return permission.Decision{}, err
	}

	elevated := u.Role.Elevated() || p.AuthorID == userID

	if validating && !u.Role.CanValidate() {
		return permission.Deny(domain.ReasonNotValidator), nil
	}
	if p.Status != project.StatusPublished && !elevated {
		return permission.Deny(domain.ReasonProjectNotPublished), nil
	}
	if p.LicenseID != nil {
		accepted, err := s.store.HasAcceptedLicense(ctx, userID, *p.LicenseID)
		if err != nil {
			return permission.Decision{}, err
		}
		if !accepted {
			return permission.Deny(domain.ReasonNotAcceptedLicense), nil
		}
	}
	if p.Restricted && !elevated {
		listed, err := s.store.IsOnAllowList(ctx, projectID, userID)
		if err != nil {
			return permission.Decision{}, err
		}
		if !listed {
			return permission.Deny(domain.ReasonNotOnAllowedList), nil
		}
	}

	return permission.Allow, nil
}

// cached wraps a decision function with the L1 cache.
func (s *PermissionService) cached(ctx context.Context, key string, fn func() (permission.Decision, error)) (permission.Decision, error) {
	if s.cache == nil {
		return fn()
	}

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var dec permission.Decision
		if err := json.Unmarshal(data, &dec); err == nil {
			return dec, nil
		}
	}

	dec, err := fn()
	if err != nil {
		return dec, err
	}

	if data, err := json.Marshal(dec); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			slog.Debug("permission cache set failed", "key", key, "error", err)
		}
	}
	return dec, nil
}
