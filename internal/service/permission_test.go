package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/project"
	"github.com/mapcrew/tasking/internal/domain/user"
	"github.com/mapcrew/tasking/internal/port/cache"
)

var _ cache.Cache = (*mapCache)(nil)

// mapCache is a TTL-less in-memory cache for tests.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
	hits int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newPermFixture() *mockStore {
	store := newMockStore()
	store.putProject(project.Project{ID: testProject, Status: project.StatusPublished, AuthorID: 1, Version: 1})
	store.putUser(user.User{ID: mapperID, Role: user.RoleMapper, Version: 1})
	store.putUser(user.User{ID: validatorID, Role: user.RoleValidator, Version: 1})
	return store
}

func TestCanMapPublishedProject(t *testing.T) {
	store := newPermFixture()
	perm := NewPermissionService(store, nil, 0)

	dec, err := perm.CanMap(context.Background(), testProject, mapperID)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Errorf("denied with reason %s, want allowed", dec.Reason)
	}
}

func TestCanMapDraftProject(t *testing.T) {
	store := newPermFixture()
	store.putProject(project.Project{ID: testProject, Status: project.StatusDraft, AuthorID: 1, Version: 1})
	perm := NewPermissionService(store, nil, 0)
	ctx := context.Background()

	dec, err := perm.CanMap(ctx, testProject, mapperID)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != domain.ReasonProjectNotPublished {
		t.Errorf("decision = %+v, want PROJECT_NOT_PUBLISHED denial", dec)
	}

	// The author sees their own draft.
	store.putUser(user.User{ID: 1, Role: user.RoleMapper, Version: 1})
	dec, err = perm.CanMap(ctx, testProject, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Errorf("author denied with reason %s", dec.Reason)
	}
}

func TestCanMapLicenseGate(t *testing.T) {
	store := newPermFixture()
	lic := int64(7)
	store.putProject(project.Project{ID: testProject, Status: project.StatusPublished, AuthorID: 1, LicenseID: &lic, Version: 1})
	perm := NewPermissionService(store, nil, 0)
	ctx := context.Background()

	dec, err := perm.CanMap(ctx, testProject, mapperID)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != domain.ReasonNotAcceptedLicense {
		t.Errorf("decision = %+v, want NOT_ACCEPTED_LICENSE denial", dec)
	}

	store.mu.Lock()
	store.licenses[[2]int64{mapperID, lic}] = true
	store.mu.Unlock()

	dec, err = perm.CanMap(ctx, testProject, mapperID)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Errorf("denied after acceptance with reason %s", dec.Reason)
	}
}

func TestCanMapAllowList(t *testing.T) {
	store := newPermFixture()
	store.putProject(project.Project{ID: testProject, Status: project.StatusPublished, AuthorID: 1, Restricted: true, Version: 1})
	perm := NewPermissionService(store, nil, 0)
	ctx := context.Background()

	dec, err := perm.CanMap(ctx, testProject, mapperID)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != domain.ReasonNotOnAllowedList {
		t.Errorf("decision = %+v, want NOT_ON_ALLOWED_LIST denial", dec)
	}

	store.mu.Lock()
	store.allowed[[2]int64{testProject, mapperID}] = true
	store.mu.Unlock()

	dec, err = perm.CanMap(ctx, testProject, mapperID)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Errorf("denied after allow-listing with reason %s", dec.Reason)
	}
}

func TestCanValidateRequiresRole(t *testing.T) {
	store := newPermFixture()
	perm := NewPermissionService(store, nil, 0)
	ctx := context.Background()

	dec, err := perm.CanValidate(ctx, testProject, mapperID)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != domain.ReasonNotValidator {
		t.Errorf("decision = %+v, want NOT_VALIDATOR denial", dec)
	}

	dec, err = perm.CanValidate(ctx, testProject, validatorID)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Errorf("validator denied with reason %s", dec.Reason)
	}
}

func TestIsElevated(t *testing.T) {
	store := newPermFixture()
	store.putUser(user.User{ID: adminID, Role: user.RoleAdmin, Version: 1})
	store.putUser(user.User{ID: 1, Role: user.RoleMapper, Version: 1}) // project author
	perm := NewPermissionService(store, nil, 0)
	ctx := context.Background()

	for _, tt := range []struct {
		userID int64
		want   bool
	}{
		{adminID, true},
		{1, true}, // author
		{mapperID, false},
		{validatorID, false},
	} {
		got, err := perm.IsElevated(ctx, testProject, tt.userID)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("IsElevated(user %d) = %v, want %v", tt.userID, got, tt.want)
		}
	}
}

func TestDecisionCaching(t *testing.T) {
	store := newPermFixture()
	c := newMapCache()
	perm := NewPermissionService(store, c, time.Minute)
	ctx := context.Background()

	if _, err := perm.CanMap(ctx, testProject, mapperID); err != nil {
		t.Fatal(err)
	}
	if _, err := perm.CanMap(ctx, testProject, mapperID); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets != 1 {
		t.Errorf("cache sets = %d, want 1", c.sets)
	}
	if c.hits != 1 {
		t.Errorf("cache hits = %d, want 1", c.hits)
	}
}
