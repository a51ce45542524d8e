package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/project"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/domain/user"
)

const (
	adminID     = int64(900)
	otherUserID = int64(300)
)

// newRevertFixture builds a RevertService plus the LockService used to drive
// tasks into revertable states through the real transition path.
func newRevertFixture(t *testing.T) (*RevertService, *LockService, *mockStore, *mockChecker) {
	t.Helper()

	store := newMockStore()
	store.putProject(project.Project{
		ID: testProject, Name: "test", Status: project.StatusPublished, AuthorID: 1, Version: 1,
	})
	store.putUser(user.User{ID: mapperID, Username: "mapper", Role: user.RoleMapper, Version: 1})
	store.putUser(user.User{ID: validatorID, Username: "validator", Role: user.RoleValidator, Version: 1})
	store.putUser(user.User{ID: otherUserID, Username: "other", Role: user.RoleValidator, Version: 1})
	store.putUser(user.User{ID: adminID, Username: "admin", Role: user.RoleAdmin, Version: 1})

	perm := allowAll()
	perm.elevated[adminID] = true

	history := NewHistoryService(store)
	statsSvc := NewStatsService(store)
	locks := NewLockService(store, perm, history, statsSvc, &mockNotifier{}, &mockHub{}, 2*time.Hour)
	revert := NewRevertService(store, perm, history, statsSvc, &mockHub{})
	return revert, locks, store, perm
}

// validateTask drives taskID through map-by-mapper then validate-by-validator.
func validateTask(t *testing.T, locks *LockService, taskID int, vID int64) {
	t.Helper()
	ctx := context.Background()

	if _, err := locks.LockForMapping(ctx, testProject, taskID, mapperID); err != nil {
		t.Fatal(err)
	}
	if _, err := locks.UnlockAfterMapping(ctx, testProject, taskID, mapperID, task.StatusMapped, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := locks.LockForValidation(ctx, testProject, []int{taskID}, vID); err != nil {
		t.Fatal(err)
	}
	if _, err := locks.UnlockAfterValidation(ctx, testProject, taskID, vID, task.StatusValidated, "", nil); err != nil {
		t.Fatal(err)
	}
}

func TestRevertValidatedTasks(t *testing.T) {
	revert, locks, store, _ := newRevertFixture(t)
	ctx := context.Background()

	store.putTask(task.Task{ID: 1, ProjectID: testProject, Status: task.StatusReady, Version: 1})
	store.putTask(task.Task{ID: 2, ProjectID: testProject, Status: task.StatusReady, Version: 1})
	validateTask(t, locks, 1, validatorID)
	validateTask(t, locks, 2, validatorID)

	if err := revert.RevertUserTasks(ctx, testProject, validatorID, adminID, task.StatusValidated); err != nil {
		t.Fatalf("RevertUserTasks: %v", err)
	}

	for _, id := range []int{1, 2} {
		got, _ := store.GetTask(ctx, testProject, id)
		if got.Status != task.StatusMapped {
			t.Errorf("task %d status = %s, want MAPPED", id, got.Status)
		}
		if got.ValidatedBy != nil {
			t.Errorf("task %d validated_by not cleared", id)
		}
		if got.MappedBy == nil || *got.MappedBy != mapperID {
			t.Errorf("task %d mapped_by lost", id)
		}
	}

	p, _ := store.GetProject(ctx, testProject)
	if p.Counters.Validated != 0 || p.Counters.Mapped != 2 {
		t.Errorf("project counters = %+v, want validated 0 mapped 2", p.Counters)
	}
	// The undo reverses the validator's personal counters, not the admin's.
	v, _ := store.GetUser(ctx, validatorID)
	if v.Counters.Validated != 0 {
		t.Errorf("validator validated = %d, want 0", v.Counters.Validated)
	}
	a, _ := store.GetUser(ctx, adminID)
	if a.Counters.Validated != 0 || a.Counters.Mapped != 0 {
		t.Errorf("admin counters moved: %+v", a.Counters)
	}
}

func TestRevertLeavesOtherUsersWork(t *testing.T) {
	revert, locks, store, _ := newRevertFixture(t)
	ctx := context.Background()

	store.putTask(task.Task{ID: 1, ProjectID: testProject, Status: task.StatusReady, Version: 1})
	store.putTask(task.Task{ID: 2, ProjectID: testProject, Status: task.StatusReady, Version: 1})
	validateTask(t, locks, 1, validatorID)
	validateTask(t, locks, 2, otherUserID)

	if err := revert.RevertUserTasks(ctx, testProject, validatorID, adminID, task.StatusValidated); err != nil {
		t.Fatalf("RevertUserTasks: %v", err)
	}

	t1, _ := store.GetTask(ctx, testProject, 1)
	if t1.Status != task.StatusMapped {
		t.Errorf("task 1 status = %s, want MAPPED", t1.Status)
	}
	t2, _ := store.GetTask(ctx, testProject, 2)
	if t2.Status != task.StatusValidated {
		t.Errorf("task 2 status = %s, want VALIDATED untouched", t2.Status)
	}
	o, _ := store.GetUser(ctx, otherUserID)
	if o.Counters.Validated != 1 {
		t.Errorf("other validator validated = %d, want 1", o.Counters.Validated)
	}
}

func TestRevertBadImagery(t *testing.T) {
	revert, locks, store, _ := newRevertFixture(t)
	ctx := context.Background()

	store.putTask(task.Task{ID: 1, ProjectID: testProject, Status: task.StatusReady, Version: 1})
	if _, err := locks.LockForMapping(ctx, testProject, 1, mapperID); err != nil {
		t.Fatal(err)
	}
	if _, err := locks.UnlockAfterMapping(ctx, testProject, 1, mapperID, task.StatusBadImagery, ""); err != nil {
		t.Fatal(err)
	}

	if err := revert.RevertUserTasks(ctx, testProject, mapperID, adminID, task.StatusBadImagery); err != nil {
		t.Fatalf("RevertUserTasks: %v", err)
	}

	got, _ := store.GetTask(ctx, testProject, 1)
	if got.Status != task.StatusReady {
		t.Errorf("status = %s, want READY", got.Status)
	}
	if got.MappedBy != nil {
		t.Error("mapped_by not cleared for READY")
	}
	p, _ := store.GetProject(ctx, testProject)
	if p.Counters.BadImagery != 0 {
		t.Errorf("project bad imagery = %d, want 0", p.Counters.BadImagery)
	}
}

func TestRevertRequiresElevation(t *testing.T) {
	revert, _, _, _ := newRevertFixture(t)
	ctx := context.Background()

	err := revert.RevertUserTasks(ctx, testProject, validatorID, mapperID, task.StatusValidated)
	var perm *domain.PermissionError
	if !errors.As(err, &perm) || perm.Reason != domain.ReasonInsufficientRole {
		t.Fatalf("err = %v, want INSUFFICIENT_ROLE denial", err)
	}
}

func TestRevertRejectsNonRevertableStatus(t *testing.T) {
	revert, _, _, _ := newRevertFixture(t)
	ctx := context.Background()

	for _, st := range []task.Status{task.StatusMapped, task.StatusReady, task.StatusInvalidated, task.StatusLockedForMapping} {
		err := revert.RevertUserTasks(ctx, testProject, validatorID, adminID, st)
		if !errors.Is(err, task.ErrInvalidTransition) {
			t.Errorf("revert %s: err = %v, want invalid transition", st, err)
		}
	}
}

func TestRevertWritesLedgerEntries(t *testing.T) {
	revert, locks, store, _ := newRevertFixture(t)
	ctx := context.Background()

	store.putTask(task.Task{ID: 1, ProjectID: testProject, Status: task.StatusReady, Version: 1})
	validateTask(t, locks, 1, validatorID)

	if err := revert.RevertUserTasks(ctx, testProject, validatorID, adminID, task.StatusValidated); err != nil {
		t.Fatal(err)
	}

	// Lock entry attributed to the target user, then the restoring change.
	lockEntries := store.entries(testProject, 1, task.ActionLockedForValidation)
	if len(lockEntries) != 2 { // one from the real validation, one from the revert
		t.Fatalf("validation lock entries = %d, want 2", len(lockEntries))
	}
	if lockEntries[1].UserID != validatorID {
		t.Errorf("revert lock attributed to %d, want %d", lockEntries[1].UserID, validatorID)
	}

	changes := store.entries(testProject, 1, task.ActionStateChange)
	if len(changes) == 0 || changes[len(changes)-1].ActionText != string(task.StatusMapped) {
		t.Fatalf("last state change = %+v, want MAPPED", changes)
	}
}
