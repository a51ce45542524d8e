package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mapcrew/tasking/internal/domain"
	"github.com/mapcrew/tasking/internal/domain/project"
	"github.com/mapcrew/tasking/internal/domain/task"
	"github.com/mapcrew/tasking/internal/domain/user"
	"github.com/mapcrew/tasking/internal/port/broadcast"
	"github.com/mapcrew/tasking/internal/port/database"
	"github.com/mapcrew/tasking/internal/port/notifier"
	"github.com/mapcrew/tasking/internal/port/permission"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store        = (*mockStore)(nil)
	_ permission.Checker    = (*mockChecker)(nil)
	_ notifier.Notifier     = (*mockNotifier)(nil)
	_ broadcast.Broadcaster = (*mockHub)(nil)
)

type taskKey struct {
	projectID int64
	taskID    int
}

// mockStore is an in-memory database.Store. All methods are mutex-guarded so
// the concurrent batch tests can hammer it from many goroutines.
type mockStore struct {
	mu       sync.Mutex
	projects map[int64]project.Project
	users    map[int64]user.User
	tasks    map[taskKey]task.Task
	history  []task.HistoryEntry
	licenses map[[2]int64]bool // (userID, licenseID)
	allowed  map[[2]int64]bool // (projectID, userID)
	nextHist int64

	saveTaskErr error // when set, SaveTask fails once and clears
}

func newMockStore() *mockStore {
	return &mockStore{
		projects: make(map[int64]project.Project),
		users:    make(map[int64]user.User),
		tasks:    make(map[taskKey]task.Task),
		licenses: make(map[[2]int64]bool),
		allowed:  make(map[[2]int64]bool),
	}
}

func (m *mockStore) putProject(p project.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *mockStore) putUser(u user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *mockStore) putTask(t task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[taskKey{t.ProjectID, t.ID}] = t
}

func (m *mockStore) GetProject(_ context.Context, id int64) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %d: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (m *mockStore) SaveProjectCounters(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %d: %w", p.ID, domain.ErrNotFound)
	}
	if cur.Version != p.Version {
		return domain.ErrConflict
	}
	p.Version++
	m.projects[p.ID] = *p
	return nil
}

func (m *mockStore) GetUser(_ context.Context, id int64) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

func (m *mockStore) SaveUserCounters(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return fmt.Errorf("user %d: %w", u.ID, domain.ErrNotFound)
	}
	if cur.Version != u.Version {
		return domain.ErrConflict
	}
	u.Version++
	m.users[u.ID] = *u
	return nil
}

func (m *mockStore) HasAcceptedLicense(_ context.Context, userID, licenseID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.licenses[[2]int64{userID, licenseID}], nil
}

func (m *mockStore) IsOnAllowList(_ context.Context, projectID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowed[[2]int64{projectID, userID}], nil
}

func (m *mockStore) GetTask(_ context.Context, projectID int64, taskID int) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskKey{projectID, taskID}]
	if !ok {
		return nil, fmt.Errorf("task %d/%d: %w", projectID, taskID, domain.ErrNotFound)
	}
	return &t, nil
}

func (m *mockStore) SaveTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveTaskErr != nil {
		err := m.saveTaskErr
		m.saveTaskErr = nil
		return err
	}
	cur, ok := m.tasks[taskKey{t.ProjectID, t.ID}]
	if !ok {
		return fmt.Errorf("task %d/%d: %w", t.ProjectID, t.ID, domain.ErrNotFound)
	}
	if cur.Version != t.Version {
		return domain.ErrConflict
	}
	t.Version++
	m.tasks[taskKey{t.ProjectID, t.ID}] = *t
	return nil
}

func (m *mockStore) CreateTasks(_ context.Context, tasks []task.Task) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		maxID := 0
		for k := range m.tasks {
			if k.projectID == t.ProjectID && k.taskID > maxID {
				maxID = k.taskID
			}
		}
		t.ID = maxID + 1
		t.Version = 1
		m.tasks[taskKey{t.ProjectID, t.ID}] = t
		created = append(created, t)
	}
	return created, nil
}

func (m *mockStore) ListTasksByStatus(_ context.Context, projectID int64, st task.Status) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID && t.Status == st {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) ListExpiredLocks(_ context.Context, lockedBefore time.Time) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.LockedAt != nil && t.LockedAt.Before(lockedBefore) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) CountLockedByUser(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.LockedBy != nil && *t.LockedBy == userID {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) AppendHistory(_ context.Context, e *task.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHist++
	e.ID = m.nextHist
	m.history = append(m.history, *e)
	return nil
}

func (m *mockStore) GetLastStatus(_ context.Context, projectID int64, taskID int) (task.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		e := m.history[i]
		if e.ProjectID == projectID && e.TaskID == taskID && e.Action == task.ActionStateChange {
			return task.Status(e.ActionText), nil
		}
	}
	return "", domain.ErrNotFound
}

func (m *mockStore) GetHistory(_ context.Context, projectID int64, taskID int) ([]task.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		e := m.history[i]
		if e.ProjectID == projectID && e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// entries returns a snapshot of ledger entries for a task with the given action.
func (m *mockStore) entries(projectID int64, taskID int, action task.Action) []task.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.HistoryEntry
	for _, e := range m.history {
		if e.ProjectID == projectID && e.TaskID == taskID && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// mockChecker answers permission questions with fixed decisions.
type mockChecker struct {
	mapDecision      permission.Decision
	validateDecision permission.Decision
	elevated         map[int64]bool
}

func allowAll() *mockChecker {
	return &mockChecker{
		mapDecision:      permission.Allow,
		validateDecision: permission.Allow,
		elevated:         map[int64]bool{},
	}
}

func (m *mockChecker) CanMap(_ context.Context, _, _ int64) (permission.Decision, error) {
	return m.mapDecision, nil
}

func (m *mockChecker) CanValidate(_ context.Context, _, _ int64) (permission.Decision, error) {
	return m.validateDecision, nil
}

func (m *mockChecker) IsElevated(_ context.Context, _, userID int64) (bool, error) {
	return m.elevated[userID], nil
}

// mockNotifier records notifications; mutex-guarded for the batch tests.
type mockNotifier struct {
	mu       sync.Mutex
	results  []notifier.ValidationResult
	mentions []notifier.Mention
	failNext bool
}

func (m *mockNotifier) NotifyValidationResult(_ context.Context, n notifier.ValidationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("notifier down")
	}
	m.results = append(m.results, n)
	return nil
}

func (m *mockNotifier) NotifyMentions(_ context.Context, n notifier.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mentions = append(m.mentions, n)
	return nil
}

func (m *mockNotifier) resultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// mockHub records broadcast events.
type mockHub struct {
	mu     sync.Mutex
	events []string
}

func (m *mockHub) BroadcastTask(_ context.Context, _ int64, eventType string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}
