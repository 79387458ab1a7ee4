package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskboard/domain"
)

// Memory keeps tasks and users in process memory. It backs local runs and
// tests; every bulk write is applied atomically.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]map[string]domain.Task
	users map[string]domain.UserProfile
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]map[string]domain.Task),
		users: make(map[string]domain.UserProfile),
		now:   time.Now,
	}
}

func (m *Memory) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[owner][id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	m.mu.RLock()
	tasks := make([]domain.Task, 0, len(m.tasks[owner]))
	for _, t := range m.tasks[owner] {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()
	sortTasks(tasks)
	return tasks, nil
}

func (m *Memory) MaxOrder(ctx context.Context, owner string, status domain.Status) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max, ok := 0, false
	for _, t := range m.tasks[owner] {
		if t.Status != status {
			continue
		}
		if !ok || t.Order > max {
			max, ok = t.Order, true
		}
	}
	return max, ok, nil
}

func (m *Memory) InsertTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.tasks[t.Owner]
	if !ok {
		bucket = make(map[string]domain.Task)
		m.tasks[t.Owner] = bucket
	}
	if _, exists := bucket[t.ID]; exists {
		return &domain.StoreError{Op: "insert task", Err: errDuplicateID}
	}
	bucket[t.ID] = t
	return nil
}

func (m *Memory) UpdateTask(ctx context.Context, owner, id string, upd domain.TaskUpdate) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[owner][id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	upd.Apply(&t)
	m.tasks[owner][id] = t
	return t, nil
}

func (m *Memory) DeleteTask(ctx context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[owner][id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.tasks[owner], id)
	if len(m.tasks[owner]) == 0 {
		delete(m.tasks, owner)
	}
	return nil
}

func (m *Memory) ApplyOrder(ctx context.Context, owner string, assignments []domain.OrderAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.tasks[owner]
	for _, a := range assignments {
		if _, ok := bucket[a.ID]; !ok {
			return domain.ErrNotFound
		}
	}
	for _, a := range assignments {
		t := bucket[a.ID]
		t.Order = a.Order
		bucket[a.ID] = t
	}
	return nil
}

func (m *Memory) UpsertUser(ctx context.Context, u domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	cur, ok := m.users[u.Email]
	if !ok {
		u.CreatedAt = now
		u.LastLogin = now
		m.users[u.Email] = u
		return nil
	}
	cur.LastLogin = now
	m.users[u.Email] = cur
	return nil
}

func (m *Memory) GetUser(ctx context.Context, email string) (domain.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	if !ok {
		return domain.UserProfile{}, domain.ErrNotFound
	}
	return u, nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// sortTasks orders tasks by Order, then CreatedAt, then ID.
func sortTasks(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
