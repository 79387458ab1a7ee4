package domain

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var errUnavailable = errors.New("connection refused")

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]Task

	failList   error
	failMax    error
	failInsert error
	failUpdate error
	failOrder  error

	maxCalls int
}

func newFakeStore(tasks ...Task) *fakeStore {
	f := &fakeStore{tasks: map[string]Task{}}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeStore) get(id string) (Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeStore) GetTask(ctx context.Context, owner, id string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.Owner != owner {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, owner string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	out := []Task{}
	for _, t := range f.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) MaxOrder(ctx context.Context, owner string, status Status) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxCalls++
	if f.failMax != nil {
		return 0, false, f.failMax
	}
	max, ok := 0, false
	for _, t := range f.tasks {
		if t.Owner != owner || t.Status != status {
			continue
		}
		if !ok || t.Order > max {
			max, ok = t.Order, true
		}
	}
	return max, ok, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert != nil {
		return f.failInsert
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, owner, id string, upd TaskUpdate) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		return Task{}, f.failUpdate
	}
	t, ok := f.tasks[id]
	if !ok || t.Owner != owner {
		return Task{}, ErrNotFound
	}
	upd.Apply(&t)
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, owner, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.Owner != owner {
		return ErrNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) ApplyOrder(ctx context.Context, owner string, assignments []OrderAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOrder != nil {
		return f.failOrder
	}
	for _, a := range assignments {
		t := f.tasks[a.ID]
		t.Order = a.Order
		f.tasks[a.ID] = t
	}
	return nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []ViewUpdate
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, upd ViewUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.updates = append(p.updates, upd)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func (p *recordingPublisher) last() ViewUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return ViewUpdate{}
	}
	return p.updates[len(p.updates)-1]
}
