package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskService applies board mutations. Each mutation for an owner runs alone
// and, once persisted, is followed by a broadcast of that owner's view.
type TaskService struct {
	st     TaskStore
	orders OrderAssigner
	bc     Broadcaster
	locks  *OwnerLocks
	clock  *Clock
	newID  func() string
	logger *log.Logger
}

func NewTaskService(st TaskStore, bc Broadcaster, logger *log.Logger) *TaskService {
	if st == nil {
		panic("domain.NewTaskService: store is nil")
	}
	if bc == nil {
		panic("domain.NewTaskService: broadcaster is nil")
	}
	if logger == nil {
		panic("domain.NewTaskService: logger is nil")
	}
	return &TaskService{
		st:     st,
		orders: NewOrderAssigner(st),
		bc:     bc,
		locks:  NewOwnerLocks(),
		clock:  NewClock(nil),
		newID:  uuid.NewString,
		logger: logger,
	}
}

// CreateTask appends a new task to the end of its column.
func (s *TaskService) CreateTask(ctx context.Context, owner string, in NewTask) (Task, error) {
	if err := validateOwner(owner); err != nil {
		return Task{}, err
	}
	if err := in.validate(); err != nil {
		return Task{}, err
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	order, err := s.orders.Next(ctx, owner, in.Status)
	if err != nil {
		return Task{}, err
	}
	t := Task{
		ID:          s.newID(),
		Owner:       owner,
		Status:      in.Status,
		Order:       order,
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   s.clock.Next(),
	}
	if err := s.st.InsertTask(ctx, t); err != nil {
		return Task{}, NewStoreError("insert task", err)
	}
	s.logger.WithFields(log.Fields{"owner": owner, "task": t.ID, "status": t.Status, "order": t.Order}).Debug("task created")

	s.broadcast(ctx, owner)
	return t, nil
}

// UpdateTaskStatus moves a task to another column. The task keeps its order
// value even if it collides with one already used in the new column.
func (s *TaskService) UpdateTaskStatus(ctx context.Context, owner, id string, status Status) (Task, error) {
	if err := validateOwner(owner); err != nil {
		return Task{}, err
	}
	if err := validateTaskID(id); err != nil {
		return Task{}, err
	}
	if err := validateStatus(status); err != nil {
		return Task{}, err
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	t, err := s.st.UpdateTask(ctx, owner, id, TaskUpdate{Status: &status})
	if err != nil {
		return Task{}, NewStoreError("update task status", err)
	}

	s.broadcast(ctx, owner)
	return t, nil
}

// UpdateTaskFields merges content edits into a task.
func (s *TaskService) UpdateTaskFields(ctx context.Context, owner, id string, patch TaskPatch) (Task, error) {
	if err := validateOwner(owner); err != nil {
		return Task{}, err
	}
	if err := validateTaskID(id); err != nil {
		return Task{}, err
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	current, err := s.st.GetTask(ctx, owner, id)
	if err != nil {
		return Task{}, NewStoreError("get task", err)
	}
	upd, err := patch.check(current)
	if err != nil {
		return Task{}, err
	}
	t, err := s.st.UpdateTask(ctx, owner, id, upd)
	if err != nil {
		return Task{}, NewStoreError("update task", err)
	}

	s.broadcast(ctx, owner)
	return t, nil
}

// DeleteTask removes a task permanently.
func (s *TaskService) DeleteTask(ctx context.Context, owner, id string) error {
	if err := validateOwner(owner); err != nil {
		return err
	}
	if err := validateTaskID(id); err != nil {
		return err
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	if err := s.st.DeleteTask(ctx, owner, id); err != nil {
		return NewStoreError("delete task", err)
	}

	s.broadcast(ctx, owner)
	return nil
}

// ReorderTasks assigns order 0..N-1 following the position of each id in ids.
// Every id must belong to owner; nothing is written otherwise.
func (s *TaskService) ReorderTasks(ctx context.Context, owner string, ids []string) error {
	if err := validateOwner(owner); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if err := validateTaskID(id); err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return invalid("taskIds", "duplicate id "+id)
		}
		seen[id] = struct{}{}
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	if len(ids) > 0 {
		current, err := s.st.ListTasks(ctx, owner)
		if err != nil {
			return NewStoreError("list tasks", err)
		}
		known := make(map[string]struct{}, len(current))
		for _, t := range current {
			known[t.ID] = struct{}{}
		}
		assignments := make([]OrderAssignment, len(ids))
		for i, id := range ids {
			if _, ok := known[id]; !ok {
				return ErrNotFound
			}
			assignments[i] = OrderAssignment{ID: id, Order: i}
		}
		if err := s.st.ApplyOrder(ctx, owner, assignments); err != nil {
			if errors.Is(err, ErrPartialReorder) {
				s.logger.WithError(err).WithFields(log.Fields{"owner": owner, "tasks": len(ids)}).Error("reorder partially applied; view not broadcast")
			}
			return NewStoreError("apply order", err)
		}
	}

	s.broadcast(ctx, owner)
	return nil
}

// Refresh broadcasts the owner's current view in line with its mutations.
func (s *TaskService) Refresh(ctx context.Context, owner string) error {
	if err := validateOwner(owner); err != nil {
		return err
	}
	unlock := s.locks.Lock(owner)
	defer unlock()
	return s.bc.Broadcast(ctx, owner)
}

// View composes the owner's board without broadcasting it.
func (s *TaskService) View(ctx context.Context, owner string) (GroupedView, error) {
	if err := validateOwner(owner); err != nil {
		return GroupedView{}, err
	}
	return NewViewComposer(s.st, s.logger).Compose(ctx, owner)
}

func (s *TaskService) broadcast(ctx context.Context, owner string) {
	if err := s.bc.Broadcast(ctx, owner); err != nil {
		s.logger.WithError(err).WithField("owner", owner).Error("broadcast after mutation failed")
	}
}
