package domain

import "time"

// Status names the board column a task lives in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusFinished   Status = "finished"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusFinished}

// Valid reports whether s is one of the known board columns.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusFinished:
		return true
	}
	return false
}

// Task represents a single board item.
type Task struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Status      Status    `json:"status"`
	Order       int       `json:"order"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TaskUpdate carries the fields a single store update changes. Nil fields
// are left untouched.
type TaskUpdate struct {
	Status      *Status
	Order       *int
	Title       *string
	Description *string
}

// Empty reports whether the update would change nothing.
func (u TaskUpdate) Empty() bool {
	return u.Status == nil && u.Order == nil && u.Title == nil && u.Description == nil
}

// Apply merges the update into t.
func (u TaskUpdate) Apply(t *Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Order != nil {
		t.Order = *u.Order
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
}

// OrderAssignment sets the order of one task during a dense reorder.
type OrderAssignment struct {
	ID    string
	Order int
}

// GroupedView is the read model pushed to clients: a user's tasks split by
// column, each column ordered for display.
type GroupedView struct {
	Todo       []Task `json:"todo"`
	InProgress []Task `json:"in-progress"`
	Finished   []Task `json:"finished"`
}

// NewGroupedView returns a view whose columns encode as empty arrays.
func NewGroupedView() GroupedView {
	return GroupedView{Todo: []Task{}, InProgress: []Task{}, Finished: []Task{}}
}

// Column returns the tasks in the given column.
func (v GroupedView) Column(s Status) []Task {
	switch s {
	case StatusTodo:
		return v.Todo
	case StatusInProgress:
		return v.InProgress
	case StatusFinished:
		return v.Finished
	}
	return nil
}

// ViewUpdate is one tasksUpdated message: the view recomposed for Owner.
type ViewUpdate struct {
	Owner string      `json:"owner"`
	View  GroupedView `json:"view"`
}
