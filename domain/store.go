package domain

import "context"

// TaskStore is the persistence contract for tasks. Implementations return
// ErrNotFound for missing tasks and wrap every other failure in a StoreError.
type TaskStore interface {
	GetTask(ctx context.Context, owner, id string) (Task, error)
	// ListTasks returns the owner's tasks ordered by Order, then CreatedAt.
	ListTasks(ctx context.Context, owner string) ([]Task, error)
	// MaxOrder returns the largest order in the bucket; ok is false when the
	// bucket is empty.
	MaxOrder(ctx context.Context, owner string, status Status) (order int, ok bool, err error)
	InsertTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, owner, id string, upd TaskUpdate) (Task, error)
	DeleteTask(ctx context.Context, owner, id string) error
	// ApplyOrder writes all assignments as one bulk operation. A backend that
	// applied only some of them returns an error wrapping ErrPartialReorder.
	ApplyOrder(ctx context.Context, owner string, assignments []OrderAssignment) error
}

// UserStore persists user profiles keyed by email.
type UserStore interface {
	// UpsertUser refreshes LastLogin and creates the profile, with
	// CreatedAt, when it does not exist yet.
	UpsertUser(ctx context.Context, u UserProfile) error
	GetUser(ctx context.Context, email string) (UserProfile, error)
}
