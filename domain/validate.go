package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewTask is the payload of an addTask request.
type NewTask struct {
	Status      Status `json:"status"`
	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description" validate:"max=2000"`
}

// TaskPatch is the payload of an updateTask request. Only Title and
// Description are editable; the remaining fields exist so that attempts to
// change them are rejected instead of ignored.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,max=100"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	ID          *string    `json:"id,omitempty"`
	Owner       *string    `json:"owner,omitempty"`
	Email       *string    `json:"email,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Order       *int       `json:"order,omitempty"`
}

func validateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return invalid("owner", "required")
	}
	return nil
}

func validateStatus(s Status) error {
	if s == "" {
		return invalid("status", "required")
	}
	if !s.Valid() {
		return invalid("status", "unknown status "+string(s))
	}
	return nil
}

func validateTaskID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("taskId", "required")
	}
	return nil
}

func (n NewTask) validate() error {
	if err := validateStatus(n.Status); err != nil {
		return err
	}
	if strings.TrimSpace(n.Title) == "" {
		return invalid("title", "required")
	}
	return structError(validate.Struct(n))
}

// check validates the patch against the task it would be applied to and
// returns the resulting store update.
func (p TaskPatch) check(current Task) (TaskUpdate, error) {
	if p.ID != nil && *p.ID != current.ID {
		return TaskUpdate{}, invalid("id", "immutable")
	}
	if p.Owner != nil && *p.Owner != current.Owner {
		return TaskUpdate{}, invalid("owner", "immutable")
	}
	if p.Email != nil && *p.Email != current.Owner {
		return TaskUpdate{}, invalid("email", "immutable")
	}
	if p.CreatedAt != nil {
		return TaskUpdate{}, invalid("createdAt", "immutable")
	}
	if p.Status != nil {
		return TaskUpdate{}, invalid("status", "use updateTaskStatus")
	}
	if p.Order != nil {
		return TaskUpdate{}, invalid("order", "use reorderTasks")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return TaskUpdate{}, invalid("title", "must not be empty")
	}
	if err := structError(validate.Struct(p)); err != nil {
		return TaskUpdate{}, err
	}
	upd := TaskUpdate{Title: p.Title, Description: p.Description}
	if upd.Empty() {
		return TaskUpdate{}, invalid("fields", "nothing to update")
	}
	return upd, nil
}

// ValidateUser checks a profile before it is upserted.
func ValidateUser(u UserProfile) error {
	return structError(validate.Struct(u))
}

func structError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(lowerFirst(fe.Field()), "failed "+fe.Tag())
	}
	return invalid("", err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
