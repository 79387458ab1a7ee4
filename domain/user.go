package domain

import "time"

// UserProfile is the account record refreshed on every login.
type UserProfile struct {
	Email     string    `json:"email" validate:"required,email"`
	Name      string    `json:"name,omitempty" validate:"max=200"`
	PhotoURL  string    `json:"photoURL,omitempty" validate:"omitempty,url"`
	CreatedAt time.Time `json:"createdAt"`
	LastLogin time.Time `json:"lastLogin"`
}
