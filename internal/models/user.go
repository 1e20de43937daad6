package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered collaborator.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasPassword reports whether the account was registered with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
