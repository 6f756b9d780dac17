package domain

import (
	"errors"
	"strings"
	"time"
)

// User is a directory record as seen by the authentication core.
type User struct {
	ID           int64
	Email        string
	Name         string
	Status       UserStatus
	PasswordHash string
	DeletedAt    *time.Time // deletion marker; non-nil means the account is gone
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.Status != UserStatusActive && u.Status != UserStatusDisabled {
		return errors.New("unknown user status")
	}
	return nil
}

// IsDisabled reports whether the account may not log in: it is marked deleted or its status is not active.
func (u *User) IsDisabled() bool {
	return u.DeletedAt != nil || u.Status != UserStatusActive
}

// NormalizeEmail lower-cases and trims an email for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
