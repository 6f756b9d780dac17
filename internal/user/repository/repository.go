package repository

import (
	"context"

	"token-lifecycle/backend/internal/user/domain"
)

// Directory is the user directory consumed by authentication.
type Directory interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// ValidateCredentials returns the user when email and password match, or nil on bad
	// credentials. Disabled accounts are returned; the caller decides what to do with them.
	ValidateCredentials(ctx context.Context, email, password string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, userID int64) error
}

// PasswordVerifier checks a password against a stored hash.
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
	Hash(password string) (string, error)
}
