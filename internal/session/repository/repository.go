package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"token-lifecycle/backend/internal/session/domain"
)

// ErrNotFound is returned by Regenerate when the session does not exist.
var ErrNotFound = errors.New("session not found")

// Store holds browser sessions keyed by session id.
type Store interface {
	// Read returns the session for id, or nil if it does not exist or has expired.
	Read(ctx context.Context, id string) (*domain.Session, error)
	// Write stores s under s.ID for ttl.
	Write(ctx context.Context, s *domain.Session, ttl time.Duration) error
	// Destroy deletes the session. Destroying a missing session is not an error.
	Destroy(ctx context.Context, id string) error
	// Regenerate moves the session to a fresh id and returns it. The old id stops resolving.
	Regenerate(ctx context.Context, id string) (string, error)
}

// NewID returns a fresh random session identifier.
func NewID() string {
	return uuid.NewString()
}
