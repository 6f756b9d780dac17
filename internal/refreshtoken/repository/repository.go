package repository

import (
	"context"
	"time"

	"token-lifecycle/backend/internal/refreshtoken/domain"
)

// Store persists refresh token records.
//
// Revoke operations are idempotent: revoking an unknown or already-revoked jti reports
// false/0 and no error. FindByJTI returns (nil, nil) when the jti is unknown.
type Store interface {
	Create(ctx context.Context, r *domain.Record) error
	FindByJTI(ctx context.Context, jti string) (*domain.Record, error)
	// FindByUserID returns the user's records ordered by creation time, oldest first.
	FindByUserID(ctx context.Context, userID int64, activeOnly bool) ([]*domain.Record, error)
	Revoke(ctx context.Context, jti, reason string) (bool, error)
	RevokeAllByUserID(ctx context.Context, userID int64, reason string) (int64, error)
	RevokeAllByDevice(ctx context.Context, userID int64, deviceID, reason string) (int64, error)
	// Cleanup hard-deletes records that expired before the cutoff. A zero cutoff means now.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	// CleanupRevoked hard-deletes records revoked more than days ago.
	CleanupRevoked(ctx context.Context, days int) (int64, error)
}
