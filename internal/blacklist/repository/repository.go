package repository

import (
	"context"
	"time"

	"token-lifecycle/backend/internal/blacklist/domain"
)

// Store persists blacklist entries keyed by jti.
type Store interface {
	// Add inserts e. It reports false when the jti is already blacklisted.
	Add(ctx context.Context, e *domain.Entry) (bool, error)
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	// ExpiresAt returns the expiry of the blacklisted token, or false when jti is not blacklisted.
	ExpiresAt(ctx context.Context, jti string) (time.Time, bool, error)
	// BatchIsBlacklisted returns an entry for every requested jti.
	BatchIsBlacklisted(ctx context.Context, jtis []string) (map[string]bool, error)
	Remove(ctx context.Context, jti string) (bool, error)
	BatchRemove(ctx context.Context, jtis []string) (int64, error)
	// CleanupExpiredEntries deletes up to batchSize entries whose token expired before now.
	CleanupExpiredEntries(ctx context.Context, now time.Time, batchSize int) (int64, error)
	// CleanupOldEntries deletes up to batchSize entries blacklisted before the cutoff, expired or not.
	CleanupOldEntries(ctx context.Context, before time.Time, batchSize int) (int64, error)
	SizeInfo(ctx context.Context) (domain.SizeInfo, error)
	IsSizeExceeded(ctx context.Context) (bool, error)
	Stats(ctx context.Context, now time.Time) (*domain.Stats, error)
	// Search returns entries matching c, newest first.
	Search(ctx context.Context, c domain.SearchCriteria, limit, offset int) ([]*domain.Entry, error)
}

// Limits are the size thresholds reported by SizeInfo.
type Limits struct {
	MaxEntries  int64
	WarnEntries int64
}
