package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"token-lifecycle/backend/internal/refreshtoken/domain"
)

// MemoryStore is an in-process Store used in development mode and tests.
type MemoryStore struct {
	mu    sync.Mutex
	m     map[string]*domain.Record
	order map[string]int64
	seq   int64
	nowF  func() time.Time
}

// NewMemoryStore returns an empty in-memory refresh token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:     make(map[string]*domain.Record),
		order: make(map[string]int64),
		nowF:  time.Now,
	}
}

// memRecord keeps creation order stable when CreatedAt values collide.
type memRecord struct {
	*domain.Record
	seq int64
}

// Create stores a copy of r. A duplicate jti is an error.
func (s *MemoryStore) Create(ctx context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[r.JTI]; ok {
		return ErrDuplicateJTI
	}
	cp := *r
	s.seq++
	s.m[r.JTI] = &cp
	s.order[r.JTI] = s.seq
	return nil
}

// SetClock overrides the store's time source. Used by tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowF = now
}

// FindByJTI returns a copy of the record for jti, or nil.
func (s *MemoryStore) FindByJTI(ctx context.Context, jti string) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[jti]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// FindByUserID returns copies of the user's records, oldest first.
func (s *MemoryStore) FindByUserID(ctx context.Context, userID int64, activeOnly bool) ([]*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	seq := s.order
	var list []memRecord
	for jti, r := range s.m {
		if r.UserID != userID {
			continue
		}
		if activeOnly && !r.IsUsable(now) {
			continue
		}
		cp := *r
		list = append(list, memRecord{Record: &cp, seq: seq[jti]})
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].seq < list[j].seq
	})
	out := make([]*domain.Record, len(list))
	for i := range list {
		out[i] = list[i].Record
	}
	return out, nil
}

// Revoke marks an active record revoked. Returns false when jti is unknown or not active.
func (s *MemoryStore) Revoke(ctx context.Context, jti, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[jti]
	if !ok || r.Status != domain.StatusActive {
		return false, nil
	}
	s.revokeLocked(r, reason)
	return true, nil
}

// RevokeAllByUserID revokes every active record of the user.
func (s *MemoryStore) RevokeAllByUserID(ctx context.Context, userID int64, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.m {
		if r.UserID == userID && r.Status == domain.StatusActive {
			s.revokeLocked(r, reason)
			n++
		}
	}
	return n, nil
}

// RevokeAllByDevice revokes every active record of the user bound to deviceID.
func (s *MemoryStore) RevokeAllByDevice(ctx context.Context, userID int64, deviceID, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.m {
		if r.UserID == userID && r.Device.DeviceID() == deviceID && r.Status == domain.StatusActive {
			s.revokeLocked(r, reason)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) revokeLocked(r *domain.Record, reason string) {
	now := s.nowF()
	r.Status = domain.StatusRevoked
	r.RevokedAt = &now
	r.RevokeReason = reason
	r.UpdatedAt = now
}

// Cleanup deletes records that expired before the cutoff.
func (s *MemoryStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if before.IsZero() {
		before = s.nowF()
	}
	var n int64
	for jti, r := range s.m {
		if r.ExpiresAt.Before(before) {
			delete(s.m, jti)
			delete(s.order, jti)
			n++
		}
	}
	return n, nil
}

// CleanupRevoked deletes records revoked more than days ago.
func (s *MemoryStore) CleanupRevoked(ctx context.Context, days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.nowF().AddDate(0, 0, -days)
	var n int64
	for jti, r := range s.m {
		if r.RevokedAt != nil && r.RevokedAt.Before(cutoff) {
			delete(s.m, jti)
			delete(s.order, jti)
			n++
		}
	}
	return n, nil
}
