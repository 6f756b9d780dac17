package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"token-lifecycle/backend/internal/blacklist/domain"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// MemoryStore is an in-process Store used in development mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	m      map[string]*domain.Entry
	limits Limits
}

// NewMemoryStore returns an empty in-memory blacklist.
func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{m: make(map[string]*domain.Entry), limits: limits}
}

func (s *MemoryStore) Add(ctx context.Context, e *domain.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[e.JTI()]; ok {
		return false, nil
	}
	s.m[e.JTI()] = e
	return true, nil
}

func (s *MemoryStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[jti]
	return ok, nil
}

func (s *MemoryStore) ExpiresAt(ctx context.Context, jti string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[jti]
	if !ok {
		return time.Time{}, false, nil
	}
	return e.ExpiresAt(), true, nil
}

func (s *MemoryStore) BatchIsBlacklisted(ctx context.Context, jtis []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(jtis))
	for _, j := range jtis {
		_, out[j] = s.m[j]
	}
	return out, nil
}

func (s *MemoryStore) Remove(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[jti]; !ok {
		return false, nil
	}
	delete(s.m, jti)
	return true, nil
}

func (s *MemoryStore) BatchRemove(ctx context.Context, jtis []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range jtis {
		if _, ok := s.m[j]; ok {
			delete(s.m, j)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CleanupExpiredEntries(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	return s.deleteWhere(batchSize, func(e *domain.Entry) bool { return e.ExpiresAt().Before(now) })
}

func (s *MemoryStore) CleanupOldEntries(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	return s.deleteWhere(batchSize, func(e *domain.Entry) bool { return e.BlacklistedAt().Before(before) })
}

func (s *MemoryStore) deleteWhere(limit int, match func(*domain.Entry) bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for jti, e := range s.m {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if match(e) {
			delete(s.m, jti)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SizeInfo(ctx context.Context) (domain.SizeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SizeInfo{
		Total:       int64(len(s.m)),
		MaxEntries:  s.limits.MaxEntries,
		WarnEntries: s.limits.WarnEntries,
	}, nil
}

func (s *MemoryStore) IsSizeExceeded(ctx context.Context) (bool, error) {
	info, err := s.SizeInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.Exceeded(), nil
}

func (s *MemoryStore) Stats(ctx context.Context, now time.Time) (*domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &domain.Stats{
		ByReason:    make(map[domain.Reason]int64),
		ByTokenType: make(map[tokendomain.TokenType]int64),
	}
	for _, e := range s.m {
		st.Total++
		st.ByReason[e.Reason()]++
		st.ByTokenType[e.TokenType()]++
		if e.IsExpired(now) {
			st.Expired++
		}
		if e.Reason().IsSecurityRelated() {
			st.SecurityRelated++
		}
		at := e.BlacklistedAt()
		if st.Oldest == nil || at.Before(*st.Oldest) {
			st.Oldest = &at
		}
		if st.Newest == nil || at.After(*st.Newest) {
			st.Newest = &at
		}
	}
	return st, nil
}

func (s *MemoryStore) Search(ctx context.Context, c domain.SearchCriteria, limit, offset int) ([]*domain.Entry, error) {
	s.mu.RLock()
	var list []*domain.Entry
	for _, e := range s.m {
		if c.Matches(e) {
			list = append(list, e)
		}
	}
	s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].BlacklistedAt().Equal(list[j].BlacklistedAt()) {
			return list[i].BlacklistedAt().After(list[j].BlacklistedAt())
		}
		return list[i].JTI() < list[j].JTI()
	})
	if offset >= len(list) {
		return nil, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}
