package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"token-lifecycle/backend/internal/session/domain"
)

type memEntry struct {
	sess      domain.Session
	expiresAt time.Time
}

// MemoryStore is an in-process Store used in development mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]memEntry
	nowF func() time.Time
}

// NewMemoryStore returns an empty session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]memEntry), nowF: time.Now}
}

// SetClock overrides the store's time source. Used by tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowF = now
}

func (s *MemoryStore) Read(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return nil, nil
	}
	if !s.nowF().Before(e.expiresAt) {
		delete(s.m, id)
		return nil, nil
	}
	sess := e.sess
	sess.ID = id
	return &sess, nil
}

func (s *MemoryStore) Write(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		delete(s.m, sess.ID)
		return nil
	}
	s.m[sess.ID] = memEntry{sess: *sess, expiresAt: s.nowF().Add(ttl)}
	return nil
}

func (s *MemoryStore) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func (s *MemoryStore) Regenerate(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok || !s.nowF().Before(e.expiresAt) {
		delete(s.m, id)
		return "", ErrNotFound
	}
	newID := NewID()
	delete(s.m, id)
	s.m[newID] = e
	return newID, nil
}
