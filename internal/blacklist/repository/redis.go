package repository

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"token-lifecycle/backend/internal/blacklist/domain"
)

// CachedStore fronts a durable Store with a Redis read cache of positive lookups.
// Only "blacklisted" answers are cached; a miss always consults the durable store,
// so a cache can never hide a revocation written by this process. Redis faults fall
// through to the durable store.
type CachedStore struct {
	Store
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	nowF   func() time.Time
}

// NewCachedStore wraps durable. ttl bounds how long a positive answer is cached; entries
// are never cached past the token's own expiry, whether written by Add or read through.
func NewCachedStore(durable Store, rdb redis.UniversalClient, prefix string, ttl time.Duration) *CachedStore {
	if prefix == "" {
		prefix = "bl"
	}
	return &CachedStore{Store: durable, redis: rdb, prefix: prefix, ttl: ttl, nowF: time.Now}
}

func (s *CachedStore) key(jti string) string {
	return s.prefix + ":" + jti
}

func (s *CachedStore) entryTTL(expiresAt time.Time) time.Duration {
	ttl := s.ttl
	if until := expiresAt.Sub(s.nowF()); until < ttl {
		ttl = until
	}
	return ttl
}

// Add writes through to the durable store, then caches the entry until the token expires.
func (s *CachedStore) Add(ctx context.Context, e *domain.Entry) (bool, error) {
	inserted, err := s.Store.Add(ctx, e)
	if err != nil {
		return false, err
	}
	if ttl := s.entryTTL(e.ExpiresAt()); ttl > 0 {
		if err := s.redis.Set(ctx, s.key(e.JTI()), "1", ttl).Err(); err != nil {
			log.Printf("blacklist cache: set %s: %v", e.JTI(), err)
		}
	}
	return inserted, nil
}

func (s *CachedStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	hit, err := s.redis.Exists(ctx, s.key(jti)).Result()
	if err == nil && hit > 0 {
		return true, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("blacklist cache: exists %s: %v", jti, err)
	}
	ok, err := s.Store.IsBlacklisted(ctx, jti)
	if err != nil {
		return false, err
	}
	if ok && s.ttl > 0 {
		s.cacheReadThrough(ctx, jti)
	}
	return ok, nil
}

// cacheReadThrough caches a durable positive answer until the token's expiry. If the expiry
// cannot be read the answer is left uncached.
func (s *CachedStore) cacheReadThrough(ctx context.Context, jti string) {
	exp, found, err := s.Store.ExpiresAt(ctx, jti)
	if err != nil {
		log.Printf("blacklist cache: expiry %s: %v", jti, err)
		return
	}
	if !found {
		return
	}
	ttl := s.entryTTL(exp)
	if ttl <= 0 {
		return
	}
	if err := s.redis.Set(ctx, s.key(jti), "1", ttl).Err(); err != nil {
		log.Printf("blacklist cache: set %s: %v", jti, err)
	}
}

func (s *CachedStore) BatchIsBlacklisted(ctx context.Context, jtis []string) (map[string]bool, error) {
	out := make(map[string]bool, len(jtis))
	if len(jtis) == 0 {
		return out, nil
	}
	keys := make([]string, len(jtis))
	for i, j := range jtis {
		keys[i] = s.key(j)
	}
	var misses []string
	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("blacklist cache: mget: %v", err)
		misses = jtis
	} else {
		for i, v := range vals {
			if v != nil {
				out[jtis[i]] = true
				continue
			}
			misses = append(misses, jtis[i])
		}
	}
	if len(misses) == 0 {
		return out, nil
	}
	durable, err := s.Store.BatchIsBlacklisted(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, ok := range durable {
		out[j] = ok
	}
	return out, nil
}

// Remove deletes from the durable store and evicts the cached answer.
func (s *CachedStore) Remove(ctx context.Context, jti string) (bool, error) {
	ok, err := s.Store.Remove(ctx, jti)
	if err != nil {
		return false, err
	}
	if err := s.redis.Del(ctx, s.key(jti)).Err(); err != nil {
		log.Printf("blacklist cache: del %s: %v", jti, err)
	}
	return ok, nil
}

func (s *CachedStore) BatchRemove(ctx context.Context, jtis []string) (int64, error) {
	n, err := s.Store.BatchRemove(ctx, jtis)
	if err != nil {
		return 0, err
	}
	if len(jtis) > 0 {
		keys := make([]string, len(jtis))
		for i, j := range jtis {
			keys[i] = s.key(j)
		}
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			log.Printf("blacklist cache: del batch: %v", err)
		}
	}
	return n, nil
}
