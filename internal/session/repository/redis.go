package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"token-lifecycle/backend/internal/session/domain"
)

// regenerateScript renames KEYS[1] to KEYS[2], keeping its TTL. Returns 0 when KEYS[1] is missing.
const regenerateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("RENAME", KEYS[1], KEYS[2])
return 1
`

var regenerateLua = redis.NewScript(regenerateScript)

// RedisStore keeps sessions as JSON blobs under "<prefix>:<id>" with a TTL.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a session store on rdb. An empty prefix defaults to "sess".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sess"
	}
	return &RedisStore{redis: rdb, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) Read(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, nil
	}
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	sess.ID = id
	return &sess, nil
}

func (s *RedisStore) Write(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	if ttl <= 0 {
		return s.Destroy(ctx, sess.ID)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.key(sess.ID), data, ttl).Err()
}

func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.redis.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) Regenerate(ctx context.Context, id string) (string, error) {
	newID := NewID()
	moved, err := regenerateLua.Run(ctx, s.redis, []string{s.key(id), s.key(newID)}).Int()
	if err != nil {
		return "", err
	}
	if moved == 0 {
		return "", ErrNotFound
	}
	return newID, nil
}
