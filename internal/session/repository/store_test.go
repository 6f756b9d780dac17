package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"token-lifecycle/backend/internal/session/domain"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "sess"), mr
}

func testSession(id string) *domain.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Session{
		ID:            id,
		UserID:        42,
		UserAgentHash: domain.HashUserAgent("Mozilla/5.0"),
		IPAddress:     "10.0.0.1",
		CreatedAt:     now,
		LastActivity:  now,
	}
}

// storeContract runs the behavior every Store implementation must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	got, err := s.Read(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("Read(missing) = (%v, %v), want (nil, nil)", got, err)
	}

	sess := testSession("sid-1")
	if err := s.Write(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err = s.Read(ctx, "sid-1")
	if err != nil || got == nil {
		t.Fatalf("Read = (%v, %v)", got, err)
	}
	if got.ID != "sid-1" || got.UserID != 42 || got.IPAddress != "10.0.0.1" || !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Errorf("Read = %+v", got)
	}

	newID, err := s.Regenerate(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if newID == "" || newID == "sid-1" {
		t.Fatalf("Regenerate id = %q", newID)
	}
	if got, _ := s.Read(ctx, "sid-1"); got != nil {
		t.Error("old id still resolves after Regenerate")
	}
	if got, _ := s.Read(ctx, newID); got == nil || got.UserID != 42 {
		t.Errorf("new id Read = %+v", got)
	}
	if _, err := s.Regenerate(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Regenerate(old) err = %v, want ErrNotFound", err)
	}

	if err := s.Destroy(ctx, newID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := s.Destroy(ctx, newID); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
	if got, _ := s.Read(ctx, newID); got != nil {
		t.Error("session readable after Destroy")
	}
	if err := s.Write(ctx, &domain.Session{}, time.Hour); err == nil {
		t.Error("Write without id: want error")
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestRedisStore_Contract(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	storeContract(t, s)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()
	if err := s.Write(ctx, testSession("sid"), time.Minute); err != nil {
		t.Fatalf("Write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if got, _ := s.Read(ctx, "sid"); got != nil {
		t.Error("expired session still readable")
	}
}

func TestRedisStore_TTLAndRegenerateKeepsTTL(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()
	if err := s.Write(ctx, testSession("sid"), time.Minute); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ttl := mr.TTL("sess:sid"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
	newID, err := s.Regenerate(ctx, "sid")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if ttl := mr.TTL("sess:" + newID); ttl != time.Minute {
		t.Errorf("TTL after Regenerate = %v, want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if got, _ := s.Read(ctx, newID); got != nil {
		t.Error("session readable after TTL")
	}
}

func TestRedisStore_CorruptBlob(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	if err := mr.Set("sess:bad", "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Read(context.Background(), "bad"); err == nil {
		t.Error("Read(corrupt): want error")
	}
}
