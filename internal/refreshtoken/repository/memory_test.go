package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	devicedomain "token-lifecycle/backend/internal/device/domain"
	"token-lifecycle/backend/internal/refreshtoken/domain"
)

func testDevice(t *testing.T, id string) devicedomain.Info {
	t.Helper()
	d, err := devicedomain.FromRequest(id, "laptop", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	return d
}

func newRecord(t *testing.T, jti string, userID int64, created time.Time) *domain.Record {
	return &domain.Record{
		ID:        "id-" + jti,
		JTI:       jti,
		UserID:    userID,
		TokenHash: "hash-" + jti,
		ExpiresAt: created.Add(24 * time.Hour),
		Device:    testDevice(t, "dev-1"),
		Status:    domain.StatusActive,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	if err := s.Create(ctx, newRecord(t, "a", 1, now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, newRecord(t, "a", 1, now)); !errors.Is(err, ErrDuplicateJTI) {
		t.Errorf("duplicate Create err = %v, want ErrDuplicateJTI", err)
	}
	got, err := s.FindByJTI(ctx, "a")
	if err != nil || got == nil {
		t.Fatalf("FindByJTI: %v, %v", got, err)
	}
	if got.UserID != 1 || got.Device.DeviceID() != "dev-1" {
		t.Errorf("record = %+v", got)
	}
	missing, err := s.FindByJTI(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("FindByJTI(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryStore_FindByUserIDOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	_ = s.Create(ctx, newRecord(t, "second", 1, base.Add(time.Second)))
	_ = s.Create(ctx, newRecord(t, "first", 1, base))
	_ = s.Create(ctx, newRecord(t, "other", 2, base))
	_, _ = s.Revoke(ctx, "second", domain.RevokeReasonLogout)

	all, _ := s.FindByUserID(ctx, 1, false)
	if len(all) != 2 || all[0].JTI != "first" || all[1].JTI != "second" {
		t.Fatalf("FindByUserID(all) = %v", jtis(all))
	}
	active, _ := s.FindByUserID(ctx, 1, true)
	if len(active) != 1 || active[0].JTI != "first" {
		t.Errorf("FindByUserID(active) = %v", jtis(active))
	}
}

func TestMemoryStore_RevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, newRecord(t, "a", 1, time.Now()))

	ok, err := s.Revoke(ctx, "a", domain.RevokeReasonRotation)
	if err != nil || !ok {
		t.Fatalf("first Revoke = %v, %v", ok, err)
	}
	ok, err = s.Revoke(ctx, "a", domain.RevokeReasonRotation)
	if err != nil || ok {
		t.Errorf("second Revoke = %v, %v; want false, nil", ok, err)
	}
	ok, err = s.Revoke(ctx, "unknown", domain.RevokeReasonLogout)
	if err != nil || ok {
		t.Errorf("Revoke(unknown) = %v, %v; want false, nil", ok, err)
	}
	rec, _ := s.FindByJTI(ctx, "a")
	if !rec.WasRotated() || rec.RevokedAt == nil {
		t.Errorf("record after rotation = %+v", rec)
	}
}

func TestMemoryStore_RevokeAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	_ = s.Create(ctx, newRecord(t, "a", 1, now))
	_ = s.Create(ctx, newRecord(t, "b", 1, now))
	other := newRecord(t, "c", 1, now)
	other.Device = testDevice(t, "dev-2")
	_ = s.Create(ctx, other)

	n, err := s.RevokeAllByDevice(ctx, 1, "dev-2", domain.RevokeReasonDeviceLost)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAllByDevice = %d, %v", n, err)
	}
	n, err = s.RevokeAllByUserID(ctx, 1, domain.RevokeReasonSecurityBreach)
	if err != nil || n != 2 {
		t.Fatalf("RevokeAllByUserID = %d, %v", n, err)
	}
	n, _ = s.RevokeAllByUserID(ctx, 1, domain.RevokeReasonSecurityBreach)
	if n != 0 {
		t.Errorf("second RevokeAllByUserID = %d, want 0", n)
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	expired := newRecord(t, "expired", 1, now.Add(-48*time.Hour))
	_ = s.Create(ctx, expired)
	_ = s.Create(ctx, newRecord(t, "live", 1, now))
	_ = s.Create(ctx, newRecord(t, "old-revoked", 1, now))

	s.SetClock(func() time.Time { return now.Add(-40 * 24 * time.Hour) })
	_, _ = s.Revoke(ctx, "old-revoked", domain.RevokeReasonLogout)
	s.SetClock(func() time.Time { return now })

	n, err := s.Cleanup(ctx, time.Time{})
	if err != nil || n != 1 {
		t.Fatalf("Cleanup = %d, %v; want 1", n, err)
	}
	n, err = s.CleanupRevoked(ctx, 30)
	if err != nil || n != 1 {
		t.Fatalf("CleanupRevoked = %d, %v; want 1", n, err)
	}
	if rec, _ := s.FindByJTI(ctx, "live"); rec == nil {
		t.Error("live record was cleaned up")
	}
}

func jtis(list []*domain.Record) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.JTI
	}
	return out
}
