package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	auditdomain "token-lifecycle/backend/internal/audit/domain"
	"token-lifecycle/backend/internal/blacklist/domain"
	"token-lifecycle/backend/internal/blacklist/repository"
	devicedomain "token-lifecycle/backend/internal/device/domain"
	refreshdomain "token-lifecycle/backend/internal/refreshtoken/domain"
	refreshrepo "token-lifecycle/backend/internal/refreshtoken/repository"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogEvent(ctx context.Context, userID int64, action, resource, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingAudit) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, v := range a.actions {
		if v == action {
			n++
		}
	}
	return n
}

// countingStore wraps a Store and counts writes; err makes every call fail.
type countingStore struct {
	repository.Store
	mu     sync.Mutex
	writes int
	err    error
}

func (s *countingStore) Add(ctx context.Context, e *domain.Entry) (bool, error) {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.Store.Add(ctx, e)
}

func (s *countingStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.Store.IsBlacklisted(ctx, jti)
}

func (s *countingStore) BatchIsBlacklisted(ctx context.Context, jtis []string) (map[string]bool, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.Store.BatchIsBlacklisted(ctx, jtis)
}

func (s *countingStore) CleanupExpiredEntries(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.Store.CleanupExpiredEntries(ctx, now, batchSize)
}

func (s *countingStore) SizeInfo(ctx context.Context) (domain.SizeInfo, error) {
	if s.err != nil {
		return domain.SizeInfo{}, s.err
	}
	return s.Store.SizeInfo(ctx)
}

type fixture struct {
	svc     *Service
	store   *countingStore
	records *refreshrepo.MemoryStore
	audit   *recordingAudit
	now     time.Time
}

func newFixture(t *testing.T, limits repository.Limits) *fixture {
	t.Helper()
	f := &fixture{
		store:   &countingStore{Store: repository.NewMemoryStore(limits)},
		records: refreshrepo.NewMemoryStore(),
		audit:   &recordingAudit{},
		now:     time.Now().UTC().Truncate(time.Second),
	}
	f.records.SetClock(func() time.Time { return f.now })
	f.svc = NewService(f.store, f.records, f.audit, nil, nil, Config{})
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) request(jti string, reason domain.Reason) BlacklistRequest {
	return BlacklistRequest{
		JTI:       jti,
		TokenType: tokendomain.TokenTypeAccess,
		UserID:    42,
		ExpiresAt: f.now.Add(15 * time.Minute),
		Reason:    reason,
		DeviceID:  "device-1",
	}
}

func (f *fixture) addRecord(t *testing.T, jti, deviceID string) {
	t.Helper()
	dev, err := devicedomain.NewInfo(devicedomain.Params{
		DeviceID:  deviceID,
		IPAddress: "10.0.0.1",
		Class:     devicedomain.ClassDesktop,
	})
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	err = f.records.Create(context.Background(), &refreshdomain.Record{
		ID:        "id-" + jti,
		JTI:       jti,
		UserID:    42,
		TokenHash: "hash-" + jti,
		ExpiresAt: f.now.Add(24 * time.Hour),
		Device:    dev,
		Status:    refreshdomain.StatusActive,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestBlacklistToken(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()

	added, err := f.svc.BlacklistToken(ctx, f.request("jti-1", domain.ReasonLogout))
	if err != nil || !added {
		t.Fatalf("BlacklistToken = (%v, %v), want (true, nil)", added, err)
	}
	if !f.svc.IsTokenBlacklisted(ctx, "jti-1") {
		t.Error("jti-1 should be blacklisted")
	}
	added, err = f.svc.BlacklistToken(ctx, f.request("jti-1", domain.ReasonLogout))
	if err != nil || added {
		t.Errorf("second BlacklistToken = (%v, %v), want (false, nil)", added, err)
	}
	if n := f.audit.count(auditdomain.ActionBlacklist); n != 0 {
		t.Errorf("logout reason audited %d times, want 0", n)
	}
}

func TestBlacklistToken_HighPriorityIsAudited(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	if _, err := f.svc.BlacklistToken(context.Background(), f.request("jti-1", domain.ReasonSecurityBreach)); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	if n := f.audit.count(auditdomain.ActionBlacklist); n != 1 {
		t.Errorf("blacklist audit events = %d, want 1", n)
	}
}

func TestBlacklistToken_PaddedReason(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	if _, err := f.svc.BlacklistToken(ctx, f.request("jti-1", domain.Reason(" security_breach "))); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	if n := f.audit.count(auditdomain.ActionBlacklist); n != 1 {
		t.Errorf("blacklist audit events = %d, want 1", n)
	}
	entries := f.svc.Search(ctx, domain.SearchCriteria{}, 10, 0)
	if len(entries) != 1 || entries[0].Reason() != domain.ReasonSecurityBreach {
		t.Fatalf("stored entries = %v, want one security_breach entry", entries)
	}
}

func TestBlacklistToken_ValidationBeforeStore(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*BlacklistRequest)
	}{
		{"unknown reason", func(r *BlacklistRequest) { r.Reason = "because" }},
		{"unknown token type", func(r *BlacklistRequest) { r.TokenType = "id" }},
		{"empty jti", func(r *BlacklistRequest) { r.JTI = "" }},
		{"missing expiry", func(r *BlacklistRequest) { r.ExpiresAt = time.Time{} }},
		{"non-positive user", func(r *BlacklistRequest) { r.UserID = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, repository.Limits{})
			req := f.request("jti-1", domain.ReasonLogout)
			tc.mutate(&req)
			_, err := f.svc.BlacklistToken(context.Background(), req)
			if !errors.Is(err, domain.ErrInvalidEntry) {
				t.Errorf("err = %v, want ErrInvalidEntry", err)
			}
			if f.store.writes != 0 {
				t.Errorf("store writes = %d, want 0", f.store.writes)
			}
		})
	}
}

func TestBlacklistToken_StoreError(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	f.store.err = errors.New("connection refused")
	if _, err := f.svc.BlacklistToken(context.Background(), f.request("jti-1", domain.ReasonLogout)); err == nil {
		t.Error("want error when the store fails")
	}
}

func TestLookups_FailClosed(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	f.store.err = errors.New("connection refused")
	ctx := context.Background()
	if !f.svc.IsTokenBlacklisted(ctx, "anything") {
		t.Error("IsTokenBlacklisted should report true on store failure")
	}
	got := f.svc.BatchCheckBlacklist(ctx, []string{"a", "b"})
	if !got["a"] || !got["b"] {
		t.Errorf("BatchCheckBlacklist = %v, want all true", got)
	}
}

func TestLookups_MalformedJTIReportsBlacklisted(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	long := strings.Repeat("x", tokendomain.MaxJTILength+1)
	for _, jti := range []string{"", "   ", long} {
		if !f.svc.IsTokenBlacklisted(ctx, jti) {
			t.Errorf("IsTokenBlacklisted(%.10q) = false, want true", jti)
		}
	}
	got := f.svc.BatchCheckBlacklist(ctx, []string{"", "ok", long})
	if !got[""] || got["ok"] || !got[long] {
		t.Errorf("BatchCheckBlacklist = %v, want malformed=true ok=false", got)
	}
}

func TestBatchCheckBlacklist(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	if _, err := f.svc.BlacklistToken(ctx, f.request("a", domain.ReasonLogout)); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	got := f.svc.BatchCheckBlacklist(ctx, []string{"a", "b"})
	if len(got) != 2 || !got["a"] || got["b"] {
		t.Errorf("BatchCheckBlacklist = %v, want a=true b=false", got)
	}
	if got := f.svc.BatchCheckBlacklist(ctx, nil); len(got) != 0 {
		t.Errorf("empty batch = %v", got)
	}
}

func TestBlacklistUserTokens(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	f.addRecord(t, "r1", "device-1")
	f.addRecord(t, "r2", "device-2")

	if n := f.svc.BlacklistUserTokens(ctx, 42, domain.ReasonPasswordChanged); n != 2 {
		t.Fatalf("BlacklistUserTokens = %d, want 2", n)
	}
	got := f.svc.BatchCheckBlacklist(ctx, []string{"r1", "r2"})
	if !got["r1"] || !got["r2"] {
		t.Errorf("refresh jtis not blacklisted: %v", got)
	}
	rec, _ := f.records.FindByJTI(ctx, "r1")
	if rec.Status != refreshdomain.StatusRevoked || rec.RevokeReason != string(domain.ReasonPasswordChanged) {
		t.Errorf("record = %s/%s, want revoked/password_changed", rec.Status, rec.RevokeReason)
	}
	if n := f.svc.BlacklistUserTokens(ctx, 42, domain.ReasonPasswordChanged); n != 0 {
		t.Errorf("second BlacklistUserTokens = %d, want 0", n)
	}
}

func TestBlacklistDeviceTokens(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	f.addRecord(t, "r1", "device-1")
	f.addRecord(t, "r2", "device-2")

	if n := f.svc.BlacklistDeviceTokens(ctx, 42, "device-1", domain.ReasonDeviceLost); n != 1 {
		t.Fatalf("BlacklistDeviceTokens = %d, want 1", n)
	}
	got := f.svc.BatchCheckBlacklist(ctx, []string{"r1", "r2"})
	if !got["r1"] || got["r2"] {
		t.Errorf("blacklist = %v, want only r1", got)
	}
	if n := f.svc.BlacklistDeviceTokens(ctx, 42, "", domain.ReasonDeviceLost); n != 0 {
		t.Errorf("empty device id revoked %d", n)
	}
	if n := f.svc.BlacklistUserTokens(ctx, 42, "nope"); n != 0 {
		t.Errorf("unknown reason revoked %d", n)
	}
}

func TestRemoveFromBlacklist(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	if _, err := f.svc.BlacklistToken(ctx, f.request("jti-1", domain.ReasonManualRevocation)); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	if !f.svc.RemoveFromBlacklist(ctx, "jti-1") {
		t.Error("RemoveFromBlacklist = false, want true")
	}
	if f.svc.RemoveFromBlacklist(ctx, "jti-1") {
		t.Error("second RemoveFromBlacklist = true, want false")
	}
	if f.svc.IsTokenBlacklisted(ctx, "jti-1") {
		t.Error("jti-1 still blacklisted")
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		reason := domain.ReasonLogout
		if i%2 == 0 {
			reason = domain.ReasonSuspiciousActivity
		}
		if _, err := f.svc.BlacklistToken(ctx, f.request(fmt.Sprintf("jti-%d", i), reason)); err != nil {
			t.Fatalf("BlacklistToken: %v", err)
		}
	}
	testCases := []struct {
		name     string
		criteria domain.SearchCriteria
		limit    int
		want     int
	}{
		{"default limit", domain.SearchCriteria{}, 0, DefaultSearchLimit},
		{"explicit limit", domain.SearchCriteria{}, 10, 10},
		{"limit above max is clamped", domain.SearchCriteria{}, MaxSearchLimit + 1, 60},
		{"by reason", domain.SearchCriteria{Reason: domain.ReasonLogout}, 100, 30},
		{"other user", domain.SearchCriteria{UserID: 7}, 100, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.svc.Search(ctx, tc.criteria, tc.limit, 0); len(got) != tc.want {
				t.Errorf("len = %d, want %d", len(got), tc.want)
			}
		})
	}
}

func TestGetStatistics(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	_, _ = f.svc.BlacklistToken(ctx, f.request("a", domain.ReasonLogout))
	_, _ = f.svc.BlacklistToken(ctx, f.request("b", domain.ReasonSecurityBreach))
	stats, err := f.svc.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.Total != 2 || stats.SecurityRelated != 1 || stats.ByReason[domain.ReasonLogout] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAutoCleanup(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	ctx := context.Background()
	// Five entries that expire in a minute, three that were blacklisted long ago but still live.
	for i := 0; i < 5; i++ {
		req := f.request(fmt.Sprintf("exp-%d", i), domain.ReasonLogout)
		req.ExpiresAt = f.now.Add(time.Minute)
		if _, err := f.svc.BlacklistToken(ctx, req); err != nil {
			t.Fatalf("BlacklistToken: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		entry, err := domain.NewEntry(domain.EntryParams{
			JTI:           fmt.Sprintf("old-%d", i),
			TokenType:     tokendomain.TokenTypeRefresh,
			UserID:        42,
			ExpiresAt:     f.now.Add(365 * 24 * time.Hour),
			BlacklistedAt: f.now.AddDate(0, 0, -DefaultRetentionDays-1),
			Reason:        domain.ReasonLogout,
		}, f.now)
		if err != nil {
			t.Fatalf("NewEntry: %v", err)
		}
		if _, err := f.store.Store.Add(ctx, entry); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	_, _ = f.svc.BlacklistToken(ctx, f.request("keep", domain.ReasonLogout))
	f.now = f.now.Add(10 * time.Minute)

	res := f.svc.AutoCleanup(ctx, 2)
	if !res.Success {
		t.Fatalf("AutoCleanup failed: %s", res.Message)
	}
	if res.ExpiredRemoved != 5 || res.OldRemoved != 3 {
		t.Errorf("removed expired=%d old=%d, want 5 and 3", res.ExpiredRemoved, res.OldRemoved)
	}
	size, _ := f.store.SizeInfo(ctx)
	if size.Total != 1 {
		t.Errorf("remaining = %d, want 1", size.Total)
	}
}

func TestAutoCleanup_NeverErrors(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	f.store.err = errors.New("connection refused")
	res := f.svc.AutoCleanup(context.Background(), 0)
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.Message == "" {
		t.Error("Message should describe the failure")
	}
}

func TestGetHealthStatus(t *testing.T) {
	testCases := []struct {
		name        string
		limits      repository.Limits
		entries     int
		wantHealthy bool
		wantHints   int
	}{
		{"empty", repository.Limits{MaxEntries: 10, WarnEntries: 5}, 0, true, 0},
		{"above warning", repository.Limits{MaxEntries: 10, WarnEntries: 5}, 6, false, 1},
		{"at hard limit", repository.Limits{MaxEntries: 10, WarnEntries: 5}, 10, false, 1},
		{"unlimited", repository.Limits{}, 20, true, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.limits)
			for i := 0; i < tc.entries; i++ {
				if _, err := f.svc.BlacklistToken(context.Background(), f.request(fmt.Sprintf("jti-%d", i), domain.ReasonLogout)); err != nil {
					t.Fatalf("BlacklistToken: %v", err)
				}
			}
			h := f.svc.GetHealthStatus(context.Background())
			if h.Healthy != tc.wantHealthy {
				t.Errorf("Healthy = %v, want %v", h.Healthy, tc.wantHealthy)
			}
			if len(h.Recommendations) != tc.wantHints {
				t.Errorf("Recommendations = %v, want %d", h.Recommendations, tc.wantHints)
			}
		})
	}
}

func TestGetHealthStatus_SecurityThreshold(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	f.svc.cfg.SecurityWarnThreshold = 2
	for i := 0; i < 3; i++ {
		_, _ = f.svc.BlacklistToken(context.Background(), f.request(fmt.Sprintf("jti-%d", i), domain.ReasonSuspiciousActivity))
	}
	h := f.svc.GetHealthStatus(context.Background())
	if !h.Healthy || h.SecurityRelated != 3 || len(h.Recommendations) != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestGetHealthStatus_StoreDown(t *testing.T) {
	f := newFixture(t, repository.Limits{})
	f.store.err = errors.New("connection refused")
	if h := f.svc.GetHealthStatus(context.Background()); h.Available || h.Healthy || len(h.Recommendations) == 0 {
		t.Errorf("health = %+v, want unhealthy with a hint", h)
	}
}
