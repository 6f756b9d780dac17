package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auditdomain "token-lifecycle/backend/internal/audit/domain"
	"token-lifecycle/backend/internal/session/domain"
	"token-lifecycle/backend/internal/session/repository"
)

const (
	testUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15"
	testIP = "203.0.113.10"
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

type brokenStore struct {
	repository.Store
}

func (brokenStore) Read(ctx context.Context, id string) (*domain.Session, error) {
	return nil, errors.New("connection refused")
}

type fixture struct {
	guard *Guard
	store *repository.MemoryStore
	audit *recordingAudit
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: repository.NewMemoryStore(),
		audit: &recordingAudit{},
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store.SetClock(clock)
	f.guard = NewGuard(f.store, f.audit, nil, nil, Config{})
	f.guard.SetClock(clock)
	return f
}

func (f *fixture) login(t *testing.T) *domain.Session {
	t.Helper()
	sess, err := f.guard.Init(context.Background(), "", 42, testIP, testUA)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return sess
}

func (f *fixture) exists(id string) bool {
	s, _ := f.store.Read(context.Background(), id)
	return s != nil
}

func TestInit_RegeneratesIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	anon := &domain.Session{ID: "pre-login", UserID: 1}
	if err := f.store.Write(ctx, anon, time.Hour); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sess, err := f.guard.Init(ctx, "pre-login", 42, testIP, testUA)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if sess.ID == "pre-login" {
		t.Error("Init reused the pre-login id")
	}
	if f.exists("pre-login") {
		t.Error("pre-login session was not destroyed")
	}
	if !f.exists(sess.ID) {
		t.Error("new session not stored")
	}
}

func TestInit_Invalid(t *testing.T) {
	f := newFixture(t)
	if _, err := f.guard.Init(context.Background(), "", 0, testIP, testUA); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("err = %v, want ErrInvalidSession", err)
	}
}

func TestPerformSecurityCheck(t *testing.T) {
	testCases := []struct {
		name        string
		advance     time.Duration
		ip          string
		ua          string
		wantStatus  Status
		wantSession bool
	}{
		{"same device", time.Minute, testIP, testUA, StatusOK, true},
		{"idle under limit", 119 * time.Minute, testIP, testUA, StatusOK, true},
		{"idle timeout", 2*time.Hour + time.Second, testIP, testUA, StatusExpired, false},
		{"user agent changed", time.Minute, testIP, "curl/8.4.0", StatusHijackSuspected, false},
		{"ip changed", time.Minute, "198.51.100.7", testUA, StatusReauthRequired, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			sess := f.login(t)
			f.now = f.now.Add(tc.advance)
			res := f.guard.PerformSecurityCheck(context.Background(), sess.ID, tc.ip, tc.ua)
			if res.Status != tc.wantStatus {
				t.Fatalf("Status = %s (%s), want %s", res.Status, res.Reason, tc.wantStatus)
			}
			if f.exists(sess.ID) != tc.wantSession {
				t.Errorf("session exists = %v, want %v", f.exists(sess.ID), tc.wantSession)
			}
		})
	}
}

func TestPerformSecurityCheck_HijackIsAudited(t *testing.T) {
	f := newFixture(t)
	sess := f.login(t)
	f.guard.PerformSecurityCheck(context.Background(), sess.ID, testIP, "evil-bot/1.0")
	if len(f.audit.actions) != 1 || f.audit.actions[0] != auditdomain.ActionSessionHijack {
		t.Errorf("audit = %v, want [%s]", f.audit.actions, auditdomain.ActionSessionHijack)
	}
}

func TestPerformSecurityCheck_AbsoluteTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t)
	// Keep the session busy so it never goes idle.
	for i := 0; i < 7; i++ {
		f.now = f.now.Add(time.Hour)
		if res := f.guard.PerformSecurityCheck(ctx, sess.ID, testIP, testUA); !res.Valid() {
			t.Fatalf("hour %d: Status = %s", i+1, res.Status)
		}
	}
	f.now = f.now.Add(time.Hour + time.Second)
	// The store TTL ends with the absolute lifetime, so the session is simply gone.
	res := f.guard.PerformSecurityCheck(ctx, sess.ID, testIP, testUA)
	if res.Valid() {
		t.Fatal("session valid past the absolute lifetime")
	}
}

func TestPerformSecurityCheck_AbsoluteTimeoutInStoredData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t)
	sess.CreatedAt = f.now.Add(-9 * time.Hour)
	if err := f.store.Write(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res := f.guard.PerformSecurityCheck(ctx, sess.ID, testIP, testUA); res.Status != StatusExpired {
		t.Errorf("Status = %s, want %s", res.Status, StatusExpired)
	}
	if f.exists(sess.ID) {
		t.Error("expired session not destroyed")
	}
}

func TestPerformSecurityCheck_IPChangeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t)
	newIP := "198.51.100.7"

	res := f.guard.PerformSecurityCheck(ctx, sess.ID, newIP, testUA)
	if !res.RequiresReauth() {
		t.Fatalf("first check Status = %s, want reauth", res.Status)
	}
	f.now = f.now.Add(4 * time.Minute)
	if res := f.guard.PerformSecurityCheck(ctx, sess.ID, newIP, testUA); !res.RequiresReauth() {
		t.Fatalf("pending check Status = %s, want reauth", res.Status)
	}

	confirmed, err := f.guard.ConfirmIP(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ConfirmIP: %v", err)
	}
	if confirmed.ID == sess.ID || f.exists(sess.ID) {
		t.Error("ConfirmIP did not regenerate the session id")
	}
	if confirmed.IPAddress != newIP || confirmed.PendingIPVerification {
		t.Errorf("confirmed session = %+v", confirmed)
	}
	if res := f.guard.PerformSecurityCheck(ctx, confirmed.ID, newIP, testUA); !res.Valid() {
		t.Errorf("after confirm Status = %s, want ok", res.Status)
	}
}

func TestPerformSecurityCheck_IPChangeWindowExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t)
	f.guard.PerformSecurityCheck(ctx, sess.ID, "198.51.100.7", testUA)
	f.now = f.now.Add(5*time.Minute + time.Second)
	res := f.guard.PerformSecurityCheck(ctx, sess.ID, "198.51.100.7", testUA)
	if res.Status != StatusIPVerificationExpired {
		t.Fatalf("Status = %s, want %s", res.Status, StatusIPVerificationExpired)
	}
	if f.exists(sess.ID) {
		t.Error("session survived an unverified ip change")
	}
}

func TestPerformSecurityCheck_InvalidSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if res := f.guard.PerformSecurityCheck(ctx, "unknown", testIP, testUA); res.Status != StatusInvalid {
		t.Errorf("unknown id Status = %s", res.Status)
	}
	partial := &domain.Session{ID: "partial", UserID: 42, IPAddress: testIP, CreatedAt: f.now, LastActivity: f.now}
	if err := f.store.Write(ctx, partial, time.Hour); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res := f.guard.PerformSecurityCheck(ctx, "partial", testIP, testUA); res.Status != StatusInvalid {
		t.Errorf("partial Status = %s", res.Status)
	}
	if f.exists("partial") {
		t.Error("incomplete session not destroyed")
	}
}

func TestPerformSecurityCheck_StoreFailureFailsClosed(t *testing.T) {
	g := NewGuard(brokenStore{}, nil, nil, nil, Config{})
	if res := g.PerformSecurityCheck(context.Background(), "sid", testIP, testUA); res.Status != StatusInvalid {
		t.Errorf("Status = %s, want invalid", res.Status)
	}
}

func TestElevate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t)
	elevated, err := f.guard.Elevate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Elevate: %v", err)
	}
	if !elevated.Elevated || elevated.ID == sess.ID {
		t.Errorf("elevated = %+v", elevated)
	}
	if f.exists(sess.ID) {
		t.Error("old id survived elevation")
	}
	stored, _ := f.store.Read(ctx, elevated.ID)
	if stored == nil || !stored.Elevated {
		t.Error("elevation not persisted")
	}
	if _, err := f.guard.Elevate(ctx, sess.ID); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Elevate(old id) err = %v, want ErrInvalidSession", err)
	}
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	sess := f.login(t)
	if err := f.guard.Destroy(context.Background(), sess.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if f.exists(sess.ID) {
		t.Error("session exists after Destroy")
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t)
	before := sess.LastActivity

	f.now = f.now.Add(10 * time.Minute)
	got, err := f.guard.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != 42 || !got.LastActivity.Equal(before) {
		t.Errorf("Get = %+v, want user 42 with untouched activity", got)
	}
	if _, err := f.guard.Get(ctx, "missing"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Get(missing) err = %v, want ErrInvalidSession", err)
	}
}
