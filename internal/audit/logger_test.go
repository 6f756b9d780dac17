package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"token-lifecycle/backend/internal/audit/domain"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
)

// mockAuditRepo implements audit repository interface for tests.
type mockAuditRepo struct {
	entries   []*domain.AuditLog
	createErr error
}

func (m *mockAuditRepo) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	return nil, nil
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByUser(ctx context.Context, userID int64, limit, offset int32) ([]*domain.AuditLog, error) {
	return nil, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []*telemetrydomain.Event
	done   chan struct{}
}

func (c *captureSink) Emit(ctx context.Context, e *telemetrydomain.Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	ipExtractor := func(ctx context.Context) string {
		return "192.168.1.1"
	}
	logger := NewLogger(repo, ipExtractor, nil)

	logger.LogEvent(context.Background(), 42, domain.ActionLogout, domain.ResourceAuth, "metadata")

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.UserID != 42 {
		t.Errorf("user_id = %d, want 42", entry.UserID)
	}
	if entry.Action != domain.ActionLogout || entry.Resource != domain.ResourceAuth {
		t.Errorf("action/resource = %q/%q", entry.Action, entry.Resource)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q, want %q", entry.IP, "192.168.1.1")
	}
	if entry.Metadata != "metadata" {
		t.Errorf("metadata = %q, want %q", entry.Metadata, "metadata")
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Error("entry ID and CreatedAt should be set")
	}
}

func TestLogger_LogEvent_NilIPExtractor(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, nil, nil)

	logger.LogEvent(context.Background(), 1, "action", "resource", "")

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	if repo.entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want %q", repo.entries[0].IP, "unknown")
	}
}

func TestLogger_LogEvent_RepositoryErrorStillSinks(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("database error")}
	sink := &captureSink{done: make(chan struct{}, 1)}
	logger := NewLogger(repo, nil, sink)

	logger.LogEvent(context.Background(), 7, domain.ActionRefreshReuse, domain.ResourceRefreshToken, Metadata(map[string]any{"jti": "abc"}))

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not receive the event")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	e := sink.events[0]
	if e.UserID != 7 || e.EventType != "audit."+domain.ActionRefreshReuse {
		t.Errorf("event = %+v", e)
	}
}

func TestLogger_LogEvent_NilRepo(t *testing.T) {
	// Should not panic - no-op when repo and sink are nil
	NewLogger(nil, nil, nil).LogEvent(context.Background(), 1, "action", "resource", "")
	var l *Logger
	l.LogEvent(context.Background(), 1, "action", "resource", "")
}

func TestMetadata(t *testing.T) {
	if got := Metadata(nil); got != "" {
		t.Errorf("Metadata(nil) = %q", got)
	}
	if got := Metadata(map[string]any{"reason": "logout"}); got != `{"reason":"logout"}` {
		t.Errorf("Metadata = %q", got)
	}
}
