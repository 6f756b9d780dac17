package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"token-lifecycle/backend/internal/audit/domain"
	auditrepo "token-lifecycle/backend/internal/audit/repository"
	"token-lifecycle/backend/internal/telemetry"
	telemetrydomain "token-lifecycle/backend/internal/telemetry/domain"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource. Used by token, auth and
// session code paths. LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID int64, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository, an optional IP extractor, and an
// optional event sink (e.g. the Kafka producer) that receives a copy of every entry.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	sink        telemetry.EventEmitter
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown". sink may be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, sink telemetry.EventEmitter) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor, sink: sink}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID int64, action, resource, metadata string) {
	if l == nil || (l.repo == nil && l.sink == nil) {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if l.repo != nil {
		if err := l.repo.Create(ctx, entry); err != nil {
			log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
		}
	}
	if l.sink != nil {
		telemetry.EmitAsync(ctx, l.sink, toEvent(entry))
	}
}

func toEvent(a *domain.AuditLog) *telemetrydomain.Event {
	e := &telemetrydomain.Event{
		UserID:    a.UserID,
		EventType: "audit." + a.Action,
		Source:    a.Resource,
		Severity:  telemetrydomain.SeverityInfo,
		CreatedAt: a.CreatedAt,
	}
	meta := map[string]string{"audit_id": a.ID, "ip": a.IP}
	if a.Metadata != "" {
		meta["detail"] = a.Metadata
	}
	e.Metadata, _ = json.Marshal(meta)
	return e
}

// Metadata encodes key/value details for LogEvent's metadata argument.
func Metadata(kv map[string]any) string {
	if len(kv) == 0 {
		return ""
	}
	b, err := json.Marshal(kv)
	if err != nil {
		return ""
	}
	return string(b)
}
