package telemetry

import (
	"context"
	"log"
	"strings"

	"token-lifecycle/backend/internal/telemetry/domain"
)

// Fields are structured attributes attached to a security log event.
type Fields map[string]any

// Logger writes security events to the process log and, when a sink is configured, emits them
// asynchronously (OTel log records, Kafka). A nil *Logger discards everything.
type Logger struct {
	source string
	sink   EventEmitter
}

// NewLogger returns a Logger that tags events with source. sink may be nil.
func NewLogger(source string, sink EventEmitter) *Logger {
	return &Logger{source: source, sink: sink}
}

// Info logs a routine lifecycle event.
func (l *Logger) Info(ctx context.Context, eventType string, userID int64, deviceID string, fields Fields) {
	l.log(ctx, domain.SeverityInfo, eventType, userID, deviceID, fields)
}

// Warn logs a security-relevant event that needs attention.
func (l *Logger) Warn(ctx context.Context, eventType string, userID int64, deviceID string, fields Fields) {
	l.log(ctx, domain.SeverityWarn, eventType, userID, deviceID, fields)
}

// Error logs a failure on a best-effort path.
func (l *Logger) Error(ctx context.Context, eventType string, userID int64, deviceID string, fields Fields) {
	l.log(ctx, domain.SeverityError, eventType, userID, deviceID, fields)
}

func (l *Logger) log(ctx context.Context, severity domain.Severity, eventType string, userID int64, deviceID string, fields Fields) {
	if l == nil {
		return
	}
	var meta any
	if len(fields) > 0 {
		meta = map[string]any(fields)
	}
	event := domain.NewEvent(eventType, l.source, severity, meta).WithUser(userID, deviceID)
	if len(event.Metadata) > 0 {
		log.Printf("%s: [%s] %s user=%d device=%q %s", l.source, strings.ToUpper(string(severity)), eventType, userID, deviceID, event.Metadata)
	} else {
		log.Printf("%s: [%s] %s user=%d device=%q", l.source, strings.ToUpper(string(severity)), eventType, userID, deviceID)
	}
	EmitAsync(ctx, l.sink, event)
}
