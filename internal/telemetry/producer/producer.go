// Package producer defines the interface for publishing telemetry events (e.g. to Kafka).
package producer

import (
	"context"

	"token-lifecycle/backend/internal/telemetry/domain"
)

// Producer emits telemetry events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single telemetry event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}

var _ Producer = (*KafkaProducer)(nil)
