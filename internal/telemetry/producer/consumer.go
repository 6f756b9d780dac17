package producer

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"token-lifecycle/backend/internal/telemetry"
)

const handleTimeout = 10 * time.Second

// MessageReader is the part of *kafka.Reader used by Consume.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewKafkaReader returns a consumer-group reader for the events topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
}

// Consume reads events until ctx is done and hands each decoded event to sink. Undecodable
// messages and sink failures are logged and skipped. Returns the number of events delivered.
func Consume(ctx context.Context, reader MessageReader, sink telemetry.EventEmitter) int {
	delivered := 0
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return delivered
			}
			log.Printf("consumer: kafka read error: %v", err)
			continue
		}
		event, err := Decode(msg.Value)
		if err != nil {
			log.Printf("consumer: skipping undecodable message at offset %d: %v", msg.Offset, err)
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, handleTimeout)
		err = sink.Emit(hctx, event)
		cancel()
		if err != nil {
			log.Printf("consumer: sink failed for %s event: %v", event.EventType, err)
			continue
		}
		delivered++
	}
}
