package producer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"token-lifecycle/backend/internal/telemetry/domain"
)

func TestNewKafkaProducer_Optional(t *testing.T) {
	testCases := []struct {
		name    string
		brokers []string
		topic   string
	}{
		{"no brokers", nil, "events"},
		{"no topic", []string{"localhost:9092"}, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewKafkaProducer(tc.brokers, tc.topic)
			if err != nil || p != nil {
				t.Fatalf("NewKafkaProducer = %v, %v; want nil, nil", p, err)
			}
			// A nil producer is safe to use.
			if err := p.Emit(context.Background(), domain.NewEvent(domain.EventLogout, "test", domain.SeverityInfo, nil)); err != nil {
				t.Errorf("Emit on nil producer: %v", err)
			}
			if err := p.Close(); err != nil {
				t.Errorf("Close on nil producer: %v", err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	e := domain.NewEvent(domain.EventLoginSuccess, "auth_service", domain.SeverityInfo, map[string]string{"email": "a@b.c"}).WithUser(9, "dev")
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.UserID != 9 || got.DeviceID != "dev" || got.EventType != domain.EventLoginSuccess {
		t.Errorf("Decode = %+v", got)
	}
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Error("Decode should reject malformed JSON")
	}
}

// fakeReader returns queued messages, then blocks until ctx is canceled.
type fakeReader struct {
	mu   sync.Mutex
	msgs []kafka.Message
	errs []error
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

type recordingSink struct {
	mu     sync.Mutex
	events []*domain.Event
	fail   bool
	done   chan struct{}
	want   int
}

func (s *recordingSink) Emit(ctx context.Context, e *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, e)
	if len(s.events) == s.want {
		close(s.done)
	}
	return nil
}

func TestConsume(t *testing.T) {
	good, _ := json.Marshal(domain.NewEvent(domain.EventTokenIssued, "token_service", domain.SeverityInfo, nil).WithUser(1, "d"))
	reader := &fakeReader{
		errs: []error{errors.New("transient")},
		msgs: []kafka.Message{{Value: good}, {Value: []byte("garbage"), Offset: 1}, {Value: good, Offset: 2}},
	}
	sink := &recordingSink{done: make(chan struct{}), want: 2}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan int, 1)
	go func() { result <- Consume(ctx, reader, sink) }()
	<-sink.done
	cancel()

	if n := <-result; n != 2 {
		t.Errorf("Consume delivered %d, want 2", n)
	}
	if sink.events[0].EventType != domain.EventTokenIssued {
		t.Errorf("event = %+v", sink.events[0])
	}
}

func TestConsume_SinkFailureSkipped(t *testing.T) {
	good, _ := json.Marshal(domain.NewEvent(domain.EventLogout, "auth_service", domain.SeverityInfo, nil))
	reader := &fakeReader{msgs: []kafka.Message{{Value: good}}}
	sink := &recordingSink{fail: true, done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan int, 1)
	go func() { result <- Consume(ctx, reader, sink) }()
	cancel()
	if n := <-result; n != 0 {
		t.Errorf("Consume delivered %d, want 0", n)
	}
}
