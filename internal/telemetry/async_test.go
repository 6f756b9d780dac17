package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"token-lifecycle/backend/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	done    chan struct{}
}

func newMockEmitter(buffer int) *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, buffer)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func (m *mockEventEmitter) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for emit %d of %d", i+1, n)
		}
	}
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(context.Background(), nil, domain.NewEvent("test", "unit", domain.SeverityInfo, nil))
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := newMockEmitter(1)
	EmitAsync(context.Background(), emitter, nil)
	time.Sleep(10 * time.Millisecond)
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := newMockEmitter(1)
	event := domain.NewEvent(domain.EventTokenIssued, "token_service", domain.SeverityInfo, map[string]string{"jti": "abc"}).
		WithUser(42, "dev-1")

	EmitAsync(context.Background(), emitter, event)
	emitter.wait(t, 1)

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].UserID != 42 || events[0].DeviceID != "dev-1" {
		t.Errorf("event scope = %d/%q", events[0].UserID, events[0].DeviceID)
	}
	if string(events[0].Metadata) != `{"jti":"abc"}` {
		t.Errorf("metadata = %s", events[0].Metadata)
	}
}

func TestEmitAsync_SurvivesCanceledContext(t *testing.T) {
	emitter := newMockEmitter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(ctx, emitter, domain.NewEvent("test", "unit", domain.SeverityInfo, nil))
	emitter.wait(t, 1)
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := newMockEmitter(10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(context.Background(), emitter, domain.NewEvent("test", "unit", domain.SeverityInfo, nil))
		}()
	}
	wg.Wait()
	emitter.wait(t, 10)
	if n := len(emitter.getEvents()); n != 10 {
		t.Errorf("expected 10 events, got %d", n)
	}
}

func TestMultiEmitter_JoinsErrors(t *testing.T) {
	ok := newMockEmitter(1)
	failing := newMockEmitter(1)
	failing.emitErr = errors.New("kafka down")
	m := MultiEmitter{ok, nil, failing}

	err := m.Emit(context.Background(), domain.NewEvent("test", "unit", domain.SeverityWarn, nil))
	if err == nil || err.Error() != "kafka down" {
		t.Errorf("Emit err = %v, want kafka down", err)
	}
	if len(ok.getEvents()) != 1 || len(failing.getEvents()) != 1 {
		t.Error("every emitter must receive the event")
	}
}
