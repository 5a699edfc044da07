package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"distrack/backend/internal/platform/async"
	"distrack/backend/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func TestEmitAsync_NilEmitterAndEvent(t *testing.T) {
	runner := async.NewRunner(logrus.New())
	// Should not panic
	EmitAsync(runner, nil, domain.NewEvent(domain.EventLinkStarted, "test", "", "d1", nil))
	EmitAsync(runner, &mockEventEmitter{}, nil)
	EmitAsync(nil, &mockEventEmitter{}, domain.NewEvent(domain.EventLinkStarted, "test", "", "d1", nil))
	if err := runner.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestEmitAsync_Delivers(t *testing.T) {
	runner := async.NewRunner(logrus.New())
	em := &mockEventEmitter{}
	ev := domain.NewEvent(domain.EventSessionIngested, "ingest", "u1", "d1", map[string]any{"created": true})

	EmitAsync(runner, em, ev)
	if err := runner.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	events := em.getEvents()
	if len(events) != 1 || events[0].ID != ev.ID {
		t.Fatalf("events = %v", events)
	}
	if string(events[0].Metadata) != `{"created":true}` {
		t.Errorf("metadata = %s", events[0].Metadata)
	}
}

func TestEmitAsync_ErrorIsLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	runner := async.NewRunner(log)
	EmitAsync(runner, &mockEventEmitter{emitErr: errors.New("kafka down")}, domain.NewEvent(domain.EventLinkClaimed, "link", "u1", "d1", nil))
	if err := runner.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.WarnLevel {
		t.Fatalf("expected warning log, got %+v", hook.LastEntry())
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &mockEventEmitter{}
	failing := &mockEventEmitter{emitErr: errors.New("sink down")}
	m := Multi{ok, nil, failing}

	err := m.Emit(context.Background(), domain.NewEvent(domain.EventTokenRotated, "token", "u1", "d1", nil))
	if err == nil || err.Error() != "sink down" {
		t.Fatalf("err = %v, want sink down", err)
	}
	if len(ok.getEvents()) != 1 || len(failing.getEvents()) != 1 {
		t.Errorf("expected both emitters to receive the event")
	}
	if err := m.Emit(context.Background(), nil); err != nil {
		t.Errorf("nil event: %v", err)
	}
}

func TestNewEvent(t *testing.T) {
	a := domain.NewEvent(domain.EventLinkStarted, "link", "", "d1", nil)
	b := domain.NewEvent(domain.EventLinkStarted, "link", "", "d1", nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q %q should be unique", a.ID, b.ID)
	}
	if a.Metadata != nil {
		t.Errorf("metadata = %s, want nil", a.Metadata)
	}
	bad := domain.NewEvent(domain.EventLinkStarted, "link", "", "d1", map[string]any{"ch": make(chan int)})
	if bad.Metadata != nil {
		t.Errorf("unmarshallable metadata should be dropped")
	}
}
