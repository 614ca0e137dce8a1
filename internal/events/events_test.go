package events

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type mockSink struct {
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (m *mockSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.got = append(m.got, e)
	return nil
}

func (m *mockSink) Close() error { return nil }

func TestNewStampsEvent(t *testing.T) {
	e := New(TypeStart, "web", 123, "spawned")
	if e.ID == "" {
		t.Fatal("event ID not set")
	}
	if e.Type != TypeStart || e.Service != "web" || e.PID != 123 || e.Detail != "spawned" {
		t.Fatalf("event fields wrong: %+v", e)
	}
	if e.OccurredAt.IsZero() {
		t.Fatal("timestamp not set")
	}

	e2 := New(TypeStop, "web", 123, "")
	if e2.ID == e.ID {
		t.Fatal("IDs should be unique per event")
	}
}

func TestEmitFansOutAndSurvivesFailures(t *testing.T) {
	good := &mockSink{}
	bad := &mockSink{fail: true}
	good2 := &mockSink{}

	Emit(context.Background(), []Sink{good, bad, good2}, New(TypeForcedKill, "api", 9, "kill escalation"))

	for i, s := range []*mockSink{good, good2} {
		s.mu.Lock()
		n := len(s.got)
		s.mu.Unlock()
		if n != 1 {
			t.Fatalf("sink %d received %d events, want 1", i, n)
		}
	}
}

func TestEmitNoSinks(t *testing.T) {
	// No sinks configured is the common case and must be a no-op.
	Emit(context.Background(), nil, New(TypeDrift, "web", 0, ""))
}
