// Package events defines the audit trail of engine lifecycle transitions
// and the pluggable sinks it is exported to.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of lifecycle transition an event records.
type Type string

const (
	TypeStart        Type = "start"
	TypeStop         Type = "stop"
	TypeSpawnFailure Type = "spawn_failure"
	TypeForcedKill   Type = "forced_kill"
	TypeDrift        Type = "drift"
)

// Event is one audit record. PID is the engine process involved, zero when
// no process was ever spawned.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Service    string    `json:"service"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New builds an event stamped with a fresh ID and the current UTC time.
func New(t Type, service string, pid int, detail string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Service:    service,
		PID:        pid,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink is a destination for lifecycle events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Emit fans e out to every sink. Failures are logged, not propagated: audit
// export must never fail a lifecycle operation.
func Emit(ctx context.Context, sinks []Sink, e Event) {
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("event sink send failed", "type", string(e.Type), "service", e.Service, "err", err)
		}
	}
}
