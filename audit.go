package autotrail

import (
	"context"
	"time"
)

// EventKind closes the set of audit events a Server emits.
type EventKind string

const (
	EventStepStateChanged EventKind = "step_state_changed"
	EventAPICall          EventKind = "api_call"
	// EventTick marks one event-loop tick boundary, recorded once per tick
	// regardless of whether that tick produced any other event — useful for
	// reconstructing tick cadence and gaps from the audit log alone.
	EventTick EventKind = "tick"
)

// Event is one audit record. It is original to this project — §9 notes the
// retrieved source for this behavior carried no code to mirror, so the shape
// here is grounded on the teacher's own audit record, oasis.Event, which
// logs assistant/tool activity in the same "kind + timestamp + payload"
// shape against its store backends.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	TrailName string
	StepID    string // empty for EventAPICall
	RunID     string // empty unless StepID is set and the step has run
	State     State  // zero value unless Kind == EventStepStateChanged
	Call      string // wire call name, only set for EventAPICall
	Detail    string
}

// AuditSink records Events for later inspection. The Server calls Record
// once for each event, at the moment it is generated during a tick
// (manager.go), so it must not block the event loop for long; the default
// sink discards every event; implementations live in the sqlite and postgres
// subpackages.
type AuditSink interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// noopAuditSink discards every event. It is the Server's default when no
// Audit.Driver is configured.
type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, Event) error { return nil }
func (noopAuditSink) Close() error                        { return nil }
