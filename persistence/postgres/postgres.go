// Package postgres implements autotrail.AuditSink backed by PostgreSQL,
// matching the teacher's pgx/v5-based store plumbing (minus the pgvector
// column — audit events carry no embeddings).
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/autotrail"
)

// Sink implements autotrail.AuditSink backed by a pgxpool.Pool. Whether
// Close also closes the pool depends on how the Sink was constructed: Open
// owns the pool it creates and closes it; NewSink wraps a pool the caller
// owns, and Close leaves it running.
type Sink struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

var _ autotrail.AuditSink = (*Sink)(nil)

// Open connects to dsn and ensures the audit_events table exists. The
// returned Sink owns the pool it creates; Close on it closes the pool too.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("autotrail/persistence/postgres: connect: %w", err)
	}
	s := &Sink{pool: pool, ownsPool: true}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewSink wraps an already-open pool, for callers that manage pool lifetime
// themselves (pool sharing across subsystems, as the teacher does for its
// MemoryStore). Close on the returned Sink never closes pool.
func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool, ownsPool: false}
}

func (s *Sink) init(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		trail_name TEXT NOT NULL,
		step_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		state TEXT NOT NULL,
		call TEXT NOT NULL,
		detail TEXT NOT NULL
	)`
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("autotrail/persistence/postgres: init schema: %w", err)
	}
	return nil
}

// Record inserts one audit event.
func (s *Sink) Record(ctx context.Context, ev autotrail.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_events (kind, ts, trail_name, step_id, run_id, state, call, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(ev.Kind), ev.Timestamp, ev.TrailName, ev.StepID, ev.RunID, string(ev.State), ev.Call, ev.Detail,
	)
	return err
}

// Close closes the pool if this Sink was created via Open; if it was created
// via NewSink, the caller-owned pool is left open.
func (s *Sink) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

// Events returns every recorded event for trailName, oldest first.
func (s *Sink) Events(ctx context.Context, trailName string) ([]autotrail.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, ts, trail_name, step_id, run_id, state, call, detail
		 FROM audit_events WHERE trail_name = $1 ORDER BY id ASC`, trailName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []autotrail.Event
	for rows.Next() {
		var (
			kind, trail, stepID, runID, state, call, detail string
			ts                                              time.Time
		)
		if err := rows.Scan(&kind, &ts, &trail, &stepID, &runID, &state, &call, &detail); err != nil {
			return nil, err
		}
		out = append(out, autotrail.Event{
			Kind:      autotrail.EventKind(kind),
			Timestamp: ts,
			TrailName: trail,
			StepID:    stepID,
			RunID:     runID,
			State:     autotrail.State(state),
			Call:      call,
			Detail:    detail,
		})
	}
	return out, rows.Err()
}
