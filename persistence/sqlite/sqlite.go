// Package sqlite implements autotrail.AuditSink using pure-Go SQLite.
// Zero CGO required, matching the teacher's store/sqlite driver choice.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nevindra/autotrail"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Sink implements autotrail.AuditSink backed by a local SQLite file.
type Sink struct {
	db *sql.DB
}

var _ autotrail.AuditSink = (*Sink)(nil)

// Open creates a Sink using a local SQLite file at dbPath and ensures its
// table exists. A single shared connection (SetMaxOpenConns(1)) serializes
// all writers through one connection, avoiding SQLITE_BUSY errors the way
// the teacher's store does for its own SQLite-backed Store.
func Open(ctx context.Context, dbPath string) (*Sink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("autotrail/persistence/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		ts_unix_ms INTEGER NOT NULL,
		trail_name TEXT NOT NULL,
		step_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		state TEXT NOT NULL,
		call TEXT NOT NULL,
		detail TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("autotrail/persistence/sqlite: init schema: %w", err)
	}
	return &Sink{db: db}, nil
}

// Record inserts one audit event.
func (s *Sink) Record(ctx context.Context, ev autotrail.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (kind, ts_unix_ms, trail_name, step_id, run_id, state, call, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.Timestamp.UnixMilli(), ev.TrailName, ev.StepID, ev.RunID, string(ev.State), ev.Call, ev.Detail,
	)
	return err
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Events returns every recorded event for trailName, oldest first. It exists
// mainly for tests and operator tooling built on top of this sink.
func (s *Sink) Events(ctx context.Context, trailName string) ([]autotrail.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, ts_unix_ms, trail_name, step_id, run_id, state, call, detail
		 FROM audit_events WHERE trail_name = ? ORDER BY id ASC`, trailName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []autotrail.Event
	for rows.Next() {
		var (
			kind, trail, stepID, runID, state, call, detail string
			tsMS                                            int64
		)
		if err := rows.Scan(&kind, &tsMS, &trail, &stepID, &runID, &state, &call, &detail); err != nil {
			return nil, err
		}
		out = append(out, autotrail.Event{
			Kind:      autotrail.EventKind(kind),
			Timestamp: time.UnixMilli(tsMS),
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
