// Package eventlog implements the append-only event log collaborator
// setpoint.EventLogSink names (§4.8 step 6): one record per applied
// setpoint write, never surfaced as a failure to its caller. It generalizes
// the teacher's internal/db.DB (database/sql over modernc.org/sqlite,
// migrate-then-query) from a point_values time series into an event_log
// table, the record type the spec's write path needs but the teacher never
// persisted.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/raohassandev/modbus-gateway/internal/gwerrors"
	"github.com/raohassandev/modbus-gateway/internal/setpoint"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_log_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    message TEXT NOT NULL,
    device_id TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    user_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_event_log_device_id ON event_log_entries(device_id);
CREATE INDEX IF NOT EXISTS idx_event_log_timestamp ON event_log_entries(timestamp);
`

// Store is the database/sql + modernc.org/sqlite EventLogSink implementation.
type Store struct {
	sql    *sql.DB
	logger *zap.Logger
}

var _ setpoint.EventLogSink = (*Store)(nil)

// Open opens (creating if absent) a sqlite-backed Store at path and runs
// the migration, mirroring the teacher's db.Open/migrate.
func Open(path string, log *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &gwerrors.RepositoryError{Op: "open", Cause: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &gwerrors.RepositoryError{Op: "open", Cause: err}
	}
	db.SetMaxOpenConns(1) // sqlite has no concurrent-writer story; a single in-memory DSN also needs one shared connection
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &gwerrors.RepositoryError{Op: "migrate", Cause: err}
	}
	return &Store{sql: db, logger: log}, nil
}

// Close releases the underlying SQL connection.
func (s *Store) Close() error { return s.sql.Close() }

// WriteEvent implements setpoint.EventLogSink. A write failure is logged,
// never returned — §4.8 "do not surface logging failures" applies to every
// collaborator in the write path, not just this one.
func (s *Store) WriteEvent(ctx context.Context, e setpoint.EventLogEntry) {
	const q = `INSERT INTO event_log_entries (event_id, kind, message, device_id, timestamp, user_id) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.sql.ExecContext(ctx, q, e.ID, e.Kind, e.Message, e.DeviceID, e.Timestamp, e.UserID); err != nil {
		s.logger.Warn("eventlog write failed", zap.String("device", e.DeviceID), zap.Error(err))
	}
}

// FindByDeviceID returns a device's event log, most recent first, for a
// diagnostics/admin read path (not part of setpoint.EventLogSink).
func (s *Store) FindByDeviceID(ctx context.Context, deviceID string, limit int) ([]setpoint.EventLogEntry, error) {
	q := `SELECT event_id, kind, message, device_id, timestamp, user_id FROM event_log_entries WHERE device_id = ? ORDER BY timestamp DESC`
	args := []any{deviceID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &gwerrors.RepositoryError{Op: "find_event_log", Cause: err}
	}
	defer rows.Close()

	out := make([]setpoint.EventLogEntry, 0)
	for rows.Next() {
		var e setpoint.EventLogEntry
		var ts time.Time
		var userID sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.Message, &e.DeviceID, &ts, &userID); err != nil {
			return nil, &gwerrors.RepositoryError{Op: "find_event_log", Cause: err}
		}
		e.Timestamp = ts
		e.UserID = userID.String
		out = append(out, e)
	}
	return out, rows.Err()
}
