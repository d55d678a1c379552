// Package history implements the historical sink collaborator
// poller.HistorySink names (§6.1): write_many([HistoricalEntry]),
// best-effort, with network/timeout errors logged but never propagated to
// the poller. It is grounded directly on the teacher's internal/db.DB
// point_values table and Open/migrate lifecycle — the teacher's own time
// series store, reused for the spec's equivalent collaborator rather than
// reinvented.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/raohassandev/modbus-gateway/internal/gwerrors"
	"github.com/raohassandev/modbus-gateway/internal/poller"
)

const schema = `
CREATE TABLE IF NOT EXISTS point_values (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    name TEXT NOT NULL,
    value REAL NOT NULL,
    unit TEXT,
    timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_point_values_device_id ON point_values(device_id);
CREATE INDEX IF NOT EXISTS idx_point_values_timestamp ON point_values(timestamp);
`

// Store is the database/sql + modernc.org/sqlite HistorySink implementation.
type Store struct {
	sql    *sql.DB
	logger *zap.Logger
}

var _ poller.HistorySink = (*Store)(nil)

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
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &gwerrors.RepositoryError{Op: "migrate", Cause: err}
	}
	return &Store{sql: db, logger: log}, nil
}

// Close releases the underlying SQL connection.
func (s *Store) Close() error { return s.sql.Close() }

// WriteMany implements poller.HistorySink. A failure is logged and
// swallowed: the spec requires history writes never propagate back to the
// poller (§6.1).
func (s *Store) WriteMany(ctx context.Context, entries []poller.HistoricalEntry) {
	if len(entries) == 0 {
		return
	}
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Warn("history write_many could not start transaction", zap.Error(err))
		return
	}
	const q = `INSERT INTO point_values (device_id, name, value, unit, timestamp) VALUES (?, ?, ?, ?, ?)`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, q, e.DeviceID, e.Parameter, e.Value, e.Unit, e.Timestamp); err != nil {
			s.logger.Warn("history write_many insert failed", zap.String("device", e.DeviceID), zap.String("parameter", e.Parameter), zap.Error(err))
			tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Warn("history write_many commit failed", zap.Error(err))
	}
}

// DevicePoints returns every stored value for deviceID, most recent first,
// bounded by limit (0 means unbounded), mirroring the teacher's
// DB.DevicePointsWithLimit read path.
func (s *Store) DevicePoints(ctx context.Context, deviceID string, limit int) ([]poller.HistoricalEntry, error) {
	q := `SELECT device_id, name, value, unit, timestamp FROM point_values WHERE device_id = ? ORDER BY timestamp DESC`
	args := []any{deviceID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &gwerrors.RepositoryError{Op: "device_points", Cause: err}
	}
	defer rows.Close()

	out := make([]poller.HistoricalEntry, 0)
	for rows.Next() {
		var e poller.HistoricalEntry
		var ts time.Time
		var unit sql.NullString
		if err := rows.Scan(&e.DeviceID, &e.Parameter, &e.Value, &unit, &ts); err != nil {
			return nil, &gwerrors.RepositoryError{Op: "device_points", Cause: err}
		}
		e.Unit = unit.String
		e.Timestamp = ts
		out = append(out, e)
	}
	return out, rows.Err()
}
