package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"calcstream/internal/domain"
	"calcstream/internal/event"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS calculations (
	operation_id TEXT PRIMARY KEY,
	operation TEXT NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	user_id TEXT,
	started_at_utc_ns INTEGER,
	completed_at_utc_ns INTEGER,
	result REAL,
	success INTEGER,
	error TEXT,
	execution_time_ms INTEGER,
	cache_hit INTEGER
);

CREATE INDEX IF NOT EXISTS idx_calculations_started_at ON calculations(started_at_utc_ns);
`

// Store persists calculation lifecycle events for history queries.
// Rows are keyed by operation id and upserted, so at-least-once
// redelivery of an event is harmless.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordStarted(ctx context.Context, ev event.StartedEvent) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO calculations(operation_id, operation, x, y, user_id, started_at_utc_ns)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(operation_id)
DO UPDATE SET started_at_utc_ns=excluded.started_at_utc_ns`,
		ev.OperationID, string(ev.Operation), ev.X, ev.Y, ev.UserID, ev.Timestamp.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("record started %s: %w", ev.OperationID, err)
	}
	return nil
}

func (s *Store) RecordCompleted(ctx context.Context, ev event.CompletedEvent) error {
	var result any
	if ev.Result != nil {
		result = *ev.Result
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO calculations(
	operation_id, operation, x, y, user_id,
	completed_at_utc_ns, result, success, error, execution_time_ms, cache_hit
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(operation_id)
DO UPDATE SET
	completed_at_utc_ns=excluded.completed_at_utc_ns,
	result=excluded.result,
	success=excluded.success,
	error=excluded.error,
	execution_time_ms=excluded.execution_time_ms,
	cache_hit=excluded.cache_hit`,
		ev.OperationID, string(ev.Operation), ev.X, ev.Y, ev.UserID,
		ev.Timestamp.UTC().UnixNano(), result, boolToInt(ev.Success), ev.Error, ev.ExecutionTimeMs, boolToInt(ev.CacheHit))
	if err != nil {
		return fmt.Errorf("record completed %s: %w", ev.OperationID, err)
	}
	return nil
}

// Entry is one calculation as recorded in history. Completion fields are
// nil until the Completed event for the operation id arrives.
type Entry struct {
	OperationID     string
	Operation       domain.Operation
	X               float64
	Y               float64
	UserID          string
	Result          *float64
	Success         *bool
	Error           string
	ExecutionTimeMs int64
	CacheHit        bool
}

// Recent returns the newest entries first, up to limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT operation_id, operation, x, y, user_id, result, success, error, execution_time_ms, cache_hit
FROM calculations
ORDER BY COALESCE(started_at_utc_ns, completed_at_utc_ns) DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			item    Entry
			op      string
			userID  sql.NullString
			result  sql.NullFloat64
			success sql.NullInt64
			errMsg  sql.NullString
			execMs  sql.NullInt64
			hit     sql.NullInt64
		)
		if err := rows.Scan(&item.OperationID, &op, &item.X, &item.Y, &userID, &result, &success, &errMsg, &execMs, &hit); err != nil {
			return nil, err
		}
		item.Operation = domain.Operation(op)
		item.UserID = userID.String
		if result.Valid {
			v := result.Float64
			item.Result = &v
		}
		if success.Valid {
			v := success.Int64 != 0
			item.Success = &v
		}
		item.Error = errMsg.String
		item.ExecutionTimeMs = execMs.Int64
		item.CacheHit = hit.Int64 != 0
		out = append(out, item)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Recorder adapts the store to the consumer hook, persisting each
// lifecycle event as it is drained from the broker.
type Recorder struct {
	store *Store
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) OnStarted(ctx context.Context, ev event.StartedEvent) error {
	return r.store.RecordStarted(ctx, ev)
}

func (r *Recorder) OnCompleted(ctx context.Context, ev event.CompletedEvent) error {
	return r.store.RecordCompleted(ctx, ev)
}
