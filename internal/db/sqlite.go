package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// schema defines the tables for the engine persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS predictions (
    id           TEXT PRIMARY KEY,
    request_type TEXT NOT NULL,
    strategies   TEXT NOT NULL DEFAULT '[]',
    confidence   REAL NOT NULL DEFAULT 0.0,
    reasoning    TEXT NOT NULL DEFAULT '',
    created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_request_type ON predictions(request_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_predictions_created_at   ON predictions(created_at DESC);

CREATE TABLE IF NOT EXISTS execution_outcomes (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    request_type      TEXT NOT NULL,
    strategies        TEXT NOT NULL DEFAULT '[]',
    successful        INTEGER NOT NULL DEFAULT 0,
    execution_time_ms REAL NOT NULL DEFAULT 0.0,
    recorded_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_request_type ON execution_outcomes(request_type, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at  ON execution_outcomes(recorded_at DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite handles one writer at a time; serialize access through a single
	// connection to avoid SQLITE_BUSY under concurrent engine callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Predictions ──────────────────────────────────────────────────────────────

func (s *sqliteStore) SavePrediction(ctx context.Context, rec *PredictionRecord) error {
	strategies, err := json.Marshal(rec.Strategies)
	if err != nil {
		return fmt.Errorf("marshal strategies: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO predictions(id, request_type, strategies, confidence, reasoning, created_at)
        VALUES(?,?,?,?,?,?)
    `, rec.ID, rec.RequestType, string(strategies), rec.Confidence, rec.Reasoning, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListPredictions(ctx context.Context, requestType string, limit int) ([]*PredictionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, request_type, strategies, confidence, reasoning, created_at
              FROM predictions`
	args := []interface{}{}
	if requestType != "" {
		query += ` WHERE request_type = ?`
		args = append(args, requestType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []*PredictionRecord
	for rows.Next() {
		rec := &PredictionRecord{}
		var strategies, createdAt string
		if err := rows.Scan(&rec.ID, &rec.RequestType, &strategies, &rec.Confidence, &rec.Reasoning, &createdAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if err := json.Unmarshal([]byte(strategies), &rec.Strategies); err != nil {
			rec.Strategies = nil
		}
		if t, err := parseTime(createdAt); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ─── Execution outcomes ───────────────────────────────────────────────────────

func (s *sqliteStore) SaveOutcome(ctx context.Context, rec *OutcomeRecord) error {
	strategies, err := json.Marshal(rec.Strategies)
	if err != nil {
		return fmt.Errorf("marshal strategies: %w", err)
	}
	successful := 0
	if rec.Successful {
		successful = 1
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO execution_outcomes(request_type, strategies, successful, execution_time_ms, recorded_at)
        VALUES(?,?,?,?,?)
    `, rec.RequestType, string(strategies), successful, rec.ExecutionTimeMs, rec.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *sqliteStore) OutcomeSummary(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT request_type, successful, COUNT(*)
        FROM execution_outcomes
        WHERE recorded_at >= ? AND recorded_at <= ?
        GROUP BY request_type, successful
    `, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query outcome summary: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var requestType string
		var successful, count int
		if err := rows.Scan(&requestType, &successful, &count); err != nil {
			return nil, fmt.Errorf("scan outcome summary: %w", err)
		}
		key := requestType + ":failure"
		if successful == 1 {
			key = requestType + ":success"
		}
		out[key] = count
	}
	return out, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}
	var lastErr error
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
