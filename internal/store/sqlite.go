package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridianhq/meridian/internal/analyzer"
	"github.com/meridianhq/meridian/internal/errs"
	"github.com/meridianhq/meridian/internal/event"
	"github.com/meridianhq/meridian/internal/metric"
)

// SQLite is a file-backed Store. Timestamps are stored as UTC nanoseconds so
// half-open window comparisons stay exact; structured payloads (event
// properties, funnel results, run summaries) are stored as JSON.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

CREATE TABLE IF NOT EXISTS user_segments (
	user_id TEXT PRIMARY KEY,
	segment TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS series_points (
	metric  TEXT NOT NULL,
	segment TEXT NOT NULL DEFAULT '',
	ts      INTEGER NOT NULL,
	value   REAL NOT NULL,
	PRIMARY KEY (metric, segment, ts)
);

CREATE TABLE IF NOT EXISTS funnel_results (
	funnel     TEXT NOT NULL,
	window_end INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (funnel, window_end)
);

CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
`

// OpenSQLite opens (and migrates) the database at path. ":memory:" works for
// tests.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) InsertEvents(ctx context.Context, events []event.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDataUnavailable("insert events", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (name, user_id, ts, properties) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errs.NewDataUnavailable("insert events", err)
	}
	defer stmt.Close()

	for _, rec := range events {
		props, err := json.Marshal(rec.Properties)
		if err != nil {
			return fmt.Errorf("encode properties for event %s: %w", rec.Name, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.Name, rec.UserID, rec.Timestamp.UTC().UnixNano(), string(props)); err != nil {
			return errs.NewDataUnavailable("insert events", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.NewDataUnavailable("insert events", err)
	}
	return nil
}

func (s *SQLite) FetchEvents(ctx context.Context, w event.Window) ([]event.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, user_id, ts, properties FROM events WHERE ts >= ? AND ts < ? ORDER BY ts ASC`,
		w.Start.UTC().UnixNano(), w.End.UTC().UnixNano())
	if err != nil {
		return nil, errs.NewDataUnavailable("fetch events", err)
	}
	defer rows.Close()

	var out []event.Record
	for rows.Next() {
		var (
			rec   event.Record
			ts    int64
			props string
		)
		if err := rows.Scan(&rec.Name, &rec.UserID, &ts, &props); err != nil {
			return nil, errs.NewDataUnavailable("fetch events", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		if props != "" && props != "{}" {
			if err := json.Unmarshal([]byte(props), &rec.Properties); err != nil {
				return nil, fmt.Errorf("decode properties for event %s: %w", rec.Name, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewDataUnavailable("fetch events", err)
	}
	return out, nil
}

// AssignSegments records explicit user-to-segment assignments.
func (s *SQLite) AssignSegments(ctx context.Context, members map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDataUnavailable("assign segments", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO user_segments (user_id, segment) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET segment = excluded.segment`)
	if err != nil {
		return errs.NewDataUnavailable("assign segments", err)
	}
	defer stmt.Close()

	for user, key := range members {
		if _, err := stmt.ExecContext(ctx, user, key); err != nil {
			return errs.NewDataUnavailable("assign segments", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.NewDataUnavailable("assign segments", err)
	}
	return nil
}

func (s *SQLite) FetchSegmentMembership(ctx context.Context, userID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT segment FROM user_segments WHERE user_id = ?`, userID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errs.NewDataUnavailable("fetch segment membership", err)
	}
	return key, nil
}

func (s *SQLite) SaveSeries(ctx context.Context, series *metric.Series) error {
	if series == nil || series.Len() == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDataUnavailable("save series", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO series_points (metric, segment, ts, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(metric, segment, ts) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return errs.NewDataUnavailable("save series", err)
	}
	defer stmt.Close()

	for _, p := range series.Points {
		if _, err := stmt.ExecContext(ctx, series.Metric, series.SegmentKey, p.Timestamp.UTC().UnixNano(), p.Value); err != nil {
			return errs.NewDataUnavailable("save series", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.NewDataUnavailable("save series", err)
	}
	return nil
}

func (s *SQLite) LoadSeries(ctx context.Context, metricName, segmentKey string, w event.Window) (*metric.Series, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM series_points WHERE metric = ? AND segment = ? AND ts >= ? AND ts < ? ORDER BY ts ASC`,
		metricName, segmentKey, w.Start.UTC().UnixNano(), w.End.UTC().UnixNano())
	if err != nil {
		return nil, errs.NewDataUnavailable("load series", err)
	}
	defer rows.Close()

	out := metric.NewSeries(metricName, segmentKey)
	for rows.Next() {
		var (
			ts int64
			v  float64
		)
		if err := rows.Scan(&ts, &v); err != nil {
			return nil, errs.NewDataUnavailable("load series", err)
		}
		if err := out.Append(time.Unix(0, ts).UTC(), v); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewDataUnavailable("load series", err)
	}
	if out.Len() == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *SQLite) SaveFunnel(ctx context.Context, res *analyzer.FunnelResult) error {
	if res == nil {
		return nil
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode funnel result %s: %w", res.Funnel, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO funnel_results (funnel, window_end, payload) VALUES (?, ?, ?)
		 ON CONFLICT(funnel, window_end) DO UPDATE SET payload = excluded.payload`,
		res.Funnel, res.Window.End.UTC().UnixNano(), string(payload))
	if err != nil {
		return errs.NewDataUnavailable("save funnel", err)
	}
	return nil
}

func (s *SQLite) LatestFunnel(ctx context.Context, name string, before time.Time) (*analyzer.FunnelResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM funnel_results WHERE funnel = ? AND window_end <= ? ORDER BY window_end DESC LIMIT 1`,
		name, before.UTC().UnixNano()).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewDataUnavailable("load funnel", err)
	}
	var res analyzer.FunnelResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("decode funnel result %s: %w", name, err)
	}
	return &res, nil
}

func (s *SQLite) SaveRun(ctx context.Context, sum *RunSummary) error {
	if sum == nil {
		return nil
	}
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", sum.RunID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, payload) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET started_at = excluded.started_at, payload = excluded.payload`,
		sum.RunID, sum.StartedAt.UTC().UnixNano(), string(payload))
	if err != nil {
		return errs.NewDataUnavailable("save run", err)
	}
	return nil
}

func (s *SQLite) LoadRun(ctx context.Context, runID string) (*RunSummary, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewDataUnavailable("load run", err)
	}
	var sum RunSummary
	if err := json.Unmarshal([]byte(payload), &sum); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &sum, nil
}

func (s *SQLite) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.NewDataUnavailable("recent runs", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errs.NewDataUnavailable("recent runs", err)
		}
		var sum RunSummary
		if err := json.Unmarshal([]byte(payload), &sum); err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewDataUnavailable("recent runs", err)
	}
	return out, nil
}
