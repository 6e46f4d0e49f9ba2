// Package history persists finished missions in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fuangela/AutoDrone/internal/mission"
)

const schema = `
CREATE TABLE IF NOT EXISTS missions (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	mission_id    TEXT NOT NULL UNIQUE,
	source        TEXT NOT NULL,
	goal          TEXT NOT NULL,
	transcript    TEXT NOT NULL,
	language      TEXT NOT NULL,
	status        TEXT NOT NULL,
	report        TEXT NOT NULL,
	replans       INTEGER NOT NULL,
	attempts_json TEXT NOT NULL,
	error         TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL
);
`

// ErrNotFound is returned by Get for an unknown mission ID.
var ErrNotFound = errors.New("mission not found")

// Store records missions. Audio is never stored.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" keeps history for
// the life of the process.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own empty database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished mission. Recording the same mission ID twice
// replaces the earlier row entirely; the replacement sorts as the newest.
func (s *Store) Record(ctx context.Context, r *mission.Result) error {
	attempts, err := json.Marshal(r.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO missions (mission_id, source, goal, transcript, language, status, report,
			replans, attempts_json, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MissionID, r.Source, r.Goal, r.Transcript, r.Language, string(r.Status), r.Report,
		r.Replans, string(attempts), r.Error,
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert mission %s: %w", r.MissionID, err)
	}
	return nil
}

// Recent returns up to limit missions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]mission.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectCols+` ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query missions: %w", err)
	}
	defer rows.Close()

	var out []mission.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one mission by ID.
func (s *Store) Get(ctx context.Context, id string) (mission.Result, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE mission_id = ?`, id)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mission.Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

const selectCols = `SELECT mission_id, source, goal, transcript, language, status, report,
	replans, attempts_json, error, started_at, finished_at FROM missions`

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (mission.Result, error) {
	var (
		r                 mission.Result
		status, attempts  string
		started, finished string
	)
	err := sc.Scan(&r.MissionID, &r.Source, &r.Goal, &r.Transcript, &r.Language, &status, &r.Report,
		&r.Replans, &attempts, &r.Error, &started, &finished)
	if err != nil {
		return r, err
	}
	r.Status = mission.Status(status)
	if err := json.Unmarshal([]byte(attempts), &r.Attempts); err != nil {
		return r, fmt.Errorf("decode attempts of %s: %w", r.MissionID, err)
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
