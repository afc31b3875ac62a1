// Package store keeps a history of finished sampling runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"bluenoise/internal/sampling"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run status values.
const (
	StatusDone      = "done"
	StatusCancelled = "cancelled"
)

// Run is one persisted generation.
type Run struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	Config    sampling.Config  `json:"config"`
	Seed      int64            `json:"seed"`
	Trials    uint64           `json:"trials"`
	Count     int              `json:"count"`
	Duration  time.Duration    `json:"durationNs"`
	Status    string           `json:"status"`
	Points    []sampling.Point `json:"points,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	created_at   INTEGER NOT NULL,
	width        REAL NOT NULL,
	height       REAL NOT NULL,
	min_distance REAL NOT NULL,
	max_attempts INTEGER NOT NULL,
	seed         INTEGER NOT NULL,
	rounding     TEXT NOT NULL,
	trials       INTEGER NOT NULL,
	count        INTEGER NOT NULL,
	duration_ns  INTEGER NOT NULL,
	status       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at DESC);
CREATE TABLE IF NOT EXISTS run_points (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx    INTEGER NOT NULL,
	x      REAL NOT NULL,
	y      REAL NOT NULL,
	PRIMARY KEY (run_id, idx)
);`

// Store wraps a single-connection SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	// One physical connection; SQLite serialises writers anyway and an
	// in-memory database only exists on its own connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Printf("⚠️ sqlite tuning skipped (%s): %v", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run and its points in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusDone
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	cfg := run.Config
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, width, height, min_distance, max_attempts, seed, rounding, trials, count, duration_ns, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), cfg.Width, cfg.Height, cfg.MinDistance, cfg.MaxAttempts,
		run.Seed, cfg.Rounding.String(), int64(run.Trials), len(run.Points), int64(run.Duration), run.Status)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_points (run_id, idx, x, y) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare points")
	}
	defer stmt.Close()

	for i, p := range run.Points {
		if _, err := stmt.ExecContext(ctx, run.ID, i, p.X, p.Y); err != nil {
			return errors.Wrapf(err, "insert point %d", i)
		}
	}

	return errors.Wrap(tx.Commit(), "commit")
}

const runColumns = `id, created_at, width, height, min_distance, max_attempts, seed, rounding, trials, count, duration_ns, status`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		createdAt int64
		rounding  string
		trials    int64
		duration  int64
	)
	err := row.Scan(&run.ID, &createdAt, &run.Config.Width, &run.Config.Height, &run.Config.MinDistance,
		&run.Config.MaxAttempts, &run.Seed, &rounding, &trials, &run.Count, &duration, &run.Status)
	if err != nil {
		return Run{}, err
	}
	run.CreatedAt = time.Unix(0, createdAt)
	run.Config.Seed = run.Seed
	run.Trials = uint64(trials)
	run.Duration = time.Duration(duration)
	if r, err := sampling.ParseRounding(rounding); err == nil {
		run.Config.Rounding = r
	}
	return run, nil
}

// GetRun loads a run with its points.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, errors.Wrapf(err, "get run %s", id)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT x, y FROM run_points WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return Run{}, errors.Wrapf(err, "get points of %s", id)
	}
	defer rows.Close()

	run.Points = make([]sampling.Point, 0, run.Count)
	for rows.Next() {
		var p sampling.Point
		if err := rows.Scan(&p.X, &p.Y); err != nil {
			return Run{}, errors.Wrap(err, "scan point")
		}
		run.Points = append(run.Points, p)
	}
	return run, errors.Wrap(rows.Err(), "iterate points")
}

// ListRuns returns the newest runs first, without points.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, run)
	}
	return runs, errors.Wrap(rows.Err(), "iterate runs")
}

// DeleteRun removes a run and its points.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete run %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
