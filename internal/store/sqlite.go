package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/voxhub/internal/model"

	_ "modernc.org/sqlite"
)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS history (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id      TEXT NOT NULL UNIQUE,
    status      TEXT NOT NULL,
    url         TEXT,
    sample_rate INTEGER,
    duration_ms INTEGER,
    error       TEXT,
    finished_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ HistoryStore = (*SQLiteStore)(nil)

// SQLiteStore implements HistoryStore using SQLite. With the path ":memory:"
// history lives only as long as the process.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// limit caps the number of retained results; non-positive means
// DefaultHistoryLimit.
func NewSQLiteStore(dbPath string, limit int) (*SQLiteStore, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createHistoryTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	return &SQLiteStore{db: db, limit: limit}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put inserts the result unless one is already recorded for the job, then
// evicts the oldest rows beyond the limit.
func (s *SQLiteStore) Put(ctx context.Context, r model.Result) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO history (job_id, status, url, sample_rate, duration_ms, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.Status, r.URL, r.SampleRate, r.DurationMS, r.Error, r.FinishedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert result: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE seq <= (SELECT MAX(seq) FROM history) - ?`, s.limit,
	); err != nil {
		return false, fmt.Errorf("evict history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Get retrieves the result recorded for jobID.
func (s *SQLiteStore) Get(ctx context.Context, jobID string) (model.Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, status, url, sample_rate, duration_ms, error, finished_at
		FROM history WHERE job_id = ?`, jobID,
	)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Result{}, ErrNotFound
	}
	if err != nil {
		return model.Result{}, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

// All returns every retained result keyed by job id.
func (s *SQLiteStore) All(ctx context.Context) (map[string]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, status, url, sample_rate, duration_ms, error, finished_at
		FROM history ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Result)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out[r.JobID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (model.Result, error) {
	var (
		r          model.Result
		url, errS  sql.NullString
		rate, dur  sql.NullInt64
		finishedAt time.Time
	)
	if err := sc.Scan(&r.JobID, &r.Status, &url, &rate, &dur, &errS, &finishedAt); err != nil {
		return model.Result{}, err
	}
	r.URL = url.String
	r.SampleRate = int(rate.Int64)
	r.DurationMS = int(dur.Int64)
	r.Error = errS.String
	r.FinishedAt = finishedAt.UTC()
	return r, nil
}
