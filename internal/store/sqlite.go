package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/mapbridge/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    cache       TEXT NOT NULL,
    config_file TEXT NOT NULL,
    path_info   TEXT NOT NULL,
    query       TEXT NOT NULL,
    status_code INTEGER,
    error       TEXT,
    body_bytes  INTEGER NOT NULL,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createLogRecordsTable = `
CREATE TABLE IF NOT EXISTS log_records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id      TEXT NOT NULL,
    cache       TEXT NOT NULL,
    level       INTEGER NOT NULL,
    level_name  TEXT NOT NULL,
    message     TEXT NOT NULL,
    created_at  DATETIME NOT NULL
)`

const createLogRecordsIndex = `
CREATE INDEX IF NOT EXISTS idx_log_records_job_id ON log_records (job_id, id)`

const jobColumns = `id, kind, outcome, cache, config_file, path_info, query,
	status_code, error, body_bytes, duration_ms, created_at, finished_at`

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createJobsTable, createLogRecordsTable, createLogRecordsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertJob inserts a job history record.
func (s *SQLiteStore) InsertJob(ctx context.Context, j *model.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.Outcome, j.Cache, j.ConfigFile, j.PathInfo, j.Query,
		j.StatusCode, j.Error, j.BodyBytes, j.DurationMS, j.CreatedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.JobRecord, error) {
	j := &model.JobRecord{}
	err := row.Scan(
		&j.ID, &j.Kind, &j.Outcome, &j.Cache, &j.ConfigFile, &j.PathInfo, &j.Query,
		&j.StatusCode, &j.Error, &j.BodyBytes, &j.DurationMS, &j.CreatedAt, &j.FinishedAt,
	)
	return j, err
}

// GetJob retrieves a job record by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a page of jobs ordered by created_at DESC, along with the
// total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// GetJobStats returns counts by kind and outcome and the average duration.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByKind:    make(map[string]int),
		CountByOutcome: make(map[string]int),
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM jobs",
	).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	if err := s.countBy(ctx, "kind", stats.CountByKind); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "outcome", stats.CountByOutcome); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills into with row counts grouped by column, which must be a
// trusted identifier.
func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM jobs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return nil
}

// InsertLogRecord appends a log record. The assigned ID is written back to r.
func (s *SQLiteStore) InsertLogRecord(ctx context.Context, r *model.LogRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO log_records (job_id, cache, level, level_name, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.JobID, r.Cache, r.Level, r.LevelName, r.Message, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert log record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("log record id: %w", err)
	}
	r.ID = id
	return nil
}

// GetLogRecords returns the log records of a job in insertion order. It
// returns an empty slice when there are none.
func (s *SQLiteStore) GetLogRecords(ctx context.Context, jobID string) ([]model.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, cache, level, level_name, message, created_at
		FROM log_records WHERE job_id = ? ORDER BY id ASC`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log records: %w", err)
	}
	defer rows.Close()

	records := []model.LogRecord{}
	for rows.Next() {
		var r model.LogRecord
		if err := rows.Scan(&r.ID, &r.JobID, &r.Cache, &r.Level, &r.LevelName, &r.Message, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log records: %w", err)
	}
	return records, nil
}
