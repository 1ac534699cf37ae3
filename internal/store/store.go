package store

import (
	"context"

	"github.com/seantiz/mapbridge/internal/model"
)

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total          int            `json:"total"`
	CountByKind    map[string]int `json:"count_by_kind"`
	CountByOutcome map[string]int `json:"count_by_outcome"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for job history.
type Store interface {
	InsertJob(ctx context.Context, j *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error)
	GetJobStats(ctx context.Context) (*JobStats, error)
	InsertLogRecord(ctx context.Context, r *model.LogRecord) error
	GetLogRecords(ctx context.Context, jobID string) ([]model.LogRecord, error)
	Close() error
}
