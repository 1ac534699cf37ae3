package model

import "time"

// Job kind constants.
const (
	KindLoad  = "load"
	KindFetch = "fetch"
)

// Job state constants. Every job walks pending → running → completed →
// disposed; there are no other edges.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateDisposed  = "disposed"
)

// Outcome constants recorded in job history.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// validJobTransitions maps each state to the set of states it may transition to.
var validJobTransitions = map[string]map[string]bool{
	StatePending: {
		StateRunning: true,
	},
	StateRunning: {
		StateCompleted: true,
	},
	StateCompleted: {
		StateDisposed: true,
	},
}

// ValidJobTransition reports whether transitioning from one state to another is allowed.
func ValidJobTransition(from, to string) bool {
	targets, ok := validJobTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// JobRecord is the persisted history of one job.
type JobRecord struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Outcome    string     `json:"outcome"`
	Cache      string     `json:"cache,omitempty"`
	ConfigFile string     `json:"config_file,omitempty"`
	PathInfo   string     `json:"path_info,omitempty"`
	Query      string     `json:"query,omitempty"`
	StatusCode *int       `json:"status_code,omitempty"`
	Error      *string    `json:"error,omitempty"`
	BodyBytes  int        `json:"body_bytes"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// LogRecord is a single persisted log record emitted by the tile cache.
type LogRecord struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id,omitempty"`
	Cache     string    `json:"cache,omitempty"`
	Level     int       `json:"level"`
	LevelName string    `json:"level_name"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
