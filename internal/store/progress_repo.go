// Package store declares interfaces for persisting run progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// RunStatus mirrors the tap_runs status column.
type RunStatus string

// Run statuses persisted in tap_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunRecord models the tap_runs table for API responses.
type RunRecord struct {
	// ID is the run identifier shared with the runner.
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// StreamStats aggregates extraction counts per (run, stream, site).
type StreamStats struct {
	RunID      uuid.UUID
	Stream     string
	Site       string
	LastUpdate time.Time
	Passes     int64
	Pages      int64
	Records    int64
}

// StatsDelta is an increment applied to a StreamStats row.
type StatsDelta struct {
	Passes  int64
	Pages   int64
	Records int64
}

// ProgressRepository persists incremental run progress.
type ProgressRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertStreamStats applies deltas per (run, stream, site).
	UpsertStreamStats(ctx context.Context, runID uuid.UUID, stream, site string, delta StatsDelta, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]RunRecord, error)
	// ListRunStreams returns aggregated stream stats for one run.
	ListRunStreams(ctx context.Context, runID uuid.UUID, limit, offset int) ([]StreamStats, error)
}
