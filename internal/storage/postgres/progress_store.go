package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/search-console-tap/internal/store"
)

// progressSchema creates the tables ProgressStore reads and writes.
const progressSchema = `
CREATE TABLE IF NOT EXISTS tap_runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS tap_stream_stats (
	run_id UUID NOT NULL REFERENCES tap_runs (id),
	stream TEXT NOT NULL,
	site TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	passes BIGINT NOT NULL DEFAULT 0,
	pages BIGINT NOT NULL DEFAULT 0,
	records BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, stream, site)
);`

// ProgressStore implements the store.ProgressRepository interface using Postgres.
type ProgressStore struct {
	pool pgxPool
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore wraps an existing pool.
func NewProgressStore(pool pgxPool) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates tap_runs and tap_stream_stats when missing.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, progressSchema); err != nil {
		return fmt.Errorf("failed to create progress tables: %w", err)
	}
	return nil
}

// UpsertRunStart inserts or updates a run's start time.
func (s *ProgressStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO tap_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE tap_runs.status <> EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as completed with a status and optional error message.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE tap_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// UpsertStreamStats adds delta to the (run, stream, site) counters.
func (s *ProgressStore) UpsertStreamStats(
	ctx context.Context,
	runID uuid.UUID,
	stream string,
	site string,
	delta store.StatsDelta,
	at time.Time,
) error {
	query := `
		INSERT INTO tap_stream_stats (run_id, stream, site, last_update, passes, pages, records)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, stream, site) DO UPDATE
		SET passes = tap_stream_stats.passes + EXCLUDED.passes,
			pages = tap_stream_stats.pages + EXCLUDED.pages,
			records = tap_stream_stats.records + EXCLUDED.records,
			last_update = EXCLUDED.last_update;
	`
	_, err := s.pool.Exec(ctx, query, runID, stream, site, at, delta.Passes, delta.Pages, delta.Records)
	if err != nil {
		return fmt.Errorf("failed to upsert stream stats: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM tap_runs
		WHERE id = $1;
	`
	var run store.RunRecord
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves a page of runs, with optional status filtering.
func (s *ProgressStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM tap_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.RunRecord
	for rows.Next() {
		var run store.RunRecord
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunStreams retrieves aggregated stream statistics for a run.
func (s *ProgressStore) ListRunStreams(
	ctx context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.StreamStats, error) {
	query := `
		SELECT run_id, stream, site, last_update, passes, pages, records
		FROM tap_stream_stats
		WHERE run_id = $1
		ORDER BY stream, site
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run streams: %w", err)
	}
	defer rows.Close()

	var stats []store.StreamStats
	for rows.Next() {
		var stat store.StreamStats
		if err := rows.Scan(
			&stat.RunID,
			&stat.Stream,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Passes,
			&stat.Pages,
			&stat.Records,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stream stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stream stats: %w", err)
	}
	return stats, nil
}
