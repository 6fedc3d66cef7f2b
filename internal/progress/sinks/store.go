package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/progress"
	"github.com/JakeFAU/search-console-tap/internal/store"
)

// StoreSink persists progress deltas via a store.ProgressRepository,
// collapsing per-stream counters within a batch.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies run transitions in order and writes one stats upsert per
// (run, stream, site) touched by the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)
	var order []statsKey

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.flushStats(ctx, stats, order); err != nil {
				return err
			}
			stats = make(map[statsKey]*statsDelta)
			order = order[:0]
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StagePassDone, progress.StagePageDone:
			key := statsKey{runID: runID, stream: evt.Stream, site: evt.Site}
			stat := stats[key]
			if stat == nil {
				stat = &statsDelta{}
				stats[key] = stat
				order = append(order, key)
			}
			if evt.Stage == progress.StagePassDone {
				stat.delta.Passes++
			} else {
				stat.delta.Pages += evt.Pages
				stat.delta.Records += evt.Records
			}
			if evt.TS.After(stat.at) {
				stat.at = evt.TS
			}
		}
	}
	return s.flushStats(ctx, stats, order)
}

func (s *StoreSink) flushStats(ctx context.Context, stats map[statsKey]*statsDelta, order []statsKey) error {
	for _, key := range order {
		stat := stats[key]
		if stat.delta == (store.StatsDelta{}) {
			continue
		}
		if err := s.repo.UpsertStreamStats(ctx, key.runID, key.stream, key.site, stat.delta, stat.at); err != nil {
			return fmt.Errorf("upsert stream stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID  uuid.UUID
	stream string
	site   string
}

type statsDelta struct {
	delta store.StatsDelta
	at    time.Time
}
