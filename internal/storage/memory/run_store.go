package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/search-console-tap/internal/tap"
)

// RunStore keeps run metadata in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]tap.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]tap.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run tap.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status and counters for a run. Started is set
// on the first transition to running and Finished on a terminal status.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status tap.RunStatus,
	errText string,
	counters tap.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", tap.ErrRunNotFound, runID)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := s.now()
	if status == tap.RunStatusRunning && run.Started == nil {
		run.Started = &now
	}
	if isTerminal(status) {
		run.Finished = &now
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (tap.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return tap.Run{}, fmt.Errorf("%w: %s", tap.ErrRunNotFound, runID)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest submission first. A non-positive
// limit returns every run.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]tap.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tap.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	slices.SortFunc(out, func(a, b tap.Run) int {
		if c := b.Submitted.Compare(a.Submitted); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isTerminal(status tap.RunStatus) bool {
	switch status {
	case tap.RunStatusSucceeded, tap.RunStatusFailed, tap.RunStatusCanceled:
		return true
	default:
		return false
	}
}
