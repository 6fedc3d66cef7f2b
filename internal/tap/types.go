// Package tap defines core types shared across subsystems.
package tap

import "time"

// RunStatus represents the lifecycle state of a sync run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// RunRequest captures what a caller asked a run to sync.
type RunRequest struct {
	// Streams selects stream ids; empty means every selected catalog stream.
	Streams []string `json:"streams,omitempty"`
	// Sites overrides the configured site URLs when non-empty.
	Sites []string `json:"sites,omitempty"`
}

// Run is the metadata persisted for each submitted sync.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Request   RunRequest  `json:"request"`
	Counters  RunCounters `json:"counters"`
}

// RunCounters tracks extraction totals per run.
type RunCounters struct {
	Streams int `json:"streams"`
	Passes  int `json:"passes"`
	Pages   int `json:"pages"`
	Records int `json:"records"`
}

// Add folds other into c.
func (c *RunCounters) Add(other RunCounters) {
	c.Streams += other.Streams
	c.Passes += other.Passes
	c.Pages += other.Pages
	c.Records += other.Records
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Request   RunRequest
	Attempt   int
	Submitted int64
}

// Record is one extracted row keyed by field name.
type Record map[string]any
