package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StagePassStart Stage = "PASS_START"
	StagePassDone  Stage = "PASS_DONE"
	StagePageDone  Stage = "PAGE_DONE"
)

// Event captures a single milestone of a sync run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Stream and Site scope pass and page events.
	Stream string
	Site   string
	// SearchAppearance is set for filtered passes.
	SearchAppearance string
	// SearchType is set on page events.
	SearchType string
	// Pages and Records are deltas: one page and its row count for
	// PAGE_DONE, pass totals for PASS_DONE.
	Pages   int64
	Records int64
	// Dur captures pass and run latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePassStart, StagePassDone, StagePageDone:
		if e.Stream == "" || e.Site == "" {
			return fmt.Errorf("%s requires stream and site", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Pages < 0 || e.Records < 0 {
		return errors.New("counters must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID converts a textual run id into the Event form.
func ParseRunID(id string) ([16]byte, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(parsed), nil
}
