package tap

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrRunNotFound is returned by RunStore implementations for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists run metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Emitter writes the tap's output messages.
type Emitter interface {
	WriteSchema(ctx context.Context, stream string, schema any, keyProperties, bookmarkProperties []string) error
	WriteRecord(ctx context.Context, stream string, record Record, extracted time.Time) error
	WriteState(ctx context.Context, value any) error
	Flush(ctx context.Context) error
}

// BlobStore writes archived record batches and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record envelopes to Pub/Sub, NATS, or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for sync runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for record keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
