package output

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/search-console-tap/internal/tap"
)

// Target is a named record forwarder.
type Target struct {
	Name      string
	Publisher tap.Publisher
}

// Fanout sends every message to the primary emitter and copies RECORD
// messages to the publish targets and the archive. Any failure aborts the
// write so the pass stops before its bookmark advances.
type Fanout struct {
	primary tap.Emitter
	targets []Target
	archive *Archive
}

var _ tap.Emitter = (*Fanout)(nil)

// NewFanout builds a Fanout. primary and archive may be nil.
func NewFanout(primary tap.Emitter, archive *Archive, targets ...Target) *Fanout {
	return &Fanout{primary: primary, targets: targets, archive: archive}
}

// WriteSchema implements tap.Emitter.
func (f *Fanout) WriteSchema(ctx context.Context, stream string, schema any, keyProperties, bookmarkProperties []string) error {
	if f.primary == nil {
		return nil
	}
	return f.primary.WriteSchema(ctx, stream, schema, keyProperties, bookmarkProperties)
}

// WriteRecord implements tap.Emitter.
func (f *Fanout) WriteRecord(ctx context.Context, stream string, record tap.Record, extracted time.Time) error {
	if f.primary != nil {
		if err := f.primary.WriteRecord(ctx, stream, record, extracted); err != nil {
			return err
		}
	}
	if len(f.targets) == 0 && f.archive == nil {
		return nil
	}
	msg := NewRecordMessage(stream, record, extracted)
	for _, t := range f.targets {
		if _, err := t.Publisher.Publish(ctx, stream, msg); err != nil {
			return fmt.Errorf("forward record to %s: %w", t.Name, err)
		}
	}
	if f.archive != nil {
		return f.archive.Add(ctx, msg)
	}
	return nil
}

// WriteState implements tap.Emitter.
func (f *Fanout) WriteState(ctx context.Context, value any) error {
	if f.primary == nil {
		return nil
	}
	return f.primary.WriteState(ctx, value)
}

// Flush uploads pending archive batches, then flushes the primary emitter.
func (f *Fanout) Flush(ctx context.Context) error {
	if f.archive != nil {
		if err := f.archive.Flush(ctx); err != nil {
			return err
		}
	}
	if f.primary == nil {
		return nil
	}
	return f.primary.Flush(ctx)
}
