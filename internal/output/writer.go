package output

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/search-console-tap/internal/tap"
)

// Writer emits Singer messages as JSON lines. STATE messages flush the
// buffer so the orchestrator sees bookmarks as soon as they advance.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
}

var _ tap.Emitter = (*Writer)(nil)

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{buf: bufio.NewWriter(w)}
}

// WriteSchema implements tap.Emitter.
func (w *Writer) WriteSchema(_ context.Context, stream string, schema any, keyProperties, bookmarkProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return w.write(SchemaMessage{
		Type:               TypeSchema,
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keyProperties,
		BookmarkProperties: bookmarkProperties,
	})
}

// WriteRecord implements tap.Emitter.
func (w *Writer) WriteRecord(_ context.Context, stream string, record tap.Record, extracted time.Time) error {
	return w.write(NewRecordMessage(stream, record, extracted))
}

// WriteState implements tap.Emitter.
func (w *Writer) WriteState(ctx context.Context, value any) error {
	if err := w.write(StateMessage{Type: TypeState, Value: value}); err != nil {
		return err
	}
	return w.Flush(ctx)
}

// Flush implements tap.Emitter.
func (w *Writer) Flush(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func (w *Writer) write(msg any) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
