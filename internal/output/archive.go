package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/tap"
)

const ndjsonContentType = "application/x-ndjson"

// Archive batches RECORD messages per stream into NDJSON objects of at most
// batchRecords lines. Objects are named prefix/stream/runID-NNNNNN.ndjson.
type Archive struct {
	store        tap.BlobStore
	prefix       string
	runID        string
	batchRecords int
	logger       *zap.Logger

	mu      sync.Mutex
	buffers map[string]*bytes.Buffer
	counts  map[string]int
	seq     map[string]int
	uris    []string
}

// NewArchive builds an Archive writing to store.
func NewArchive(store tap.BlobStore, prefix, runID string, batchRecords int, logger *zap.Logger) *Archive {
	if batchRecords <= 0 {
		batchRecords = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		store:        store,
		prefix:       prefix,
		runID:        runID,
		batchRecords: batchRecords,
		logger:       logger,
		buffers:      map[string]*bytes.Buffer{},
		counts:       map[string]int{},
		seq:          map[string]int{},
	}
}

// Add appends msg to its stream batch and uploads the batch once full.
func (a *Archive) Add(ctx context.Context, msg RecordMessage) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode archive line: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[msg.Stream]
	if !ok {
		buf = &bytes.Buffer{}
		a.buffers[msg.Stream] = buf
	}
	buf.Write(line)
	buf.WriteByte('\n')
	a.counts[msg.Stream]++
	if a.counts[msg.Stream] >= a.batchRecords {
		return a.flushStreamLocked(ctx, msg.Stream)
	}
	return nil
}

// Flush uploads every pending batch in stream-name order.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	streams := make([]string, 0, len(a.buffers))
	for s := range a.buffers {
		streams = append(streams, s)
	}
	slices.Sort(streams)
	for _, s := range streams {
		if err := a.flushStreamLocked(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// URIs lists the uploaded objects in upload order.
func (a *Archive) URIs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.uris...)
}

func (a *Archive) flushStreamLocked(ctx context.Context, stream string) error {
	buf := a.buffers[stream]
	if buf == nil || buf.Len() == 0 {
		return nil
	}
	a.seq[stream]++
	name := path.Join(a.prefix, stream, fmt.Sprintf("%s-%06d.ndjson", a.runID, a.seq[stream]))
	uri, err := a.store.PutObject(ctx, name, ndjsonContentType, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	a.logger.Debug("archived record batch",
		zap.String("stream", stream),
		zap.Int("records", a.counts[stream]),
		zap.String("uri", uri),
	)
	a.uris = append(a.uris, uri)
	buf.Reset()
	a.counts[stream] = 0
	return nil
}
