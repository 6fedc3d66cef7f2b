package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pubmemory "github.com/JakeFAU/search-console-tap/internal/publisher/memory"
	blobmemory "github.com/JakeFAU/search-console-tap/internal/storage/memory"
	"github.com/JakeFAU/search-console-tap/internal/tap"
)

var extracted = time.Date(2024, 2, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))

func TestWriterEmitsSingerLines(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := NewWriter(&out)
	ctx := context.Background()

	require.NoError(t, w.WriteSchema(ctx, "performance_report_date", map[string]any{"type": "object"}, []string{"site_url", "date"}, []string{"date"}))
	require.NoError(t, w.WriteRecord(ctx, "performance_report_date", tap.Record{"date": "2024-01-01", "clicks": int64(2)}, extracted))
	require.Empty(t, out.String(), "records stay buffered until state or flush")
	require.NoError(t, w.WriteState(ctx, map[string]any{"bookmarks": map[string]any{}}))

	lines := splitLines(t, out.String())
	require.Len(t, lines, 3)
	require.JSONEq(t, `{"type":"SCHEMA","stream":"performance_report_date","schema":{"type":"object"},"key_properties":["site_url","date"],"bookmark_properties":["date"]}`, lines[0])
	require.JSONEq(t, `{"type":"RECORD","stream":"performance_report_date","record":{"date":"2024-01-01","clicks":2},"time_extracted":"2024-02-01T17:00:00Z"}`, lines[1])
	require.JSONEq(t, `{"type":"STATE","value":{"bookmarks":{}}}`, lines[2])
}

func TestWriterSchemaWithoutKeys(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := NewWriter(&out)
	require.NoError(t, w.WriteSchema(context.Background(), "s", map[string]any{}, nil, nil))
	require.NoError(t, w.Flush(context.Background()))
	require.JSONEq(t, `{"type":"SCHEMA","stream":"s","schema":{},"key_properties":[]}`, strings.TrimSpace(out.String()))
}

func TestFanoutForwardsRecords(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	pub := pubmemory.New()
	blobs := blobmemory.NewBlobStore()
	archive := NewArchive(blobs, "records", "run-1", 2, nil)
	f := NewFanout(NewWriter(&out), archive, Target{Name: "memory", Publisher: pub})
	ctx := context.Background()

	for i := range 3 {
		rec := tap.Record{"page": "/p", "clicks": int64(i)}
		require.NoError(t, f.WriteRecord(ctx, "performance_report_page", rec, extracted))
	}
	require.NoError(t, f.WriteRecord(ctx, "performance_report_date", tap.Record{"date": "2024-01-01"}, extracted))
	require.Len(t, pub.ForStream("performance_report_page"), 3)

	// The first page batch uploads as soon as it is full.
	require.Equal(t, []string{"records/performance_report_page/run-1-000001.ndjson"}, blobs.Paths())

	require.NoError(t, f.Flush(ctx))
	require.Equal(t, []string{
		"records/performance_report_date/run-1-000001.ndjson",
		"records/performance_report_page/run-1-000001.ndjson",
		"records/performance_report_page/run-1-000002.ndjson",
	}, blobs.Paths())
	require.Len(t, archive.URIs(), 3)

	first, ok := blobs.Object("records/performance_report_page/run-1-000001.ndjson")
	require.True(t, ok)
	lines := splitLines(t, string(first))
	require.Len(t, lines, 2)
	var msg RecordMessage
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &msg))
	require.Equal(t, TypeRecord, msg.Type)
	require.InDelta(t, 1, msg.Record["clicks"], 0)

	require.Len(t, splitLines(t, out.String()), 4)
}

func TestFanoutStopsOnPublishError(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.FailWith(errors.New("broker down"))
	blobs := blobmemory.NewBlobStore()
	f := NewFanout(nil, NewArchive(blobs, "", "r", 1, nil), Target{Name: "nats", Publisher: pub})

	err := f.WriteRecord(context.Background(), "s", tap.Record{"a": 1}, extracted)
	require.ErrorContains(t, err, "forward record to nats")
	require.Empty(t, blobs.Paths())

	require.NoError(t, f.WriteSchema(context.Background(), "s", nil, nil, nil))
	require.NoError(t, f.WriteState(context.Background(), nil))
	require.NoError(t, f.Flush(context.Background()))
}

func TestArchiveReportsStoreErrors(t *testing.T) {
	t.Parallel()

	a := NewArchive(failingStore{}, "p", "r", 10, nil)
	require.NoError(t, a.Add(context.Background(), NewRecordMessage("s", tap.Record{}, time.Time{})))
	require.ErrorContains(t, a.Flush(context.Background()), "archive p/s/r-000001.ndjson")
}

func splitLines(t *testing.T, s string) []string {
	t.Helper()
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

// --- fakes ---

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}
