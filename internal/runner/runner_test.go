package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/search-console-tap/internal/catalog"
	"github.com/JakeFAU/search-console-tap/internal/extract"
	"github.com/JakeFAU/search-console-tap/internal/hash/sha256"
	"github.com/JakeFAU/search-console-tap/internal/output"
	"github.com/JakeFAU/search-console-tap/internal/progress"
	"github.com/JakeFAU/search-console-tap/internal/searchconsole"
	"github.com/JakeFAU/search-console-tap/internal/state"
	"github.com/JakeFAU/search-console-tap/internal/streams"
	"github.com/JakeFAU/search-console-tap/internal/tap"
)

const testRunID = "0190b4a2-7c3e-7d2a-9f10-5b6c7d8e9f00"

func TestRunSyncsSelectedStream(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	counters, err := h.runner.Run(context.Background(), testRunID, tap.RunRequest{
		Streams: []string{streams.PerformanceReportDate},
	})
	require.NoError(t, err)
	require.Equal(t, tap.RunCounters{Streams: 1, Passes: 1, Pages: 6, Records: 6}, counters)

	msgs := h.messages(t)
	require.Equal(t, output.TypeSchema, msgs[0]["type"])
	require.Equal(t, streams.PerformanceReportDate, msgs[0]["stream"])
	require.Equal(t, []any{"date"}, msgs[0]["bookmark_properties"])

	require.Equal(t, output.TypeState, msgs[1]["type"])
	require.Equal(t, streams.PerformanceReportDate, stateValue(msgs[1])["currently_syncing"])

	last := msgs[len(msgs)-1]
	require.Equal(t, output.TypeState, last["type"])
	require.Nil(t, stateValue(last)["currently_syncing"])

	var records int
	for _, m := range msgs {
		if m["type"] == output.TypeRecord {
			records++
		}
	}
	require.Equal(t, 6, records)

	saved, err := h.states.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, saved.CurrentlySyncing())
	for _, st := range streams.DefaultSubTypes() {
		got, ok := saved.Bookmark(streams.PerformanceReportDate, "https://a.com/", string(st))
		require.True(t, ok, st)
		require.Equal(t, "2024-01-01", got)
	}

	stages := h.progress.stages()
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
}

func TestRunRequestSitesOverrideConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.runner.Run(context.Background(), testRunID, tap.RunRequest{
		Streams: []string{streams.PerformanceReportDate},
		Sites:   []string{"sc-domain:b.com"},
	})
	require.NoError(t, err)
	for _, site := range h.querier.sites() {
		require.Equal(t, "sc-domain:b.com", site)
	}
}

func TestRunFansOutSearchAppearances(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *Options) { o.SearchAppearances = "AMP_BLUE_LINK, VIDEO" })
	counters, err := h.runner.Run(context.Background(), testRunID, tap.RunRequest{
		Streams: []string{streams.PerformanceReportSearchAppearance},
	})
	require.NoError(t, err)
	require.Equal(t, 2, counters.Passes)

	saved, err := h.states.Load(context.Background())
	require.NoError(t, err)
	for _, key := range []string{"web:AMP_BLUE_LINK", "web:VIDEO"} {
		_, ok := saved.Bookmark(streams.PerformanceReportSearchAppearance, "https://a.com/", key)
		require.True(t, ok, key)
	}
}

func TestRunSavesStateWhenStreamFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	boom := errors.New("backend unavailable")
	h.querier.failOn = streams.SearchTypeImage
	h.querier.err = boom

	_, err := h.runner.Run(context.Background(), testRunID, tap.RunRequest{
		Streams: []string{streams.PerformanceReportDate},
	})
	require.ErrorIs(t, err, boom)

	saved, loadErr := h.states.Load(context.Background())
	require.NoError(t, loadErr)
	require.Equal(t, streams.PerformanceReportDate, saved.CurrentlySyncing())
	_, ok := saved.Bookmark(streams.PerformanceReportDate, "https://a.com/", string(streams.SearchTypeWeb))
	require.True(t, ok)
	_, ok = saved.Bookmark(streams.PerformanceReportDate, "https://a.com/", string(streams.SearchTypeImage))
	require.False(t, ok)

	stages := h.progress.stages()
	require.Equal(t, progress.StageRunError, stages[len(stages)-1])
}

func TestRunResumesInterruptedStreamFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	st := state.New()
	st.SetCurrentlySyncing(streams.PerformanceReportCountry)
	require.NoError(t, h.states.Save(context.Background(), st))

	_, err := h.runner.Run(context.Background(), testRunID, tap.RunRequest{
		Streams: []string{streams.PerformanceReportDate, streams.PerformanceReportCountry},
	})
	require.NoError(t, err)

	var order []string
	for _, m := range h.messages(t) {
		if m["type"] != output.TypeRecord {
			continue
		}
		stream := m["stream"].(string)
		if len(order) == 0 || order[len(order)-1] != stream {
			order = append(order, stream)
		}
	}
	require.Equal(t, []string{streams.PerformanceReportCountry, streams.PerformanceReportDate}, order)
}

func TestRunSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Options)
		req     tap.RunRequest
		wantErr error
		wantMsg string
	}{
		{
			name:    "unknown stream",
			req:     tap.RunRequest{Streams: []string{"performance_report_nope"}},
			wantErr: streams.ErrUnknownStream,
		},
		{
			name: "nothing selected",
			mutate: func(o *Options) {
				cat := catalog.Discover(o.Registry)
				for i := range cat.Streams {
					cat.Streams[i].Metadata[0].Metadata[catalog.MetaSelected] = false
				}
				o.Catalog = cat
			},
			wantMsg: "no streams selected",
		},
		{
			name:    "no sites",
			mutate:  func(o *Options) { o.Sites = nil },
			req:     tap.RunRequest{Streams: []string{streams.PerformanceReportDate}},
			wantMsg: "no sites to sync",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var mutators []func(*Options)
			if tc.mutate != nil {
				mutators = append(mutators, tc.mutate)
			}
			h := newHarness(t, mutators...)
			_, err := h.runner.Run(context.Background(), testRunID, tc.req)
			require.Error(t, err)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			}
			if tc.wantMsg != "" {
				require.ErrorContains(t, err, tc.wantMsg)
			}
			require.Empty(t, h.querier.sites())
		})
	}
}

func TestRunRejectsMalformedRunID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.runner.Run(context.Background(), "not-a-uuid", tap.RunRequest{})
	require.ErrorContains(t, err, "parse run id")
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.ErrorContains(t, err, "registry is required")

	_, err = New(Options{Registry: streams.Default()})
	require.ErrorContains(t, err, "client is required")
}

func TestResumeOrder(t *testing.T) {
	t.Parallel()

	all := streams.Default().All()
	require.Equal(t, all, resumeOrder(all, ""))
	require.Equal(t, all, resumeOrder(all, all[0].ID))

	rotated := resumeOrder(all, all[2].ID)
	require.Len(t, rotated, len(all))
	require.Equal(t, all[2].ID, rotated[0].ID)
	require.Equal(t, all[1].ID, rotated[len(rotated)-1].ID)
}

type harness struct {
	runner   *Runner
	states   *state.MemoryStore
	querier  *fakeQuerier
	progress *recordingProgress
	out      *bytes.Buffer
}

func newHarness(t *testing.T, mutators ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		states:   state.NewMemoryStore(),
		querier:  &fakeQuerier{},
		progress: &recordingProgress{},
		out:      &bytes.Buffer{},
	}
	opts := Options{
		Registry: streams.Default(),
		Client:   h.querier,
		States:   h.states,
		Emitter:  output.NewWriter(h.out),
		Hasher:   sha256.New(),
		Clock:    fixedClock{t: time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)},
		Progress: h.progress,
		Settings: extract.Settings{
			StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			WindowDays: 30,
			RowLimit:   10,
		},
		Sites: []string{"https://a.com/"},
	}
	for _, m := range mutators {
		m(&opts)
	}
	r, err := New(opts)
	require.NoError(t, err)
	h.runner = r
	return h
}

func (h *harness) messages(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(h.out.Bytes()))
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, out)
	return out
}

func stateValue(msg map[string]any) map[string]any {
	return msg["value"].(map[string]any)
}

// --- fakes ---

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeQuerier answers every query with one row dated at the window start.
type fakeQuerier struct {
	mu     sync.Mutex
	failOn streams.SearchType
	err    error
	seen   []string
}

func (f *fakeQuerier) Query(_ context.Context, site string, q searchconsole.Query) (searchconsole.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, site)
	if f.err != nil && q.SearchType == f.failOn {
		return searchconsole.Page{}, f.err
	}
	keys := make([]string, len(q.Body.Dimensions))
	for i, dim := range q.Body.Dimensions {
		keys[i] = dim + "-value"
		if dim == streams.DimensionDate {
			keys[i] = q.StartDate
		}
	}
	return searchconsole.Page{Rows: []searchconsole.Row{{Keys: keys, Clicks: 1, Impressions: 4, CTR: 0.25, Position: 3}}}, nil
}

func (f *fakeQuerier) sites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type recordingProgress struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingProgress) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingProgress) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}
