package streams

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseSearchAppearances(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "single", raw: "AMP", want: []string{"AMP"}},
		{name: "spaces inside tokens are removed", raw: "Video, AMP Blue Link", want: []string{"Video", "AMPBlueLink"}},
		{name: "empty yields one empty value", raw: "", want: []string{""}},
		{name: "only spaces", raw: "   ", want: []string{""}},
		{name: "empty tokens kept", raw: "a,,b", want: []string{"a", "", "b"}},
		{name: "trailing comma", raw: "AMP,", want: []string{"AMP", ""}},
		{name: "tabs are not spaces", raw: "\tAMP", want: []string{"\tAMP"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ParseSearchAppearances(tc.raw))
		})
	}
}

func TestControllerRun_SitesOuterAppearancesInner(t *testing.T) {
	t.Parallel()

	desc, err := Default().Get(PerformanceReportSearchAppearance)
	require.NoError(t, err)

	fetcher := &recordingFetcher{}
	ctrl := NewController("AMP,Video", false, zap.NewNop())
	sites := []string{"https://a.com/", "https://b.com/"}

	require.NoError(t, ctrl.Run(context.Background(), desc, sites, fetcher))
	require.Len(t, fetcher.passes, 4)

	type pair struct{ site, appearance string }
	var got []pair
	for _, p := range fetcher.passes {
		got = append(got, pair{p.Site, p.SearchAppearance})
		expr, ok := p.Body.FilterExpression(DimensionSearchAppearance)
		require.True(t, ok)
		require.Equal(t, p.SearchAppearance, expr)
		require.True(t, p.Filtered)
		require.Equal(t, []SearchType{SearchTypeWeb}, p.SearchTypes)
	}
	require.Equal(t, []pair{
		{"https://a.com/", "AMP"},
		{"https://a.com/", "Video"},
		{"https://b.com/", "AMP"},
		{"https://b.com/", "Video"},
	}, got)
}

func TestControllerRun_CallCountIsSitesTimesAppearances(t *testing.T) {
	t.Parallel()

	desc, err := Default().Get(PerformanceReportSearchAppearance)
	require.NoError(t, err)

	for _, tc := range []struct {
		sites       []string
		appearances string
	}{
		{sites: []string{"s1"}, appearances: "a"},
		{sites: []string{"s1", "s2", "s3"}, appearances: "a,b"},
		{sites: []string{"s1", "s2"}, appearances: ""},
		{sites: nil, appearances: "a,b,c"},
	} {
		fetcher := &recordingFetcher{}
		ctrl := NewController(tc.appearances, false, nil)
		require.NoError(t, ctrl.Run(context.Background(), desc, tc.sites, fetcher))
		require.Len(t, fetcher.passes, len(tc.sites)*len(ParseSearchAppearances(tc.appearances)))
	}
}

func TestControllerRun_BodiesAreIsolated(t *testing.T) {
	t.Parallel()

	registry := Default()
	desc, err := registry.Get(PerformanceReportSearchAppearance)
	require.NoError(t, err)

	fetcher := SiteFetcherFunc(func(_ context.Context, pass Pass) error {
		// A misbehaving fetcher that scribbles on its body must not affect
		// later passes or the registry.
		pass.Body.FilterGroups[0].Filters[0].Expression = "tampered"
		pass.Body.Dimensions[0] = "tampered"
		return nil
	})
	recorder := &recordingFetcher{}
	ctrl := NewController("AMP,Video", false, nil)

	require.NoError(t, ctrl.Run(context.Background(), desc, []string{"s"}, fetcher))
	require.NoError(t, ctrl.Run(context.Background(), desc, []string{"s"}, recorder))

	for _, p := range recorder.passes {
		require.Equal(t, []string{DimensionDate, DimensionPage}, p.Body.Dimensions)
		expr, _ := p.Body.FilterExpression(DimensionSearchAppearance)
		require.Equal(t, p.SearchAppearance, expr)
	}

	again, err := registry.Get(PerformanceReportSearchAppearance)
	require.NoError(t, err)
	expr, ok := again.Body.FilterExpression(DimensionSearchAppearance)
	require.True(t, ok)
	require.Empty(t, expr)
}

func TestControllerRun_ErrorStopsLaterPasses(t *testing.T) {
	t.Parallel()

	desc, err := Default().Get(PerformanceReportSearchAppearance)
	require.NoError(t, err)

	boom := errors.New("quota exceeded")
	fetcher := &recordingFetcher{failOn: 2, err: boom}
	ctrl := NewController("AMP,Video", false, nil)

	err = ctrl.Run(context.Background(), desc, []string{"a", "b"}, fetcher)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), `search appearance "Video"`)
	require.Len(t, fetcher.passes, 2)
}

func TestControllerRun_StrictRejectsEmptyAppearance(t *testing.T) {
	t.Parallel()

	desc, err := Default().Get(PerformanceReportSearchAppearance)
	require.NoError(t, err)

	fetcher := &recordingFetcher{}
	err = NewController("AMP,", true, nil).Run(context.Background(), desc, []string{"a"}, fetcher)
	require.ErrorIs(t, err, ErrEmptySearchAppearance)
	require.Empty(t, fetcher.passes)
}

func TestControllerRun_EmptyAppearanceSendsEmptyExpression(t *testing.T) {
	t.Parallel()

	desc, err := Default().Get(PerformanceReportSearchAppearance)
	require.NoError(t, err)

	fetcher := &recordingFetcher{}
	require.NoError(t, NewController("", false, nil).Run(context.Background(), desc, []string{"a"}, fetcher))
	require.Len(t, fetcher.passes, 1)
	expr, ok := fetcher.passes[0].Body.FilterExpression(DimensionSearchAppearance)
	require.True(t, ok)
	require.Equal(t, "", expr)
}

func TestControllerRun_UnfilteredStreamsRunOncePerSite(t *testing.T) {
	t.Parallel()

	desc, err := Default().Get(PerformanceReportDevice)
	require.NoError(t, err)

	fetcher := &recordingFetcher{}
	require.NoError(t, NewController("AMP,Video", false, nil).Run(context.Background(), desc, []string{"a", "b"}, fetcher))
	require.Len(t, fetcher.passes, 2)
	for _, p := range fetcher.passes {
		require.False(t, p.Filtered)
		require.Empty(t, p.Body.FilterGroups)
		require.NotContains(t, p.SearchTypes, SearchTypeDiscover)
	}
}

func TestControllerRun_LogsPassStartAndFinish(t *testing.T) {
	t.Parallel()

	desc, err := Default().Get(PerformanceReportSearchAppearance)
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	ctrl := NewController("AMP", false, zap.New(core))
	require.NoError(t, ctrl.Run(context.Background(), desc, []string{"https://a.com/"}, &recordingFetcher{}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "starting sync", entries[0].Message)
	require.Equal(t, "finished sync", entries[1].Message)
	ctxMap := entries[0].ContextMap()
	require.Equal(t, PerformanceReportSearchAppearance, ctxMap["stream"])
	require.Equal(t, "https://a.com/", ctxMap["site"])
	require.Equal(t, "AMP", ctxMap["search_appearance"])
}

func TestControllerRun_CanceledContext(t *testing.T) {
	t.Parallel()

	desc, err := Default().Get(PerformanceReportDate)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &recordingFetcher{}
	require.ErrorIs(t, NewController("", false, nil).Run(ctx, desc, []string{"a"}, fetcher), context.Canceled)
	require.Empty(t, fetcher.passes)
}

// --- fakes ---

type recordingFetcher struct {
	passes []Pass
	failOn int
	err    error
}

func (f *recordingFetcher) FetchSite(_ context.Context, pass Pass) error {
	f.passes = append(f.passes, pass)
	if f.failOn > 0 && len(f.passes) == f.failOn {
		return f.err
	}
	return nil
}
