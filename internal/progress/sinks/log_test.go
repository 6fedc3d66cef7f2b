package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/search-console-tap/internal/progress"
)

func TestLogSinkWritesScopedFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	id := uuid.New()

	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(id), Stage: progress.StageRunStart},
		{
			RunID:            progress.UUIDToBytes(id),
			Stage:            progress.StagePassDone,
			Stream:           "performance_report_search_appearance",
			Site:             "https://a.com/",
			SearchAppearance: "VIDEO",
			Pages:            2,
			Records:          40,
			Dur:              time.Second,
		},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)

	start := entries[0].ContextMap()
	require.Equal(t, id.String(), start["run_id"])
	require.Equal(t, "RUN_START", start["stage"])
	require.NotContains(t, start, "stream")

	pass := entries[1].ContextMap()
	require.Equal(t, "performance_report_search_appearance", pass["stream"])
	require.Equal(t, "VIDEO", pass["search_appearance"])
	require.Equal(t, int64(40), pass["records"])
	require.Equal(t, time.Second, pass["dur"])
}

func TestLogSinkNilLogger(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunDone}}))
}
