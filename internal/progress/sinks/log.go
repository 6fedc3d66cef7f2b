package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/progress"
)

// LogSink writes each event as a debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stream != "" {
			fields = append(fields, zap.String("stream", evt.Stream), zap.String("site", evt.Site))
		}
		if evt.SearchAppearance != "" {
			fields = append(fields, zap.String("search_appearance", evt.SearchAppearance))
		}
		if evt.SearchType != "" {
			fields = append(fields, zap.String("search_type", evt.SearchType))
		}
		if evt.Pages > 0 || evt.Records > 0 {
			fields = append(fields, zap.Int64("pages", evt.Pages), zap.Int64("records", evt.Records))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
