package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/events"
)

// LogSink writes each event as a structured debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.Int("page", evt.Page),
			zap.Duration("dur", evt.Dur),
		}
		if evt.ItemID != "" {
			fields = append(fields, zap.String("id", evt.ItemID))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("crawl event", fields...)
	}
	return nil
}

// Close implements events.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
