package output

import (
	"context"
	"log/slog"

	"ffwd/internal/model"
)

// DebugSink logs every record it receives.
type DebugSink struct {
	name   string
	logger *slog.Logger
}

// NewDebugSink creates the logging sink.
// Params: name sink id; logger destination.
// Returns: always-ready batch sink.
func NewDebugSink(name string, logger *slog.Logger) *DebugSink {
	return &DebugSink{name: name, logger: logger.With(slog.String("sink", name))}
}

func (s *DebugSink) Name() string                   { return s.name }
func (s *DebugSink) Start(context.Context) error    { return nil }
func (s *DebugSink) Stop(context.Context) error     { return nil }
func (s *DebugSink) IsReady() bool                  { return true }
func (s *DebugSink) SendMetric(metric model.Metric) { s.logger.Info("M: " + describeMetric(metric)) }
func (s *DebugSink) SendEvent(event model.Event)    { s.logger.Info("E: " + describeEvent(event)) }

// SendMetrics logs each metric of a batch with its index.
func (s *DebugSink) SendMetrics(_ context.Context, metrics []model.Metric) error {
	for idx, metric := range metrics {
		s.logger.Info("M: "+describeMetric(metric), slog.Int("index", idx), slog.Int("batch", len(metrics)))
	}
	return nil
}

// SendEvents logs each event of a batch with its index.
func (s *DebugSink) SendEvents(_ context.Context, events []model.Event) error {
	for idx, event := range events {
		s.logger.Info("E: "+describeEvent(event), slog.Int("index", idx), slog.Int("batch", len(events)))
	}
	return nil
}
