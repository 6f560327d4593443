package output

import (
	"context"
	"sync/atomic"

	"ffwd/internal/model"
)

// NoopSink discards records and only counts them.
type NoopSink struct {
	name    string
	metrics atomic.Int64
	events  atomic.Int64
}

// NewNoopSink creates a discarding sink.
func NewNoopSink(name string) *NoopSink {
	return &NoopSink{name: name}
}

func (s *NoopSink) Name() string                { return s.name }
func (s *NoopSink) Start(context.Context) error { return nil }
func (s *NoopSink) Stop(context.Context) error  { return nil }
func (s *NoopSink) IsReady() bool               { return true }
func (s *NoopSink) SendMetric(model.Metric)     { s.metrics.Add(1) }
func (s *NoopSink) SendEvent(model.Event)       { s.events.Add(1) }

func (s *NoopSink) SendMetrics(_ context.Context, metrics []model.Metric) error {
	s.metrics.Add(int64(len(metrics)))
	return nil
}

func (s *NoopSink) SendEvents(_ context.Context, events []model.Event) error {
	s.events.Add(int64(len(events)))
	return nil
}

// Counts returns discarded metric and event totals.
func (s *NoopSink) Counts() (metrics, events int64) {
	return s.metrics.Load(), s.events.Load()
}
