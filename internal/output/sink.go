package output

import (
	"context"

	"ffwd/internal/model"
)

// Sink receives records one at a time from the output manager.
type Sink interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendMetric(metric model.Metric)
	SendEvent(event model.Event)
	IsReady() bool
}

// BatchSink additionally accepts whole batches; the flushing sink drives it.
type BatchSink interface {
	Sink
	SendMetrics(ctx context.Context, metrics []model.Metric) error
	SendEvents(ctx context.Context, events []model.Event) error
}

// Named is implemented by sinks that carry a configured id for logs and statistics.
type Named interface {
	Name() string
}

// nameOf returns sink name or fallback when the sink is anonymous.
func nameOf(sink Sink, fallback string) string {
	if named, ok := sink.(Named); ok && named.Name() != "" {
		return named.Name()
	}
	return fallback
}
