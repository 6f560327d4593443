package input

import (
	"context"

	"ffwd/internal/model"
)

// Channel accepts decoded records from input sources.
type Channel interface {
	ReceiveMetric(metric model.Metric)
	ReceiveEvent(event model.Event)
}

// Source is one running input plugin instance.
// Params: Start binds or launches the producer; Stop releases it.
// Returns: lifecycle errors; decoded records flow into the Channel given at construction.
type Source interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Inspector observes every accepted record, e.g. the debug stream.
type Inspector interface {
	InspectMetric(metric model.Metric)
	InspectEvent(event model.Event)
}
