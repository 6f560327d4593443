package metrics

import (
	"context"

	"ffwd/internal/model"
)

// SystemKey is the metric key shared by all host collectors; attribute "what" names the series.
const SystemKey = "system"

// Collector scrapes one host subsystem.
// Params: context for cancellation and deadlines.
// Returns: metrics without host or time (the output manager fills both) or scrape error.
type Collector interface {
	Name() string
	Scrape(ctx context.Context) ([]model.Metric, error)
}

// Default returns the collectors enabled by the system input.
func Default() []Collector {
	return []Collector{
		NewCPUCollector(),
		NewRAMCollector(),
		NewSWAPCollector(),
		NewNETCollector(),
	}
}

func systemMetric(what, unit string, value float64, attributes map[string]string) model.Metric {
	merged := make(map[string]string, len(attributes)+2)
	for name, attribute := range attributes {
		merged[name] = attribute
	}
	merged["what"] = what
	if unit != "" {
		merged["unit"] = unit
	}
	return model.Metric{Key: SystemKey, Value: value, Attributes: merged}
}
