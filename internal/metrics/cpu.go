package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"ffwd/internal/model"
)

// CPUCollector scrapes CPU total and per-core utilization.
type CPUCollector struct {
	readPercent func(ctx context.Context, interval time.Duration, perCPU bool) ([]float64, error)
}

// NewCPUCollector creates a CPU collector backed by gopsutil.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{readPercent: cpu.PercentWithContext}
}

// Name returns logical collector name.
func (c *CPUCollector) Name() string {
	return "cpu"
}

// Scrape reads CPU utilization for total and each core.
// Params: ctx for cancellation.
// Returns: what=cpu-usage metrics tagged cpu=total|core<N>, or error.
func (c *CPUCollector) Scrape(ctx context.Context) ([]model.Metric, error) {
	total, err := c.readPercent(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("read total CPU percent: %w", err)
	}

	perCore, err := c.readPercent(ctx, 0, true)
	if err != nil {
		return nil, fmt.Errorf("read per-core CPU percent: %w", err)
	}

	out := make([]model.Metric, 0, len(perCore)+1)
	if len(total) > 0 {
		out = append(out, systemMetric("cpu-usage", "%", total[0], map[string]string{"cpu": "total"}))
	}
	for idx, util := range perCore {
		out = append(out, systemMetric("cpu-usage", "%", util, map[string]string{"cpu": fmt.Sprintf("core%d", idx)}))
	}
	return out, nil
}
