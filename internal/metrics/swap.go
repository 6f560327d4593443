package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"

	"ffwd/internal/model"
)

// SWAPCollector scrapes swap totals, used bytes, and utilization.
type SWAPCollector struct {
	readSwap func(ctx context.Context) (*mem.SwapMemoryStat, error)
}

// NewSWAPCollector creates a SWAP collector backed by gopsutil.
func NewSWAPCollector() *SWAPCollector {
	return &SWAPCollector{readSwap: mem.SwapMemoryWithContext}
}

// Name returns logical collector name.
func (c *SWAPCollector) Name() string {
	return "swap"
}

// Scrape reads swap state; hosts without swap report zero usage.
// Params: ctx for cancellation.
// Returns: swap-total/used in bytes plus swap-usage percent, or error.
func (c *SWAPCollector) Scrape(ctx context.Context) ([]model.Metric, error) {
	sm, err := c.readSwap(ctx)
	if err != nil {
		return nil, fmt.Errorf("read swap memory: %w", err)
	}

	util := 0.0
	if sm.Total > 0 {
		util = (float64(sm.Used) / float64(sm.Total)) * 100
	}

	return []model.Metric{
		systemMetric("swap-total", "B", float64(sm.Total), nil),
		systemMetric("swap-used", "B", float64(sm.Used), nil),
		systemMetric("swap-usage", "%", util, nil),
	}, nil
}
