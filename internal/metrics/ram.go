package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"

	"ffwd/internal/model"
)

// RAMCollector scrapes RAM totals, used/free, and utilization.
type RAMCollector struct {
	readMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewRAMCollector creates a RAM collector backed by gopsutil.
func NewRAMCollector() *RAMCollector {
	return &RAMCollector{readMemory: mem.VirtualMemoryWithContext}
}

// Name returns logical collector name.
func (c *RAMCollector) Name() string {
	return "ram"
}

// Scrape reads RAM state from kernel.
// Params: ctx for cancellation.
// Returns: memory-total/used/free in bytes plus memory-usage percent, or error.
func (c *RAMCollector) Scrape(ctx context.Context) ([]model.Metric, error) {
	vm, err := c.readMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("read virtual memory: %w", err)
	}

	util := 0.0
	if vm.Total > 0 {
		util = (float64(vm.Used) / float64(vm.Total)) * 100
	}

	return []model.Metric{
		systemMetric("memory-total", "B", float64(vm.Total), nil),
		systemMetric("memory-used", "B", float64(vm.Used), nil),
		systemMetric("memory-free", "B", float64(vm.Available), nil),
		systemMetric("memory-usage", "%", util, nil),
	}, nil
}
