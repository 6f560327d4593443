package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	netio "github.com/shirou/gopsutil/v4/net"

	"ffwd/internal/model"
)

type netSnapshot struct {
	at       time.Time
	counters map[string]netio.IOCountersStat
}

// NETCollector scrapes per-interface traffic rates between consecutive scrapes.
type NETCollector struct {
	readIOCounters func(context.Context, bool) ([]netio.IOCountersStat, error)
	now            func() time.Time

	mu   sync.Mutex
	prev netSnapshot
}

// NewNETCollector creates a NET collector backed by gopsutil.
func NewNETCollector() *NETCollector {
	return &NETCollector{
		readIOCounters: netio.IOCountersWithContext,
		now:            time.Now,
	}
}

// Name returns logical collector name.
func (c *NETCollector) Name() string {
	return "net"
}

// Scrape reads interface counters and converts deltas to per-second rates.
// Params: ctx for cancellation.
// Returns: rx/tx byte and packet rates tagged interface=<name>; the first scrape only primes the baseline.
func (c *NETCollector) Scrape(ctx context.Context) ([]model.Metric, error) {
	interfaceStats, err := c.readIOCounters(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read net counters: %w", err)
	}
	sort.Slice(interfaceStats, func(i, j int) bool { return interfaceStats[i].Name < interfaceStats[j].Name })

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	seconds := now.Sub(c.prev.at).Seconds()
	out := make([]model.Metric, 0, len(interfaceStats)*4)
	for _, stat := range interfaceStats {
		prev, hasPrev := c.prev.counters[stat.Name]
		if !hasPrev || seconds <= 0 {
			continue
		}
		attributes := map[string]string{"interface": stat.Name}
		out = append(out,
			systemMetric("network-rx-bytes", "B/s", ratePerSecond(positiveDelta(stat.BytesRecv, prev.BytesRecv), seconds), attributes),
			systemMetric("network-tx-bytes", "B/s", ratePerSecond(positiveDelta(stat.BytesSent, prev.BytesSent), seconds), attributes),
			systemMetric("network-rx-packets", "packet/s", ratePerSecond(positiveDelta(stat.PacketsRecv, prev.PacketsRecv), seconds), attributes),
			systemMetric("network-tx-packets", "packet/s", ratePerSecond(positiveDelta(stat.PacketsSent, prev.PacketsSent), seconds), attributes),
		)
	}

	c.prev = netSnapshot{
		at:       now,
		counters: make(map[string]netio.IOCountersStat, len(interfaceStats)),
	}
	for _, stat := range interfaceStats {
		c.prev.counters[stat.Name] = stat
	}
	return out, nil
}

// positiveDelta returns current-previous, or zero after a counter reset.
func positiveDelta(current, previous uint64) uint64 {
	if current < previous {
		return 0
	}
	return current - previous
}

// ratePerSecond converts delta over elapsed seconds into per-second rate.
func ratePerSecond(delta uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(delta) / seconds
}
