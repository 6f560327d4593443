package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	netio "github.com/shirou/gopsutil/v4/net"

	"ffwd/internal/model"
)

func byWhat(metrics []model.Metric) map[string]model.Metric {
	out := make(map[string]model.Metric, len(metrics))
	for _, metric := range metrics {
		out[metric.Attributes["what"]+"/"+metric.Attributes["cpu"]+metric.Attributes["interface"]] = metric
	}
	return out
}

func TestCPUCollectorScrapeTotalAndCores(t *testing.T) {
	collector := NewCPUCollector()
	collector.readPercent = func(_ context.Context, _ time.Duration, perCPU bool) ([]float64, error) {
		if perCPU {
			return []float64{10, 30}, nil
		}
		return []float64{20}, nil
	}

	got, err := collector.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
	indexed := byWhat(got)
	if indexed["cpu-usage/total"].Value != 20 {
		t.Fatalf("total=%v want 20", indexed["cpu-usage/total"].Value)
	}
	if indexed["cpu-usage/core1"].Value != 30 {
		t.Fatalf("core1=%v want 30", indexed["cpu-usage/core1"].Value)
	}
	for _, metric := range got {
		if metric.Key != SystemKey || metric.Attributes["unit"] != "%" {
			t.Fatalf("unexpected metric %+v", metric)
		}
	}
}

func TestCPUCollectorScrapeError(t *testing.T) {
	collector := NewCPUCollector()
	collector.readPercent = func(context.Context, time.Duration, bool) ([]float64, error) {
		return nil, errors.New("no procfs")
	}
	if _, err := collector.Scrape(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRAMCollectorComputesUsage(t *testing.T) {
	collector := NewRAMCollector()
	collector.readMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 1000, Used: 250, Available: 700}, nil
	}

	got, err := collector.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	indexed := byWhat(got)
	if indexed["memory-usage/"].Value != 25 {
		t.Fatalf("usage=%v want 25", indexed["memory-usage/"].Value)
	}
	if indexed["memory-free/"].Value != 700 {
		t.Fatalf("free=%v want 700", indexed["memory-free/"].Value)
	}
}

func TestSWAPCollectorWithoutSwap(t *testing.T) {
	collector := NewSWAPCollector()
	collector.readSwap = func(context.Context) (*mem.SwapMemoryStat, error) {
		return &mem.SwapMemoryStat{}, nil
	}

	got, err := collector.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if usage := byWhat(got)["swap-usage/"].Value; usage != 0 {
		t.Fatalf("usage=%v want 0", usage)
	}
}

func TestNETCollectorRatesBetweenScrapes(t *testing.T) {
	collector := NewNETCollector()
	at := time.Unix(1700000000, 0)
	collector.now = func() time.Time { return at }
	counters := []netio.IOCountersStat{{Name: "eth0", BytesRecv: 1000, BytesSent: 500, PacketsRecv: 10, PacketsSent: 5}}
	collector.readIOCounters = func(context.Context, bool) ([]netio.IOCountersStat, error) {
		return counters, nil
	}

	first, err := collector.Scrape(context.Background())
	if err != nil {
		t.Fatalf("first Scrape: %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("first scrape must only prime baseline, got %d metrics", len(first))
	}

	at = at.Add(2 * time.Second)
	counters = []netio.IOCountersStat{{Name: "eth0", BytesRecv: 3000, BytesSent: 400, PacketsRecv: 30, PacketsSent: 9}}
	second, err := collector.Scrape(context.Background())
	if err != nil {
		t.Fatalf("second Scrape: %v", err)
	}
	indexed := byWhat(second)
	if got := indexed["network-rx-bytes/eth0"].Value; got != 1000 {
		t.Fatalf("rx=%v want 1000", got)
	}
	if got := indexed["network-tx-bytes/eth0"].Value; got != 0 {
		t.Fatalf("tx after counter reset=%v want 0", got)
	}
	if got := indexed["network-tx-packets/eth0"].Value; got != 2 {
		t.Fatalf("tx packets=%v want 2", got)
	}
}
