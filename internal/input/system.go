package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ffwd/internal/metrics"
)

const defaultSystemInterval = 10 * time.Second

// SystemSource scrapes host collectors on a fixed interval.
type SystemSource struct {
	name       string
	interval   time.Duration
	collectors []metrics.Collector
	channel    Channel
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSystemSource creates host metrics input.
// Params: name source id; interval scrape period (0 = 10s); collectors (nil = metrics.Default()); channel record consumer; logger.
// Returns: source scraping once immediately on Start and then every interval.
func NewSystemSource(name string, interval time.Duration, collectors []metrics.Collector, channel Channel, logger *slog.Logger) *SystemSource {
	if interval <= 0 {
		interval = defaultSystemInterval
	}
	if collectors == nil {
		collectors = metrics.Default()
	}
	return &SystemSource{
		name:       name,
		interval:   interval,
		collectors: collectors,
		channel:    channel,
		logger:     logger.With(slog.String("plugin", "system"), slog.String("source", name)),
	}
}

func (s *SystemSource) Name() string { return s.name }

// Start launches the scrape loop.
func (s *SystemSource) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return nil
}

// Stop halts the scrape loop and waits for an in-progress scrape.
// Params: ctx bounds the wait.
// Returns: ctx error when the loop does not exit in time.
func (s *SystemSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop system input %s: %w", s.name, ctx.Err())
	}
}

func (s *SystemSource) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scrape(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scrape(ctx)
		}
	}
}

func (s *SystemSource) scrape(ctx context.Context) {
	for _, collector := range s.collectors {
		scrapeCtx, cancel := context.WithTimeout(ctx, s.interval)
		points, err := collector.Scrape(scrapeCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("scrape failed", slog.String("collector", collector.Name()), slog.String("error", err.Error()))
			}
			continue
		}
		for _, point := range points {
			s.channel.ReceiveMetric(point)
		}
	}
}
