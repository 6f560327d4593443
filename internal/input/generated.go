package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"ffwd/internal/model"
)

const (
	defaultGeneratedCount = 10000
	defaultGeneratedRate  = 100
)

// GeneratedConfig controls the synthetic metric source.
// Params: Count distinct series (0 = 10000); SameHost uses one host for all; Rate emits per second (0 = 100).
// Returns: generator settings.
type GeneratedConfig struct {
	Count    int
	SameHost bool
	Rate     float64
}

// GeneratedSource emits randomly picked metrics from a pre-built set until stopped.
type GeneratedSource struct {
	name    string
	cfg     GeneratedConfig
	channel Channel
	logger  *slog.Logger
	pick    func(n int) int

	mu      sync.Mutex
	metrics []model.Metric
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewGeneratedSource creates the synthetic metric source.
// Params: name source id; cfg generator settings; channel record consumer; logger.
// Returns: source or error for negative count/rate.
func NewGeneratedSource(name string, cfg GeneratedConfig, channel Channel, logger *slog.Logger) (*GeneratedSource, error) {
	if cfg.Count < 0 {
		return nil, fmt.Errorf("generated input %s: count cannot be negative", name)
	}
	if cfg.Rate < 0 {
		return nil, fmt.Errorf("generated input %s: rate cannot be negative", name)
	}
	if cfg.Count == 0 {
		cfg.Count = defaultGeneratedCount
	}
	if cfg.Rate == 0 {
		cfg.Rate = defaultGeneratedRate
	}
	return &GeneratedSource{
		name:    name,
		cfg:     cfg,
		channel: channel,
		logger:  logger.With(slog.String("plugin", "generated"), slog.String("source", name)),
		pick:    rand.Intn,
	}, nil
}

func (s *GeneratedSource) Name() string { return s.name }

// Metrics returns the pre-built series; empty before Start.
func (s *GeneratedSource) Metrics() []model.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Start builds the series set and launches the emitter.
// Params: ctx is unused; emission stops on Stop.
// Returns: nil.
func (s *GeneratedSource) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	s.metrics = generateMetrics(s.cfg.Count, s.cfg.SameHost)
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.Rate), 1)
	go s.emit(runCtx, limiter, s.metrics, s.done)
	s.logger.Info("generated input started", slog.Int("count", s.cfg.Count), slog.Float64("rate", s.cfg.Rate))
	return nil
}

// Stop halts the emitter and waits for it.
// Params: ctx bounds the wait.
// Returns: ctx error when the emitter does not exit in time.
func (s *GeneratedSource) Stop(ctx context.Context) error {
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
		return fmt.Errorf("stop generated input %s: %w", s.name, ctx.Err())
	}
}

func (s *GeneratedSource) emit(ctx context.Context, limiter *rate.Limiter, metrics []model.Metric, done chan struct{}) {
	defer close(done)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn("generated input stopped", slog.String("error", err.Error()))
			}
			return
		}
		s.channel.ReceiveMetric(metrics[s.pick(len(metrics))])
	}
}

func generateMetrics(count int, sameHost bool) []model.Metric {
	out := make([]model.Metric, 0, count)
	for i := 0; i < count; i++ {
		host := "host"
		if !sameHost {
			host = "host" + strconv.Itoa(i)
		}
		out = append(out, model.Metric{
			Key:        "generated",
			Value:      0.42 * float64(i),
			Host:       host,
			Attributes: map[string]string{"what": "metric-" + strconv.Itoa(i)},
		})
	}
	return out
}
