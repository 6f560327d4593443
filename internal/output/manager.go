package output

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ffwd/internal/filter"
	"ffwd/internal/model"
	"ffwd/internal/stats"
)

// ManagerConfig carries routing filter and enrichment defaults.
// Params: Host fills empty record hosts; TTL fills unset event ttl; Tags merge under record attributes.
// Returns: output manager settings.
type ManagerConfig struct {
	Filter filter.Filter
	Host   string
	TTL    int64
	Tags   map[string]string
}

// Manager filters, enriches, and fans records out to every ready sink.
type Manager struct {
	sinks  []Sink
	names  []string
	filter filter.Filter
	host   string
	ttl    int64
	tags   map[string]string
	stats  *stats.Stats
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates output manager.
// Params: cfg routing/enrichment; sinks delivery targets; st optional stats; logger.
// Returns: manager ready for Start.
func NewManager(cfg ManagerConfig, sinks []Sink, st *stats.Stats, logger *slog.Logger) *Manager {
	names := make([]string, len(sinks))
	for idx, sink := range sinks {
		names[idx] = nameOf(sink, fmt.Sprintf("output-%d", idx))
	}
	return &Manager{
		sinks:  sinks,
		names:  names,
		filter: filter.OrTrue(cfg.Filter),
		host:   cfg.Host,
		ttl:    cfg.TTL,
		tags:   cfg.Tags,
		stats:  st,
		logger: logger.With(slog.String("component", "output")),
		now:    time.Now,
	}
}

// Start starts all sinks concurrently.
// Params: ctx bounds the start phase.
// Returns: first sink start error.
func (m *Manager) Start(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for idx, sink := range m.sinks {
		sink := sink
		name := m.names[idx]
		group.Go(func() error {
			if err := sink.Start(groupCtx); err != nil {
				return fmt.Errorf("start output %s: %w", name, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	m.logger.Info("outputs started", slog.Int("count", len(m.sinks)))
	return nil
}

// Stop stops all sinks concurrently; every sink is asked to stop even if another fails.
// Params: ctx bounds the stop phase.
// Returns: first sink stop error.
func (m *Manager) Stop(ctx context.Context) error {
	var group errgroup.Group
	for idx, sink := range m.sinks {
		sink := sink
		name := m.names[idx]
		group.Go(func() error {
			if err := sink.Stop(ctx); err != nil {
				return fmt.Errorf("stop output %s: %w", name, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// SendMetric routes one metric.
func (m *Manager) SendMetric(metric model.Metric) {
	if !m.filter.MatchesMetric(metric) {
		m.stats.OutputDroppedByFilter(model.KindMetric)
		return
	}
	m.stats.OutputSent(model.KindMetric)

	enriched := m.enrichMetric(metric)
	for idx, sink := range m.sinks {
		if !sink.IsReady() {
			m.stats.OutputDroppedNotReady(m.names[idx], model.KindMetric)
			continue
		}
		sink.SendMetric(enriched)
	}
}

// SendEvent routes one event.
func (m *Manager) SendEvent(event model.Event) {
	if !m.filter.MatchesEvent(event) {
		m.stats.OutputDroppedByFilter(model.KindEvent)
		return
	}
	m.stats.OutputSent(model.KindEvent)

	enriched := m.enrichEvent(event)
	for idx, sink := range m.sinks {
		if !sink.IsReady() {
			m.stats.OutputDroppedNotReady(m.names[idx], model.KindEvent)
			continue
		}
		sink.SendEvent(enriched)
	}
}

func (m *Manager) enrichMetric(metric model.Metric) model.Metric {
	if len(m.tags) == 0 && metric.Host != "" && !metric.Time.IsZero() {
		return metric
	}

	out := metric.WithAttributes(m.tags)
	if out.Host == "" {
		out.Host = m.host
	}
	if out.Time.IsZero() {
		out.Time = m.now()
	}
	return out
}

func (m *Manager) enrichEvent(event model.Event) model.Event {
	if len(m.tags) == 0 && m.ttl == 0 && event.Host != "" && !event.Time.IsZero() {
		return event
	}

	out := event.WithAttributes(m.tags)
	if out.Host == "" {
		out.Host = m.host
	}
	if out.Time.IsZero() {
		out.Time = m.now()
	}
	if out.TTL == 0 {
		out.TTL = m.ttl
	}
	return out
}
