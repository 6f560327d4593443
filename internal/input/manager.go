package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"ffwd/internal/filter"
	"ffwd/internal/model"
	"ffwd/internal/stats"
)

// ManagerConfig carries the input routing filter and optional record inspector.
type ManagerConfig struct {
	Filter    filter.Filter
	Inspector Inspector
}

// Output receives every accepted record; the output manager satisfies it.
type Output interface {
	SendMetric(metric model.Metric)
	SendEvent(event model.Event)
}

type namedSource struct {
	name   string
	source Source
}

// Manager is the Channel shared by all sources: it filters records and forwards them to output.
type Manager struct {
	filter    filter.Filter
	inspector Inspector
	output    Output
	stats     *stats.Stats
	logger    *slog.Logger

	mu      sync.Mutex
	sources []namedSource
}

// NewManager creates input manager.
// Params: cfg filter/inspector; output downstream (the output manager); st optional stats; logger.
// Returns: manager without sources; attach them with Add before Start.
func NewManager(cfg ManagerConfig, output Output, st *stats.Stats, logger *slog.Logger) *Manager {
	return &Manager{
		filter:    filter.OrTrue(cfg.Filter),
		inspector: cfg.Inspector,
		output:    output,
		stats:     st,
		logger:    logger.With(slog.String("component", "input")),
	}
}

// Add attaches a source constructed with this manager as its channel.
// Params: name source id for logs and errors; source plugin instance.
// Returns: none.
func (m *Manager) Add(name string, source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, namedSource{name: name, source: source})
}

// Len returns number of attached sources.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// Start starts all sources concurrently.
// Params: ctx bounds the start phase.
// Returns: first source start error.
func (m *Manager) Start(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range m.snapshot() {
		entry := entry
		group.Go(func() error {
			if err := entry.source.Start(groupCtx); err != nil {
				return fmt.Errorf("start input %s: %w", entry.name, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	m.logger.Info("inputs started", slog.Int("count", m.Len()))
	return nil
}

// Stop stops all sources concurrently; every source is asked to stop even if another fails.
// Params: ctx bounds the stop phase.
// Returns: first source stop error.
func (m *Manager) Stop(ctx context.Context) error {
	var group errgroup.Group
	for _, entry := range m.snapshot() {
		entry := entry
		group.Go(func() error {
			if err := entry.source.Stop(ctx); err != nil {
				return fmt.Errorf("stop input %s: %w", entry.name, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// ReceiveMetric filters one metric and forwards it.
func (m *Manager) ReceiveMetric(metric model.Metric) {
	if !m.filter.MatchesMetric(metric) {
		m.stats.InputDroppedByFilter(model.KindMetric)
		return
	}
	m.stats.InputReceived(model.KindMetric)
	if m.inspector != nil {
		m.inspector.InspectMetric(metric)
	}
	m.output.SendMetric(metric)
}

// ReceiveEvent filters one event and forwards it.
func (m *Manager) ReceiveEvent(event model.Event) {
	if !m.filter.MatchesEvent(event) {
		m.stats.InputDroppedByFilter(model.KindEvent)
		return
	}
	m.stats.InputReceived(model.KindEvent)
	if m.inspector != nil {
		m.inspector.InspectEvent(event)
	}
	m.output.SendEvent(event)
}

func (m *Manager) snapshot() []namedSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]namedSource(nil), m.sources...)
}
