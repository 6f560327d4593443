package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ffwd/internal/model"
)

const namespace = "ffwd"

// Stats holds agent counters registered on a private registry.
// A nil *Stats is valid and records nothing.
type Stats struct {
	registry *prometheus.Registry

	inputReceived         *prometheus.CounterVec
	inputDroppedByFilter  *prometheus.CounterVec
	decodeErrors          *prometheus.CounterVec
	outputSent            *prometheus.CounterVec
	outputDroppedByFilter *prometheus.CounterVec
	outputDroppedNotReady *prometheus.CounterVec
	flushes               *prometheus.CounterVec
	flushFailures         *prometheus.CounterVec
	droppedBatches        *prometheus.CounterVec
	droppedRecords        *prometheus.CounterVec
	pendingFlushes        *prometheus.GaugeVec
}

// New creates statistics with Go runtime and process collectors attached.
// Params: none.
// Returns: stats bound to a fresh registry.
func New() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),

		inputReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "received_total",
			Help:      "Records accepted by the input filter",
		}, []string{"kind"}),
		inputDroppedByFilter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "dropped_by_filter_total",
			Help:      "Records rejected by the input filter",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "decode_errors_total",
			Help:      "Frames discarded because they could not be decoded",
		}, []string{"plugin"}),
		outputSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "sent_total",
			Help:      "Records accepted by the output filter",
		}, []string{"kind"}),
		outputDroppedByFilter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "dropped_by_filter_total",
			Help:      "Records rejected by the output filter",
		}, []string{"kind"}),
		outputDroppedNotReady: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "dropped_not_ready_total",
			Help:      "Records skipped because the sink was not ready",
		}, []string{"sink", "kind"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "completed_total",
			Help:      "Batches delivered to the wrapped sink",
		}, []string{"sink"}),
		flushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "failed_total",
			Help:      "Batches the wrapped sink failed to deliver",
		}, []string{"sink"}),
		droppedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "dropped_batches_total",
			Help:      "Batches discarded because the flush queue was full",
		}, []string{"sink"}),
		droppedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "dropped_records_total",
			Help:      "Records inside batches discarded because the flush queue was full",
		}, []string{"sink"}),
		pendingFlushes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "pending",
			Help:      "Batches in flight or queued",
		}, []string{"sink"}),
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.inputReceived,
		s.inputDroppedByFilter,
		s.decodeErrors,
		s.outputSent,
		s.outputDroppedByFilter,
		s.outputDroppedNotReady,
		s.flushes,
		s.flushFailures,
		s.droppedBatches,
		s.droppedRecords,
		s.pendingFlushes,
	)
	return s
}

// Registry exposes the gatherer served on /metrics.
func (s *Stats) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Stats) InputReceived(kind model.Kind) {
	if s == nil {
		return
	}
	s.inputReceived.WithLabelValues(string(kind)).Inc()
}

func (s *Stats) InputDroppedByFilter(kind model.Kind) {
	if s == nil {
		return
	}
	s.inputDroppedByFilter.WithLabelValues(string(kind)).Inc()
}

func (s *Stats) DecodeError(plugin string) {
	if s == nil {
		return
	}
	s.decodeErrors.WithLabelValues(plugin).Inc()
}

func (s *Stats) OutputSent(kind model.Kind) {
	if s == nil {
		return
	}
	s.outputSent.WithLabelValues(string(kind)).Inc()
}

func (s *Stats) OutputDroppedByFilter(kind model.Kind) {
	if s == nil {
		return
	}
	s.outputDroppedByFilter.WithLabelValues(string(kind)).Inc()
}

func (s *Stats) OutputDroppedNotReady(sink string, kind model.Kind) {
	if s == nil {
		return
	}
	s.outputDroppedNotReady.WithLabelValues(sink, string(kind)).Inc()
}

func (s *Stats) FlushCompleted(sink string) {
	if s == nil {
		return
	}
	s.flushes.WithLabelValues(sink).Inc()
}

func (s *Stats) FlushFailed(sink string) {
	if s == nil {
		return
	}
	s.flushFailures.WithLabelValues(sink).Inc()
}

// BatchDropped counts one discarded batch and the records it carried.
func (s *Stats) BatchDropped(sink string, records int) {
	if s == nil {
		return
	}
	s.droppedBatches.WithLabelValues(sink).Inc()
	s.droppedRecords.WithLabelValues(sink).Add(float64(records))
}

func (s *Stats) SetPending(sink string, pending int) {
	if s == nil {
		return
	}
	s.pendingFlushes.WithLabelValues(sink).Set(float64(pending))
}
