package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ffwd/internal/model"
	"ffwd/internal/retry"
)

// Encoder turns records into wire payloads for a protocol sink.
type Encoder interface {
	EncodeMetric(metric model.Metric) ([]byte, error)
	EncodeEvent(event model.Event) ([]byte, error)
}

// Sink delivers records through a resilient outbound connection.
// Params: remote address, setup factory, retry policy, encoder, and logger.
// Returns: batch-capable sink; bulk sends fail while disconnected, single sends are dropped.
type Sink struct {
	addr    Address
	setup   SetupFunc
	policy  retry.Policy
	encoder Encoder
	logger  *slog.Logger

	mu   sync.Mutex
	conn *Connection
}

// NewSink creates protocol sink; the connection is opened on Start.
// Params: addr remote endpoint; setup transport factory; policy retry delays; encoder wire codec; logger.
// Returns: sink instance.
func NewSink(addr Address, setup SetupFunc, policy retry.Policy, encoder Encoder, logger *slog.Logger) *Sink {
	return &Sink{
		addr:    addr,
		setup:   setup,
		policy:  policy,
		encoder: encoder,
		logger:  logger,
	}
}

// Start opens the connection without waiting for it; clients report readiness through IsReady.
// Params: ctx is unused.
// Returns: nil.
func (s *Sink) Start(context.Context) error {
	conn := NewConnection("connect "+s.addr.String(), s.setup, s.policy, s.logger)

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		_ = conn.Stop()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Stop releases the connection.
// Params: ctx is unused.
// Returns: close error.
func (s *Sink) Stop(context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Stop()
}

// IsReady reports whether the connection currently has an open transport.
func (s *Sink) IsReady() bool {
	conn := s.connection()
	return conn != nil && conn.IsConnected()
}

// SendMetric writes one metric best-effort.
func (s *Sink) SendMetric(metric model.Metric) {
	conn := s.connection()
	if conn == nil {
		return
	}
	payload, err := s.encoder.EncodeMetric(metric)
	if err != nil {
		s.logger.Warn("encode metric failed", slog.String("key", metric.Key), slog.String("error", err.Error()))
		return
	}
	conn.Send(payload)
}

// SendEvent writes one event best-effort.
func (s *Sink) SendEvent(event model.Event) {
	conn := s.connection()
	if conn == nil {
		return
	}
	payload, err := s.encoder.EncodeEvent(event)
	if err != nil {
		s.logger.Warn("encode event failed", slog.String("key", event.Key), slog.String("error", err.Error()))
		return
	}
	conn.Send(payload)
}

// SendMetrics writes a batch of metrics.
// Params: ctx bounds the writes; metrics batch.
// Returns: not-connected error, encode error, or transport error.
func (s *Sink) SendMetrics(ctx context.Context, metrics []model.Metric) error {
	conn := s.connection()
	if conn == nil {
		return s.notConnected()
	}
	payloads := make([][]byte, 0, len(metrics))
	for idx, metric := range metrics {
		payload, err := s.encoder.EncodeMetric(metric)
		if err != nil {
			return fmt.Errorf("encode metric[%d]: %w", idx, err)
		}
		payloads = append(payloads, payload)
	}
	return s.sendAll(ctx, conn, payloads)
}

// SendEvents writes a batch of events.
// Params: ctx bounds the writes; events batch.
// Returns: not-connected error, encode error, or transport error.
func (s *Sink) SendEvents(ctx context.Context, events []model.Event) error {
	conn := s.connection()
	if conn == nil {
		return s.notConnected()
	}
	payloads := make([][]byte, 0, len(events))
	for idx, event := range events {
		payload, err := s.encoder.EncodeEvent(event)
		if err != nil {
			return fmt.Errorf("encode event[%d]: %w", idx, err)
		}
		payloads = append(payloads, payload)
	}
	return s.sendAll(ctx, conn, payloads)
}

func (s *Sink) sendAll(ctx context.Context, conn *Connection, payloads [][]byte) error {
	if err := conn.SendAll(ctx, payloads); err != nil {
		return fmt.Errorf("send to %s: %w", s.addr, err)
	}
	return nil
}

func (s *Sink) notConnected() error {
	return fmt.Errorf("not connected to %s: %w", s.addr, ErrNotConnected)
}

func (s *Sink) connection() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
