package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"ffwd/internal/codec"
	"ffwd/internal/model"
	"ffwd/internal/retry"
)

const (
	defaultNATSURL          = nats.DefaultURL
	defaultNATSMetricsTopic = "ffwd.metrics"
	defaultNATSEventsTopic  = "ffwd.events"
)

// NATSSink publishes Spotify100-encoded records to NATS subjects.
// Params: server url, subject prefix, reconnect policy, logger.
// Returns: batch sink; ready while the client is connected.
type NATSSink struct {
	name          string
	url           string
	metricSubject string
	eventSubject  string
	policy        retry.Policy
	encoder       codec.Spotify100Encoder
	logger        *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

// NewNATSSink creates NATS publisher.
// Params: name sink id; url server url (empty = nats default); subject prefix for <subject>.metrics and <subject>.events (empty = ffwd.*); policy reconnect delays; logger.
// Returns: sink instance.
func NewNATSSink(name, url, subject string, policy retry.Policy, logger *slog.Logger) *NATSSink {
	url = strings.TrimSpace(url)
	if url == "" {
		url = defaultNATSURL
	}
	metricSubject, eventSubject := defaultNATSMetricsTopic, defaultNATSEventsTopic
	if subject = strings.TrimSpace(subject); subject != "" {
		metricSubject, eventSubject = subject+".metrics", subject+".events"
	}
	return &NATSSink{
		name:          name,
		url:           url,
		metricSubject: metricSubject,
		eventSubject:  eventSubject,
		policy:        policy,
		logger:        logger.With(slog.String("sink", name), slog.String("url", url)),
	}
}

func (s *NATSSink) Name() string { return s.name }

// Start connects in the background; the client keeps reconnecting with the configured policy.
// Params: ctx is unused.
// Returns: connection option error.
func (s *NATSSink) Start(context.Context) error {
	conn, err := nats.Connect(
		s.url,
		nats.Name("ffwd-"+s.name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(s.policy.Delay),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			s.logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.url, err)
	}

	s.mu.Lock()
	previous := s.conn
	s.conn = conn
	s.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
	return nil
}

// Stop drains pending publishes and closes the client.
func (s *NATSSink) Stop(context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if conn.IsConnected() {
		if err := conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			conn.Close()
			return fmt.Errorf("drain %s: %w", s.url, err)
		}
		return nil
	}
	conn.Close()
	return nil
}

func (s *NATSSink) IsReady() bool {
	conn := s.connection()
	return conn != nil && conn.IsConnected()
}

func (s *NATSSink) SendMetric(metric model.Metric) {
	if err := s.SendMetrics(context.Background(), []model.Metric{metric}); err != nil {
		s.logger.Warn("publish metric failed", slog.String("error", err.Error()))
	}
}

func (s *NATSSink) SendEvent(event model.Event) {
	if err := s.SendEvents(context.Background(), []model.Event{event}); err != nil {
		s.logger.Warn("publish event failed", slog.String("error", err.Error()))
	}
}

// SendMetrics publishes one message per metric.
func (s *NATSSink) SendMetrics(_ context.Context, metrics []model.Metric) error {
	conn := s.connection()
	if conn == nil {
		return fmt.Errorf("nats %s: not started", s.url)
	}
	for idx, metric := range metrics {
		payload, err := s.encoder.EncodeMetric(metric)
		if err != nil {
			return fmt.Errorf("encode metric[%d]: %w", idx, err)
		}
		if err := conn.Publish(s.metricSubject, payload); err != nil {
			return fmt.Errorf("publish %s: %w", s.metricSubject, err)
		}
	}
	return nil
}

// SendEvents publishes one message per event.
func (s *NATSSink) SendEvents(_ context.Context, events []model.Event) error {
	conn := s.connection()
	if conn == nil {
		return fmt.Errorf("nats %s: not started", s.url)
	}
	for idx, event := range events {
		payload, err := s.encoder.EncodeEvent(event)
		if err != nil {
			return fmt.Errorf("encode event[%d]: %w", idx, err)
		}
		if err := conn.Publish(s.eventSubject, payload); err != nil {
			return fmt.Errorf("publish %s: %w", s.eventSubject, err)
		}
	}
	return nil
}

func (s *NATSSink) connection() *nats.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
