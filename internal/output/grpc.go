package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"ffwd/internal/model"
	"ffwd/internal/rpc"
)

const defaultGRPCCallTimeout = 5 * time.Second

// GRPCSink pushes batches to a remote collector over a cached client connection.
// Params: target host:port, per-call timeout, logger.
// Returns: batch sink; the connection is dropped and rebuilt after a failed call.
type GRPCSink struct {
	name    string
	target  string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	conn   *grpc.ClientConn
	client *rpc.CollectorClient

	started atomic.Bool
}

// NewGRPCSink creates gRPC batch sink.
// Params: name sink id; target remote host:port; timeout call timeout (0 = default); logger.
// Returns: sink or error for empty target.
func NewGRPCSink(name, target string, timeout time.Duration, logger *slog.Logger) (*GRPCSink, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("grpc output %s: target is required", name)
	}
	if timeout <= 0 {
		timeout = defaultGRPCCallTimeout
	}
	return &GRPCSink{
		name:    name,
		target:  target,
		timeout: timeout,
		logger:  logger.With(slog.String("sink", name), slog.String("target", target)),
	}, nil
}

func (s *GRPCSink) Name() string { return s.name }

// Start marks sink usable; the connection is created on first push.
func (s *GRPCSink) Start(context.Context) error {
	s.started.Store(true)
	return nil
}

// Stop closes the cached connection.
func (s *GRPCSink) Stop(context.Context) error {
	s.started.Store(false)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.client = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *GRPCSink) IsReady() bool {
	return s.started.Load()
}

// SendMetric pushes a single metric as a one-record batch.
func (s *GRPCSink) SendMetric(metric model.Metric) {
	if err := s.SendMetrics(context.Background(), []model.Metric{metric}); err != nil {
		s.logger.Warn("push metric failed", slog.String("error", err.Error()))
	}
}

// SendEvent pushes a single event as a one-record batch.
func (s *GRPCSink) SendEvent(event model.Event) {
	if err := s.SendEvents(context.Background(), []model.Event{event}); err != nil {
		s.logger.Warn("push event failed", slog.String("error", err.Error()))
	}
}

func (s *GRPCSink) SendMetrics(ctx context.Context, metrics []model.Metric) error {
	return s.push(ctx, metrics, nil)
}

func (s *GRPCSink) SendEvents(ctx context.Context, events []model.Event) error {
	return s.push(ctx, nil, events)
}

func (s *GRPCSink) push(ctx context.Context, metrics []model.Metric, events []model.Event) error {
	payload, err := rpc.EncodeBatch(metrics, events)
	if err != nil {
		return err
	}

	client, err := s.clientForTarget()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := client.Push(callCtx, payload); err != nil {
		s.dropConnection()
		return fmt.Errorf("push batch %s: %w", s.target, err)
	}
	return nil
}

// clientForTarget returns cached client or creates a new connection.
// Params: none.
// Returns: collector client or connection setup error.
func (s *GRPCSink) clientForTarget() (*rpc.CollectorClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	conn, err := grpc.NewClient(s.target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.target, err)
	}
	s.conn = conn
	s.client = rpc.NewCollectorClient(conn)
	return s.client, nil
}

// dropConnection closes the cached connection so the next push reconnects.
func (s *GRPCSink) dropConnection() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.client = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
