package input

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"ffwd/internal/rpc"
	"ffwd/internal/stats"
)

const defaultGRPCListen = "127.0.0.1:19092"

// GRPCSource serves the collector Push RPC and grpc health.
type GRPCSource struct {
	name    string
	listen  string
	channel Channel
	stats   *stats.Stats
	logger  *slog.Logger

	mu        sync.Mutex
	server    *grpc.Server
	health    *health.Server
	ln        net.Listener
	serveDone chan struct{}
}

// NewGRPCSource creates gRPC batch input.
// Params: name source id; listen host:port (empty = 127.0.0.1:19092); channel record consumer; st stats; logger.
// Returns: source bound on Start.
func NewGRPCSource(name, listen string, channel Channel, st *stats.Stats, logger *slog.Logger) *GRPCSource {
	if strings.TrimSpace(listen) == "" {
		listen = defaultGRPCListen
	}
	return &GRPCSource{
		name:    name,
		listen:  listen,
		channel: channel,
		stats:   st,
		logger:  logger.With(slog.String("plugin", "grpc"), slog.String("source", name)),
	}
}

func (s *GRPCSource) Name() string { return s.name }

// Push decodes one pushed batch into the channel.
func (s *GRPCSource) Push(_ context.Context, batch *structpb.Struct) (*emptypb.Empty, error) {
	if _, err := rpc.DecodeBatch(batch, s.channel); err != nil {
		decodeFailure(s.stats, s.logger, "grpc", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Start binds the listener and serves in background.
// Params: ctx is unused.
// Returns: listen error.
func (s *GRPCSource) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("grpc input listen %q: %w", s.listen, err)
	}

	server := grpc.NewServer()
	rpc.RegisterCollectorServer(server, s)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(rpc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	done := make(chan struct{})
	s.mu.Lock()
	s.server = server
	s.health = healthServer
	s.ln = ln
	s.serveDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil {
			s.logger.Error("grpc input stopped unexpectedly", slog.String("listen", s.listen), slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("grpc input listening", slog.String("listen", ln.Addr().String()))
	return nil
}

// Stop marks the service not serving and stops gracefully; ctx expiry forces the stop.
func (s *GRPCSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	healthServer := s.health
	done := s.serveDone
	s.server = nil
	s.health = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		server.Stop()
		<-stopped
	}
	<-done
	return nil
}

// Addr returns the bound address while started.
func (s *GRPCSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
