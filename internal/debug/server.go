package debug

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ffwd/internal/codec"
	"ffwd/internal/model"
	"ffwd/internal/stream"
)

// Server exposes inspected records over websocket and agent statistics over HTTP.
// Params: listen address, optional Prometheus gatherer, logger.
// Returns: inspector that drops records while nobody is subscribed.
type Server struct {
	listen string
	logger *slog.Logger
	hub    *stream.Hub
	mux    *http.ServeMux

	mu        sync.Mutex
	server    *http.Server
	ln        net.Listener
	serveDone chan struct{}
}

// New creates the debug server.
// Params: listen host:port; gatherer metrics source (nil disables /metrics); logger.
// Returns: server bound on Start.
func New(listen string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "debug"))
	s := &Server{
		listen: listen,
		logger: logger,
		hub:    stream.NewHub(nil, logger),
		mux:    http.NewServeMux(),
	}
	s.mux.Handle("/stream", s.hub)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns debug routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listener and serves in background.
// Params: ctx is unused.
// Returns: listen error.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("debug listen %q: %w", s.listen, err)
	}
	server := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})

	s.mu.Lock()
	s.server = server
	s.ln = ln
	s.serveDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("debug server stopped unexpectedly", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("debug server listening", slog.String("listen", ln.Addr().String()))
	return nil
}

// Stop disconnects subscribers and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	done := s.serveDone
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	s.hub.Close()
	err := server.Shutdown(ctx)
	<-done
	return err
}

// Addr returns the bound address while started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// InspectMetric publishes one metric to stream subscribers.
func (s *Server) InspectMetric(metric model.Metric) {
	if s.hub.Subscribers() == 0 {
		return
	}
	payload, err := codec.EncodeJSONMetric(metric)
	if err != nil {
		s.logger.Debug("encode metric failed", slog.String("error", err.Error()))
		return
	}
	s.hub.Broadcast(payload)
}

// InspectEvent publishes one event to stream subscribers.
func (s *Server) InspectEvent(event model.Event) {
	if s.hub.Subscribers() == 0 {
		return
	}
	payload, err := codec.EncodeJSONEvent(event)
	if err != nil {
		s.logger.Debug("encode event failed", slog.String("error", err.Error()))
		return
	}
	s.hub.Broadcast(payload)
}
