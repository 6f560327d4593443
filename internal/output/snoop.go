package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"ffwd/internal/codec"
	"ffwd/internal/model"
	"ffwd/internal/stream"
)

const defaultSnoopListen = "127.0.0.1:8080"

// SnoopSink keeps the latest record per identity and streams updates to websocket clients.
// Params: listen address for the /stream endpoint, logger.
// Returns: always-ready batch sink with its own HTTP server.
type SnoopSink struct {
	name   string
	listen string
	logger *slog.Logger
	hub    *stream.Hub

	mu      sync.Mutex
	latest  map[string][]byte
	server  *http.Server
	ln      net.Listener
	serveWG sync.WaitGroup
}

// NewSnoopSink creates snoop sink.
// Params: name sink id; listen host:port (empty = 127.0.0.1:8080); logger.
// Returns: sink instance; the server is bound on Start.
func NewSnoopSink(name, listen string, logger *slog.Logger) *SnoopSink {
	if strings.TrimSpace(listen) == "" {
		listen = defaultSnoopListen
	}
	out := &SnoopSink{
		name:   name,
		listen: listen,
		logger: logger.With(slog.String("sink", name)),
		latest: make(map[string][]byte),
	}
	out.hub = stream.NewHub(out.snapshot, out.logger)
	return out
}

func (s *SnoopSink) Name() string  { return s.name }
func (s *SnoopSink) IsReady() bool { return true }

// Start binds the websocket endpoint.
// Params: ctx is unused.
// Returns: listen error.
func (s *SnoopSink) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("snoop listen %s: %w", s.listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/stream", s.hub)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.server = server
	s.ln = ln
	s.mu.Unlock()

	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("snoop server failed", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("snoop listening", slog.String("listen", ln.Addr().String()))
	return nil
}

// Stop closes the server and all subscribers.
func (s *SnoopSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	s.hub.Close()
	err := server.Shutdown(ctx)
	s.serveWG.Wait()
	return err
}

// Addr returns the bound address while started.
func (s *SnoopSink) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *SnoopSink) SendMetric(metric model.Metric) {
	payload, err := codec.EncodeJSONMetric(metric)
	if err != nil {
		s.logger.Warn("encode metric failed", slog.String("error", err.Error()))
		return
	}
	s.update("metric|"+metric.Identity(), payload)
}

func (s *SnoopSink) SendEvent(event model.Event) {
	payload, err := codec.EncodeJSONEvent(event)
	if err != nil {
		s.logger.Warn("encode event failed", slog.String("error", err.Error()))
		return
	}
	s.update("event|"+event.Identity(), payload)
}

func (s *SnoopSink) SendMetrics(_ context.Context, metrics []model.Metric) error {
	for _, metric := range metrics {
		s.SendMetric(metric)
	}
	return nil
}

func (s *SnoopSink) SendEvents(_ context.Context, events []model.Event) error {
	for _, event := range events {
		s.SendEvent(event)
	}
	return nil
}

// Len returns the number of distinct identities seen.
func (s *SnoopSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latest)
}

func (s *SnoopSink) update(identity string, payload []byte) {
	s.mu.Lock()
	s.latest[identity] = payload
	s.mu.Unlock()
	s.hub.Broadcast(payload)
}

// snapshot returns latest payloads ordered by identity.
func (s *SnoopSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	identities := make([]string, 0, len(s.latest))
	for identity := range s.latest {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	out := make([][]byte, 0, len(identities))
	for _, identity := range identities {
		out = append(out, s.latest[identity])
	}
	return out
}
