package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"ffwd/internal/codec"
	"ffwd/internal/stats"
)

const (
	defaultHTTPListen = "127.0.0.1:8080"
	maxHTTPBodySize   = codec.MaxFrameSize
)

var errBodyTooLarge = errors.New("request body too large")

// HTTPSource accepts JSON batches over HTTP.
// Params: listen address, channel record consumer, stats, logger.
// Returns: source serving POST /v1/batch and GET /v1/ping.
type HTTPSource struct {
	name    string
	listen  string
	channel Channel
	stats   *stats.Stats
	logger  *slog.Logger

	mu        sync.Mutex
	server    *http.Server
	ln        net.Listener
	serveDone chan struct{}
}

// NewHTTPSource creates HTTP batch input.
// Params: name source id; listen host:port (empty = 127.0.0.1:8080); channel record consumer; st stats; logger.
// Returns: source bound on Start.
func NewHTTPSource(name, listen string, channel Channel, st *stats.Stats, logger *slog.Logger) *HTTPSource {
	if strings.TrimSpace(listen) == "" {
		listen = defaultHTTPListen
	}
	return &HTTPSource{
		name:    name,
		listen:  listen,
		channel: channel,
		stats:   st,
		logger:  logger.With(slog.String("plugin", "http"), slog.String("source", name)),
	}
}

func (s *HTTPSource) Name() string { return s.name }

// Handler returns the HTTP routes of this input.
func (s *HTTPSource) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/batch", s.handleBatch)
	mux.HandleFunc("GET /v1/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

// Start binds the listener and serves in background.
// Params: ctx is unused; binding does not retry.
// Returns: listen error.
func (s *HTTPSource) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("http input listen %q: %w", s.listen, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.server = server
	s.ln = ln
	s.serveDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http input stopped unexpectedly", slog.String("listen", s.listen), slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("http input listening", slog.String("listen", ln.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully.
// Params: ctx bounds in-flight requests.
// Returns: shutdown error.
func (s *HTTPSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	done := s.serveDone
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	<-done
	return err
}

// Addr returns the bound address while started.
func (s *HTTPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *HTTPSource) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		decodeFailure(s.stats, s.logger, "http", err)
		http.Error(w, err.Error(), status)
		return
	}

	if _, err := codec.DecodeBatch(body, s.channel); err != nil {
		decodeFailure(s.stats, s.logger, "http", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// readBody reads the request body, decompressing gzip or zstd content.
// Params: w for MaxBytesReader; r request.
// Returns: decoded body bounded by maxHTTPBodySize, or error.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw := http.MaxBytesReader(w, r.Body, maxHTTPBodySize)
	defer raw.Close()

	var reader io.Reader = raw
	switch encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); encoding {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "zstd":
		zr, err := zstd.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		defer zr.Close()
		reader = zr
	default:
		return nil, fmt.Errorf("content encoding %q is not supported", encoding)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxHTTPBodySize+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxHTTPBodySize {
		return nil, errBodyTooLarge
	}
	return body, nil
}
