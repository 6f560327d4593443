package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"ffwd/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiCyan   = "\x1b[36m"
	ansiGray   = "\x1b[90m"
)

var (
	levelPattern = regexp.MustCompile(`\blevel=(DEBUG|INFO|WARN|ERROR)\b`)
	tokenPattern = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|\b\d{1,3}(?:\.\d{1,3}){3}(?::\d+)?\b|\b-?\d+(?:\.\d+)?\b`)
)

// New builds the process logger from console and file sink settings.
// Params: cfg validated log section.
// Returns: logger, close function for file sinks, or error when the log file cannot be opened.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		var dst io.Writer = os.Stderr
		if cfg.Console.Format != "json" {
			dst = &colorLineWriter{dst: os.Stderr}
		}
		handler, err := newHandler(dst, cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("log.console: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log.file: create directory: %w", err)
		}
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log.file: open %q: %w", cfg.File.Path, err)
		}
		handler, err := newHandler(file, cfg.File)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("log.file: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			for _, closer := range closers {
				_ = closer.Close()
			}
		})
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(fanoutHandler(handlers)), closeFn, nil
	}
}

func newHandler(dst io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "", "line":
		return slog.NewTextHandler(dst, opts), nil
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("format %q is not supported", sink.Format)
	}
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("level %q is not supported", raw)
	}
}

// fanoutHandler duplicates every record to all handlers that accept its level.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for idx, handler := range h {
		out[idx] = handler.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for idx, handler := range h {
		out[idx] = handler.WithGroup(name)
	}
	return out
}

// colorLineWriter paints text-handler lines: the level picks the base color,
// quoted strings, IP addresses, and numbers get their own.
type colorLineWriter struct {
	mu  sync.Mutex
	dst io.Writer
}

func (w *colorLineWriter) Write(p []byte) (int, error) {
	line := string(p)
	match := levelPattern.FindStringSubmatch(line)
	if match == nil {
		return w.write(p, len(p))
	}

	base := levelColor(match[1])
	body, newline := strings.CutSuffix(line, "\n")

	var b strings.Builder
	b.Grow(len(line) + 64)
	b.WriteString(base)
	last := 0
	for _, loc := range tokenPattern.FindAllStringIndex(body, -1) {
		token := body[loc[0]:loc[1]]
		b.WriteString(body[last:loc[0]])
		b.WriteString(tokenColor(token))
		b.WriteString(token)
		b.WriteString(ansiReset)
		b.WriteString(base)
		last = loc[1]
	}
	b.WriteString(body[last:])
	b.WriteString(ansiReset)
	if newline {
		b.WriteByte('\n')
	}
	return w.write([]byte(b.String()), len(p))
}

func (w *colorLineWriter) write(payload []byte, consumed int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.dst.Write(payload); err != nil {
		return 0, err
	}
	return consumed, nil
}

func levelColor(level string) string {
	switch level {
	case "DEBUG":
		return ansiGray
	case "WARN":
		return ansiYellow
	case "ERROR":
		return ansiRed
	default:
		return ansiBlue
	}
}

func tokenColor(token string) string {
	switch {
	case strings.HasPrefix(token, `"`):
		return ansiGreen
	case strings.Count(token, ".") == 3:
		return ansiCyan
	default:
		return ansiYellow
	}
}
