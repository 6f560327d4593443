package input

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"ffwd/internal/codec"
	"ffwd/internal/protocol"
	"ffwd/internal/retry"
	"ffwd/internal/stats"
)

const (
	defaultJSONInputPort = 19000

	// DelimiterLine splits the stream on newlines.
	DelimiterLine = "line"
	// DelimiterFrame treats every datagram as one JSON object.
	DelimiterFrame = "frame"
)

// NewJSONSource creates JSON input over TCP lines or UDP frames.
// Params: name source id; cfg protocol section (defaults udp:19000); delimiter line|frame (empty picks by protocol); policy bind retry; channel record consumer; st stats; logger.
// Returns: source or error for invalid protocol, unknown delimiter, or frame over tcp.
func NewJSONSource(name string, cfg protocol.Config, delimiter string, policy retry.Policy, channel Channel, st *stats.Stats, logger *slog.Logger) (*ProtocolSource, error) {
	addr, err := protocol.Resolve(cfg, protocol.UDP, defaultJSONInputPort)
	if err != nil {
		return nil, fmt.Errorf("json input %s: %w", name, err)
	}

	delimiter = strings.ToLower(strings.TrimSpace(delimiter))
	if delimiter == "" {
		delimiter = DelimiterFrame
		if addr.Type == protocol.TCP {
			delimiter = DelimiterLine
		}
	}

	logger = logger.With(slog.String("plugin", "json"), slog.String("source", name))
	decoder := jsonDecoder{channel: channel, stats: st, logger: logger}

	var setup protocol.SetupFunc
	switch delimiter {
	case DelimiterFrame:
		if addr.Type == protocol.TCP {
			return nil, fmt.Errorf("json input %s: frame delimiter is not suitable for tcp", name)
		}
		setup, err = protocol.ServerSetup(addr, nil, decoder.frame)
	case DelimiterLine:
		setup, err = protocol.ServerSetup(addr, decoder.stream, decoder.lines)
	default:
		return nil, fmt.Errorf("json input %s: delimiter %q is not supported (must be line or frame)", name, delimiter)
	}
	if err != nil {
		return nil, fmt.Errorf("json input %s: %w", name, err)
	}

	return &ProtocolSource{
		Source: protocol.NewSource(addr, setup, policy, logger),
		name:   name,
	}, nil
}

type jsonDecoder struct {
	channel Channel
	stats   *stats.Stats
	logger  *slog.Logger
}

func (d jsonDecoder) frame(payload []byte) {
	if err := codec.DecodeJSON(payload, d.channel); err != nil {
		decodeFailure(d.stats, d.logger, "json", err)
	}
}

// lines decodes a datagram holding newline-separated objects.
func (d jsonDecoder) lines(payload []byte) {
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		d.frame(line)
	}
}

// stream decodes one object per line until the connection ends.
func (d jsonDecoder) stream(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), codec.MaxFrameSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		d.frame(line)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		d.logger.Warn("json stream closed", slog.String("remote", conn.RemoteAddr().String()), slog.String("error", err.Error()))
	}
}
