package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"ffwd/internal/codec"
	"ffwd/internal/protocol"
	"ffwd/internal/retry"
	"ffwd/internal/stats"
)

const defaultProtobufInputPort = 19091

// NewProtobufSource creates input for length-prefixed protobuf frames.
// Params: name source id; cfg protocol section (defaults udp:19091); policy bind retry; channel record consumer; st stats; logger.
// Returns: source or error for invalid protocol settings.
func NewProtobufSource(name string, cfg protocol.Config, policy retry.Policy, channel Channel, st *stats.Stats, logger *slog.Logger) (*ProtocolSource, error) {
	addr, err := protocol.Resolve(cfg, protocol.UDP, defaultProtobufInputPort)
	if err != nil {
		return nil, fmt.Errorf("protobuf input %s: %w", name, err)
	}

	logger = logger.With(slog.String("plugin", "protobuf"), slog.String("source", name))
	decoder := protobufDecoder{channel: channel, stats: st, logger: logger}

	setup, err := protocol.ServerSetup(addr, decoder.stream, decoder.datagram)
	if err != nil {
		return nil, fmt.Errorf("protobuf input %s: %w", name, err)
	}
	return &ProtocolSource{
		Source: protocol.NewSource(addr, setup, policy, logger),
		name:   name,
	}, nil
}

type protobufDecoder struct {
	channel Channel
	stats   *stats.Stats
	logger  *slog.Logger
}

func (d protobufDecoder) datagram(payload []byte) {
	for _, err := range codec.DecodeProtobufDatagram(payload, d.channel) {
		d.fail(err)
	}
}

// stream reads frames until EOF; a broken frame length ends the connection.
func (d protobufDecoder) stream(ctx context.Context, conn net.Conn) {
	err := codec.ReadProtobufStream(conn, d.channel, d.fail)
	if err == nil || ctx.Err() != nil {
		return
	}

	var frameErr *codec.FrameError
	if errors.As(err, &frameErr) {
		d.fail(err)
		return
	}
	d.logger.Debug("protobuf stream closed", slog.String("remote", conn.RemoteAddr().String()), slog.String("error", err.Error()))
}

func (d protobufDecoder) fail(err error) {
	decodeFailure(d.stats, d.logger, "protobuf", err)
}
