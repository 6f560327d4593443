package output

import (
	"fmt"
	"log/slog"

	"ffwd/internal/codec"
	"ffwd/internal/protocol"
	"ffwd/internal/retry"
)

const defaultJSONOutputPort = 19000

// ProtocolSink is a protocol.Sink carrying a configured id.
type ProtocolSink struct {
	*protocol.Sink
	name string
}

func (s *ProtocolSink) Name() string { return s.name }

// NewJSONSink creates newline-delimited JSON output over a resilient TCP connection.
// Params: name sink id; cfg protocol section (defaults tcp:19000); policy reconnect delays; logger.
// Returns: batch sink or error for invalid protocol settings.
func NewJSONSink(name string, cfg protocol.Config, policy retry.Policy, logger *slog.Logger) (*ProtocolSink, error) {
	addr, err := protocol.Resolve(cfg, protocol.TCP, defaultJSONOutputPort)
	if err != nil {
		return nil, fmt.Errorf("json output %s: %w", name, err)
	}
	setup, err := protocol.ClientSetup(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("json output %s: %w", name, err)
	}
	return &ProtocolSink{
		Sink: protocol.NewSink(addr, setup, policy, codec.JSONLineEncoder{}, logger.With(slog.String("sink", name))),
		name: name,
	}, nil
}
