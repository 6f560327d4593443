package input

import (
	"log/slog"

	"ffwd/internal/protocol"
	"ffwd/internal/stats"
)

// ProtocolSource is a protocol.Source carrying a configured id.
type ProtocolSource struct {
	*protocol.Source
	name string
}

func (s *ProtocolSource) Name() string { return s.name }

// decodeFailure records and logs one discarded payload.
func decodeFailure(st *stats.Stats, logger *slog.Logger, plugin string, err error) {
	st.DecodeError(plugin)
	logger.Warn("discarding invalid payload", slog.String("error", err.Error()))
}
