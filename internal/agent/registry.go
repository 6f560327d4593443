package agent

import (
	"log/slog"

	"ffwd/internal/config"
	"ffwd/internal/input"
	"ffwd/internal/output"
	"ffwd/internal/protocol"
	"ffwd/internal/retry"
	"ffwd/internal/stats"
)

// Deps are the shared collaborators handed to every plugin constructor.
type Deps struct {
	Stats  *stats.Stats
	Logger *slog.Logger
}

// InputFactory builds one input source writing into channel.
type InputFactory func(id string, cfg config.PluginConfig, channel input.Channel, deps Deps) (input.Source, error)

// OutputFactory builds one output sink.
type OutputFactory func(id string, cfg config.PluginConfig, deps Deps) (output.Sink, error)

// Registry maps plugin type names to constructors.
type Registry struct {
	Inputs  map[string]InputFactory
	Outputs map[string]OutputFactory
}

// DefaultRegistry returns every built-in plugin.
// Params: none.
// Returns: registry with json, protobuf, http, grpc, generated, system inputs
// and debug, noop, json, grpc, nats, snoop outputs.
func DefaultRegistry() Registry {
	return Registry{
		Inputs: map[string]InputFactory{
			"json":      newJSONInput,
			"protobuf":  newProtobufInput,
			"http":      newHTTPInput,
			"grpc":      newGRPCInput,
			"generated": newGeneratedInput,
			"system":    newSystemInput,
		},
		Outputs: map[string]OutputFactory{
			"debug": newDebugOutput,
			"noop":  newNoopOutput,
			"json":  newJSONOutput,
			"grpc":  newGRPCOutput,
			"nats":  newNATSOutput,
			"snoop": newSnoopOutput,
		},
	}
}

func newJSONInput(id string, cfg config.PluginConfig, channel input.Channel, deps Deps) (input.Source, error) {
	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}
	return input.NewJSONSource(id, protocolConfig(cfg.Protocol), cfg.Delimiter, policy, channel, deps.Stats, deps.Logger)
}

func newProtobufInput(id string, cfg config.PluginConfig, channel input.Channel, deps Deps) (input.Source, error) {
	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}
	return input.NewProtobufSource(id, protocolConfig(cfg.Protocol), policy, channel, deps.Stats, deps.Logger)
}

func newHTTPInput(id string, cfg config.PluginConfig, channel input.Channel, deps Deps) (input.Source, error) {
	return input.NewHTTPSource(id, cfg.Listen, channel, deps.Stats, deps.Logger), nil
}

func newGRPCInput(id string, cfg config.PluginConfig, channel input.Channel, deps Deps) (input.Source, error) {
	return input.NewGRPCSource(id, cfg.Listen, channel, deps.Stats, deps.Logger), nil
}

func newGeneratedInput(id string, cfg config.PluginConfig, channel input.Channel, deps Deps) (input.Source, error) {
	return input.NewGeneratedSource(id, input.GeneratedConfig{
		Count:    cfg.Count,
		SameHost: cfg.SameHost,
		Rate:     cfg.Rate,
	}, channel, deps.Logger)
}

func newSystemInput(id string, cfg config.PluginConfig, channel input.Channel, deps Deps) (input.Source, error) {
	return input.NewSystemSource(id, cfg.Interval.Duration, nil, channel, deps.Logger), nil
}

func newDebugOutput(id string, cfg config.PluginConfig, deps Deps) (output.Sink, error) {
	return withFlush(id, output.NewDebugSink(id, deps.Logger), cfg.Flush, false, deps), nil
}

func newNoopOutput(id string, cfg config.PluginConfig, deps Deps) (output.Sink, error) {
	return withFlush(id, output.NewNoopSink(id), cfg.Flush, false, deps), nil
}

func newJSONOutput(id string, cfg config.PluginConfig, deps Deps) (output.Sink, error) {
	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}
	sink, err := output.NewJSONSink(id, protocolConfig(cfg.Protocol), policy, deps.Logger)
	if err != nil {
		return nil, err
	}
	return withFlush(id, sink, cfg.Flush, false, deps), nil
}

func newGRPCOutput(id string, cfg config.PluginConfig, deps Deps) (output.Sink, error) {
	sink, err := output.NewGRPCSink(id, cfg.Target, 0, deps.Logger)
	if err != nil {
		return nil, err
	}
	return withFlush(id, sink, cfg.Flush, true, deps), nil
}

func newNATSOutput(id string, cfg config.PluginConfig, deps Deps) (output.Sink, error) {
	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}
	sink := output.NewNATSSink(id, cfg.URL, cfg.Subject, policy, deps.Logger)
	return withFlush(id, sink, cfg.Flush, true, deps), nil
}

func newSnoopOutput(id string, cfg config.PluginConfig, deps Deps) (output.Sink, error) {
	return output.NewSnoopSink(id, cfg.Listen, deps.Logger), nil
}

// withFlush wraps a batch sink in a flushing sink when flush is configured or always is set.
func withFlush(id string, sink output.BatchSink, flush *config.FlushConfig, always bool, deps Deps) output.Sink {
	if flush == nil && !always {
		return sink
	}
	return output.NewFlushingSink(id, sink, flushConfig(flush), deps.Stats, deps.Logger)
}

func flushConfig(cfg *config.FlushConfig) output.FlushConfig {
	if cfg == nil {
		return output.FlushConfig{}
	}
	return output.FlushConfig{
		Interval:          cfg.Interval.Duration,
		BatchSizeLimit:    cfg.BatchSizeLimit,
		MaxPendingFlushes: cfg.MaxPendingFlushes,
		MaxQueuedBatches:  cfg.MaxQueuedBatches,
		Overflow:          output.Overflow(cfg.Overflow),
	}
}

func protocolConfig(cfg config.ProtocolConfig) protocol.Config {
	return protocol.Config{
		Type:              cfg.Type,
		Host:              cfg.Host,
		Port:              cfg.Port,
		ReceiveBufferSize: cfg.ReceiveBufferSize,
	}
}

func retryPolicy(cfg config.RetryConfig) (retry.Policy, error) {
	return retry.Build(retry.Config{
		Type:    cfg.Type,
		Initial: cfg.Initial.Duration,
		Max:     cfg.Max.Duration,
		Value:   cfg.Value.Duration,
		Jitter:  cfg.Jitter,
	})
}
