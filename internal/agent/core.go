package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ffwd/internal/config"
	"ffwd/internal/debug"
	"ffwd/internal/filter"
	"ffwd/internal/input"
	"ffwd/internal/output"
	"ffwd/internal/stats"
)

const defaultPhaseTimeout = 10 * time.Second

// ErrStartTimeout is returned when a component does not finish starting in time.
var ErrStartTimeout = errors.New("start timed out")

type component interface {
	Start(context.Context) error
	Stop(context.Context) error
}

type stage struct {
	name string
	comp component
}

// Agent wires inputs, outputs, and the debug server into one lifecycle.
// Params: built by New from validated config.
// Returns: runnable agent.
type Agent struct {
	stats   *stats.Stats
	inputs  *input.Manager
	outputs *output.Manager
	debug   *debug.Server
	logger  *slog.Logger

	outputCount int

	startTimeout time.Duration
	stopTimeout  time.Duration
}

// New builds every configured plugin and the managers routing between them.
// Params: cfg validated config; logger process logger; registry plugin constructors.
// Returns: agent ready for Run, or a path-qualified construction error.
func New(cfg *config.Config, logger *slog.Logger, registry Registry) (*Agent, error) {
	st := stats.New()
	deps := Deps{Stats: st, Logger: logger}

	outputFilter, err := filter.Parse(cfg.Output.Filter)
	if err != nil {
		return nil, fmt.Errorf("output.filter: %w", err)
	}
	inputFilter, err := filter.Parse(cfg.Input.Filter)
	if err != nil {
		return nil, fmt.Errorf("input.filter: %w", err)
	}

	sinks := make([]output.Sink, 0, len(cfg.Output.Plugins))
	for idx, plugin := range cfg.Output.Plugins {
		factory, ok := registry.Outputs[plugin.Type]
		if !ok {
			return nil, fmt.Errorf("output.plugins[%d].type %q is not supported", idx, plugin.Type)
		}
		id := pluginID(plugin, idx)
		sink, err := factory(id, plugin, deps)
		if err != nil {
			return nil, fmt.Errorf("output.plugins[%d] (%s): %w", idx, id, err)
		}
		sinks = append(sinks, sink)
	}

	outputs := output.NewManager(output.ManagerConfig{
		Filter: outputFilter,
		Host:   cfg.Global.Host,
		TTL:    cfg.Global.TTL,
		Tags:   cfg.Global.Tags,
	}, sinks, st, logger)

	var server *debug.Server
	inputCfg := input.ManagerConfig{Filter: inputFilter}
	if !cfg.Debug.Disabled {
		server = debug.New(cfg.Debug.Listen, st.Registry(), logger)
		inputCfg.Inspector = server
	}
	inputs := input.NewManager(inputCfg, outputs, st, logger)

	for idx, plugin := range cfg.Input.Plugins {
		factory, ok := registry.Inputs[plugin.Type]
		if !ok {
			return nil, fmt.Errorf("input.plugins[%d].type %q is not supported", idx, plugin.Type)
		}
		id := pluginID(plugin, idx)
		source, err := factory(id, plugin, inputs, deps)
		if err != nil {
			return nil, fmt.Errorf("input.plugins[%d] (%s): %w", idx, id, err)
		}
		inputs.Add(id, source)
	}

	return &Agent{
		stats:        st,
		inputs:       inputs,
		outputs:      outputs,
		debug:        server,
		logger:       logger.With(slog.String("component", "agent")),
		outputCount:  len(sinks),
		startTimeout: orDefault(cfg.Core.StartTimeout.Duration),
		stopTimeout:  orDefault(cfg.Core.StopTimeout.Duration),
	}, nil
}

// Stats returns the agent statistics.
func (a *Agent) Stats() *stats.Stats {
	return a.stats
}

// Run starts the agent, then blocks until ctx is done and stops it.
// Params: ctx lifecycle context.
// Returns: startup error; nil after a graceful stop.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.Wait(ctx)
}

// Start starts outputs, inputs, then the debug server, each bounded by the start timeout.
// A failed stage is stopped together with every stage started before it.
// Params: ctx cancels the start phase.
// Returns: first start error or ErrStartTimeout.
func (a *Agent) Start(ctx context.Context) error {
	stages := a.stages()
	for idx, st := range stages {
		if err := a.startStage(ctx, st); err != nil {
			a.stopStages(stopOrder(stages[:idx+1]))
			return err
		}
	}
	a.logger.Info("agent started",
		slog.Int("inputs", a.inputs.Len()),
		slog.Int("outputs", a.outputCount),
	)
	return nil
}

// Wait blocks until ctx is done, then stops inputs, outputs, and the debug server.
// Params: ctx lifecycle context of a started agent.
// Returns: nil; stop failures are logged.
func (a *Agent) Wait(ctx context.Context) error {
	<-ctx.Done()
	a.logger.Info("agent stopping")
	a.stopStages(stopOrder(a.stages()))
	return nil
}

func (a *Agent) stages() []stage {
	stages := []stage{
		{name: "outputs", comp: a.outputs},
		{name: "inputs", comp: a.inputs},
	}
	if a.debug != nil {
		stages = append(stages, stage{name: "debug", comp: a.debug})
	}
	return stages
}

// startStage starts one component, giving up after the start timeout even if
// the component ignores its context.
func (a *Agent) startStage(parent context.Context, st stage) error {
	ctx, cancel := context.WithTimeout(parent, a.startTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- st.comp.Start(ctx) }()

	timer := time.NewTimer(a.startTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("start %s: %w", st.name, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("start %s: %w after %s", st.name, ErrStartTimeout, a.startTimeout)
	}
}

// stopStages stops components in the given order; failures are logged only.
func (a *Agent) stopStages(stages []stage) {
	for _, st := range stages {
		st := st
		ctx, cancel := context.WithTimeout(context.Background(), a.stopTimeout)
		done := make(chan error, 1)
		go func() { done <- st.comp.Stop(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				a.logger.Warn("stop failed", slog.String("stage", st.name), slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			a.logger.Warn("stop timed out", slog.String("stage", st.name), slog.Duration("timeout", a.stopTimeout))
		}
		cancel()
	}
}

// stopOrder puts inputs first so nothing is produced while outputs drain.
func stopOrder(stages []stage) []stage {
	out := make([]stage, 0, len(stages))
	for _, st := range stages {
		if st.name == "inputs" {
			out = append(out, st)
		}
	}
	for _, st := range stages {
		if st.name != "inputs" {
			out = append(out, st)
		}
	}
	return out
}

func pluginID(plugin config.PluginConfig, idx int) string {
	if plugin.ID != "" {
		return plugin.ID
	}
	return fmt.Sprintf("%s-%d", plugin.Type, idx)
}

func orDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultPhaseTimeout
	}
	return timeout
}
