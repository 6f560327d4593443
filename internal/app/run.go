package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ffwd/internal/agent"
	"ffwd/internal/config"
	"ffwd/internal/logging"
)

// Runtime defines runtime inputs required to start the agent.
// Params: ConfigPath points to a TOML/YAML file or a directory of TOML files; Reload triggers hot reload.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	Reload     <-chan struct{}
}

// agentRunner is the started/waiting split of agent.Agent.
type agentRunner interface {
	Start(ctx context.Context) error
	Wait(ctx context.Context) error
}

type runDeps struct {
	loadConfig func(string) (*config.Config, error)
	newLogger  func(config.LogConfig) (*slog.Logger, func(), error)
	startPprof func(context.Context, config.PprofConfig, *slog.Logger) (func(), error)
	newAgent   func(*config.Config, *slog.Logger) (agentRunner, error)
}

// generation is one applied configuration: its logger, started agent, and pprof listener.
type generation struct {
	cfg       *config.Config
	logger    *slog.Logger
	closeLog  func()
	cancel    context.CancelFunc
	done      chan error
	stopPprof func()
}

// Run loads configuration, starts the agent, and applies reloads from rt.Reload.
// Params: ctx controls lifecycle; rt config path and optional reload trigger.
// Returns: error on startup failure or failed rollback; nil on graceful stop.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		startPprof: startPprofServer,
		newAgent: func(cfg *config.Config, logger *slog.Logger) (agentRunner, error) {
			return agent.New(cfg, logger, agent.DefaultRegistry())
		},
	}
}

// runWithDeps supervises generations until ctx is done.
// Params: ctx lifecycle; rt runtime inputs; deps injectable constructors.
// Returns: runtime error or nil on graceful stop.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	if strings.TrimSpace(rt.ConfigPath) == "" {
		return errors.New("config path is required")
	}

	cfg, err := deps.loadConfig(rt.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := deps.newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	current, err := launch(ctx, cfg, logger, closeLog, deps)
	if err != nil {
		closeLog()
		return err
	}
	defer func() { current.closeLogger() }()

	reload := rt.Reload
	for {
		select {
		case <-ctx.Done():
			current.halt()
			current.logger.Info("agent stopped", slog.String("reason", ctx.Err().Error()))
			return nil

		case runErr := <-current.done:
			current.done = nil
			current.halt()
			if ctx.Err() != nil {
				current.logger.Info("agent stopped", slog.String("reason", ctx.Err().Error()))
				return nil
			}
			if runErr == nil {
				runErr = errors.New("exited without context cancellation")
			}
			current.logger.Error("agent stopped unexpectedly", slog.String("error", runErr.Error()))
			return fmt.Errorf("run agent: %w", runErr)

		case _, ok := <-reload:
			if !ok {
				reload = nil
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			next, reloadErr := current.reload(ctx, rt.ConfigPath, deps)
			if next == nil {
				return reloadErr
			}
			current = next
		}
	}
}

// launch starts pprof and a fully started agent for cfg. The caller keeps
// ownership of logger and closeLog when launch fails.
// Params: ctx parent lifecycle; cfg validated config; logger/closeLog sink for this generation; deps constructors.
// Returns: running generation, or build/start error with everything already torn down.
func launch(ctx context.Context, cfg *config.Config, logger *slog.Logger, closeLog func(), deps runDeps) (*generation, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("runtime context canceled: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopPprof, err := deps.startPprof(runCtx, cfg.Pprof, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start pprof: %w", err)
	}
	fail := func(err error) (*generation, error) {
		stopPprof()
		cancel()
		return nil, err
	}

	runner, err := deps.newAgent(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("build agent: %w", err))
	}
	if err := runner.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start agent: %w", err))
	}

	done := make(chan error, 1)
	go func() { done <- runner.Wait(runCtx) }()

	logger.Info(
		"runtime configured",
		slog.String("host", cfg.Global.Host),
		slog.Int64("ttl", cfg.Global.TTL),
		slog.Int("inputs", len(cfg.Input.Plugins)),
		slog.Int("outputs", len(cfg.Output.Plugins)),
		slog.Bool("debug", !cfg.Debug.Disabled),
	)
	return &generation{
		cfg:       cfg,
		logger:    logger,
		closeLog:  closeLog,
		cancel:    cancel,
		done:      done,
		stopPprof: stopPprof,
	}, nil
}

// reload replaces g with a generation built from the file at path.
// A config or logger error leaves g running. A build or start error restores g's config.
// Params: ctx parent lifecycle; path config location; deps constructors.
// Returns: generation to keep running and a non-fatal reload error, or nil and the rollback error.
func (g *generation) reload(ctx context.Context, path string, deps runDeps) (*generation, error) {
	g.logger.Info("config reload requested")

	cfg, err := deps.loadConfig(path)
	if err != nil {
		g.logger.Error("config reload validation failed", slog.String("error", err.Error()))
		return g, fmt.Errorf("reload config: %w", err)
	}
	logger, closeLog, err := deps.newLogger(cfg.Log)
	if err != nil {
		g.logger.Error("config reload logger init failed", slog.String("error", err.Error()))
		return g, fmt.Errorf("init reload logger: %w", err)
	}

	g.halt()
	next, applyErr := launch(ctx, cfg, logger, closeLog, deps)
	if applyErr == nil {
		g.closeLogger()
		next.logger.Info("config reload applied")
		return next, nil
	}
	closeLog()

	if ctx.Err() != nil {
		g.logger.Info("config reload interrupted by shutdown")
		return g, nil
	}

	g.logger.Error("config reload apply failed, restoring previous runtime", slog.String("error", applyErr.Error()))
	restored, rollbackErr := launch(ctx, g.cfg, g.logger, g.closeLog, deps)
	if rollbackErr != nil {
		return nil, fmt.Errorf("apply reload: %w; rollback failed: %w", applyErr, rollbackErr)
	}
	g.closeLog = nil
	restored.logger.Warn("config reload rejected, previous runtime restored", slog.String("error", applyErr.Error()))
	return restored, fmt.Errorf("apply reload: %w", applyErr)
}

// halt stops the agent and pprof; the logger stays open. Safe to call twice.
func (g *generation) halt() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	if g.done != nil {
		<-g.done
		g.done = nil
	}
	if g.stopPprof != nil {
		g.stopPprof()
		g.stopPprof = nil
	}
}

func (g *generation) closeLogger() {
	if g.closeLog != nil {
		g.closeLog()
		g.closeLog = nil
	}
}
