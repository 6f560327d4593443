package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shirou/gopsutil/v4/host"
	"gopkg.in/yaml.v3"
)

const (
	defaultLogLevel     = "info"
	defaultLogFormat    = "line"
	defaultDebugListen  = "localhost:19001"
	defaultStartTimeout = 10 * time.Second
	defaultStopTimeout  = 10 * time.Second
	defaultPprofListen  = "127.0.0.1:6060"
)

// Duration wraps time.Duration for TOML and YAML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses duration values.
// Params: text is raw duration bytes from the config document.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// MarshalText renders duration in Go notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the root agent configuration.
// Params: TOML or YAML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Global GlobalConfig `toml:"global" yaml:"global"`
	Log    LogConfig    `toml:"log" yaml:"log"`
	Pprof  PprofConfig  `toml:"pprof" yaml:"pprof"`
	Debug  DebugConfig  `toml:"debug" yaml:"debug"`
	Core   CoreConfig   `toml:"core" yaml:"core"`
	Input  RouteConfig  `toml:"input" yaml:"input"`
	Output RouteConfig  `toml:"output" yaml:"output"`
}

// GlobalConfig holds enrichment defaults applied to every outgoing record.
// Params: host fallback, default event ttl, and shared tags.
// Returns: agent-wide record defaults.
type GlobalConfig struct {
	Host string            `toml:"host" yaml:"host"`
	TTL  int64             `toml:"ttl" yaml:"ttl"`
	Tags map[string]string `toml:"tags" yaml:"tags"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
}

// DebugConfig controls the debug server (record stream, metrics, health).
type DebugConfig struct {
	Disabled bool   `toml:"disabled" yaml:"disabled"`
	Listen   string `toml:"listen" yaml:"listen"`
}

// CoreConfig bounds plugin start and stop phases.
type CoreConfig struct {
	StartTimeout Duration `toml:"start_timeout" yaml:"start_timeout"`
	StopTimeout  Duration `toml:"stop_timeout" yaml:"stop_timeout"`
}

// RouteConfig is one side of the pipeline: a filter expression and its plugins.
// Params: filter in nested-array form; plugin list.
// Returns: input or output routing settings.
type RouteConfig struct {
	Filter  any            `toml:"filter" yaml:"filter"`
	Plugins []PluginConfig `toml:"plugins" yaml:"plugins"`
}

// PluginConfig is the union of settings accepted by input and output plugins.
// Params: type selects the plugin; remaining fields are read by that plugin only.
// Returns: declarative plugin settings.
type PluginConfig struct {
	Type string `toml:"type" yaml:"type"`
	ID   string `toml:"id" yaml:"id"`

	Protocol ProtocolConfig `toml:"protocol" yaml:"protocol"`
	Retry    RetryConfig    `toml:"retry" yaml:"retry"`
	Flush    *FlushConfig   `toml:"flush" yaml:"flush"`

	// json input framing: line or frame.
	Delimiter string `toml:"delimiter" yaml:"delimiter"`
	// http, grpc input and snoop output listen address.
	Listen string `toml:"listen" yaml:"listen"`
	// grpc output target host:port.
	Target string `toml:"target" yaml:"target"`

	URL     string `toml:"url" yaml:"url"`
	Subject string `toml:"subject" yaml:"subject"`

	Count    int      `toml:"count" yaml:"count"`
	SameHost bool     `toml:"same_host" yaml:"same_host"`
	Rate     float64  `toml:"rate" yaml:"rate"`
	Interval Duration `toml:"interval" yaml:"interval"`
}

// ProtocolConfig is the transport section of a network plugin.
type ProtocolConfig struct {
	Type              string `toml:"type" yaml:"type"`
	Host              string `toml:"host" yaml:"host"`
	Port              int    `toml:"port" yaml:"port"`
	ReceiveBufferSize int    `toml:"receive_buffer_size" yaml:"receive_buffer_size"`
}

// RetryConfig is the reconnect policy section of a network plugin.
type RetryConfig struct {
	Type    string   `toml:"type" yaml:"type"`
	Initial Duration `toml:"initial" yaml:"initial"`
	Max     Duration `toml:"max" yaml:"max"`
	Value   Duration `toml:"value" yaml:"value"`
	Jitter  float64  `toml:"jitter" yaml:"jitter"`
}

// FlushConfig enables batching for an output plugin; zero fields use flushing sink defaults.
type FlushConfig struct {
	Interval          Duration `toml:"interval" yaml:"interval"`
	BatchSizeLimit    int      `toml:"batch_size_limit" yaml:"batch_size_limit"`
	MaxPendingFlushes int      `toml:"max_pending_flushes" yaml:"max_pending_flushes"`
	MaxQueuedBatches  int      `toml:"max_queued_batches" yaml:"max_queued_batches"`
	Overflow          string   `toml:"overflow" yaml:"overflow"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console" yaml:"console"`
	File    LogSinkConfig `toml:"file" yaml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from the config document.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads, decodes, defaults, and validates configuration.
// Params: path to TOML/YAML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode YAML %q: %w", path, err)
		}
	} else {
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode TOML %q: %w", path, err)
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// readConfigSource reads one config file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw document bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Global.Host) == "" {
		hostname, err := resolveHostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Global.Host = hostname
	}

	if strings.TrimSpace(c.Debug.Listen) == "" {
		c.Debug.Listen = defaultDebugListen
	}
	if c.Core.StartTimeout.Duration <= 0 {
		c.Core.StartTimeout.Duration = defaultStartTimeout
	}
	if c.Core.StopTimeout.Duration <= 0 {
		c.Core.StopTimeout.Duration = defaultStopTimeout
	}
	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	normalizePlugins(c.Input.Plugins)
	normalizePlugins(c.Output.Plugins)
	return nil
}

// resolveHostname prefers gopsutil host info and falls back to os.Hostname.
func resolveHostname() (string, error) {
	if info, err := host.Info(); err == nil && strings.TrimSpace(info.Hostname) != "" {
		return info.Hostname, nil
	}
	return os.Hostname()
}

func normalizePlugins(plugins []PluginConfig) {
	for idx := range plugins {
		plugins[idx].Type = strings.ToLower(strings.TrimSpace(plugins[idx].Type))
		plugins[idx].Delimiter = strings.ToLower(strings.TrimSpace(plugins[idx].Delimiter))
		if plugins[idx].Flush != nil {
			plugins[idx].Flush.Overflow = strings.ToLower(strings.TrimSpace(plugins[idx].Flush.Overflow))
		}
	}
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Global.Host) == "" {
		return fmt.Errorf("global.host resolved to empty value")
	}
	if c.Global.TTL < 0 {
		return fmt.Errorf("global.ttl cannot be negative")
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validatePprofConfig("pprof", c.Pprof); err != nil {
		return err
	}
	if !c.Debug.Disabled {
		if _, _, err := net.SplitHostPort(c.Debug.Listen); err != nil {
			return fmt.Errorf("debug.listen must be host:port: %w", err)
		}
	}

	if len(c.Output.Plugins) == 0 {
		return fmt.Errorf("at least one [[output.plugins]] section is required")
	}
	if err := validatePlugins("input.plugins", c.Input.Plugins); err != nil {
		return err
	}
	if err := validatePlugins("output.plugins", c.Output.Plugins); err != nil {
		return err
	}

	return nil
}

// validatePlugins checks fields shared by all plugin kinds; plugin types are resolved by the registry.
// Params: path config prefix; plugins section list.
// Returns: first path-qualified validation error.
func validatePlugins(path string, plugins []PluginConfig) error {
	ids := make(map[string]int, len(plugins))
	for idx, plugin := range plugins {
		pluginPath := fmt.Sprintf("%s[%d]", path, idx)
		if plugin.Type == "" {
			return fmt.Errorf("%s.type is required", pluginPath)
		}
		if id := strings.TrimSpace(plugin.ID); id != "" {
			if prev, exists := ids[id]; exists {
				return fmt.Errorf("%s.id %q duplicates %s[%d]", pluginPath, id, path, prev)
			}
			ids[id] = idx
		}

		switch plugin.Delimiter {
		case "", "line", "frame":
		default:
			return fmt.Errorf("%s.delimiter must be one of: line, frame", pluginPath)
		}
		if plugin.Count < 0 {
			return fmt.Errorf("%s.count cannot be negative", pluginPath)
		}
		if plugin.Rate < 0 {
			return fmt.Errorf("%s.rate cannot be negative", pluginPath)
		}
		if err := validateNonNegativeDurationField(pluginPath+".interval", plugin.Interval.Duration); err != nil {
			return err
		}
		if plugin.Listen != "" {
			if _, _, err := net.SplitHostPort(plugin.Listen); err != nil {
				return fmt.Errorf("%s.listen must be host:port: %w", pluginPath, err)
			}
		}
		if plugin.Flush != nil {
			if err := validateFlush(pluginPath+".flush", *plugin.Flush); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateFlush(path string, flush FlushConfig) error {
	if err := validateNonNegativeDurationField(path+".interval", flush.Interval.Duration); err != nil {
		return err
	}
	if flush.BatchSizeLimit < 0 {
		return fmt.Errorf("%s.batch_size_limit cannot be negative", path)
	}
	if flush.MaxPendingFlushes < 0 {
		return fmt.Errorf("%s.max_pending_flushes cannot be negative", path)
	}
	if flush.MaxQueuedBatches < 0 {
		return fmt.Errorf("%s.max_queued_batches cannot be negative", path)
	}
	switch flush.Overflow {
	case "", "drop", "block":
		return nil
	default:
		return fmt.Errorf("%s.overflow must be one of: drop, block", path)
	}
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}

func validateNonNegativeDurationField(fieldPath string, value time.Duration) error {
	if value < 0 {
		return fmt.Errorf("%s cannot be negative", fieldPath)
	}
	return nil
}

// validatePprofConfig validates optional pprof endpoint settings.
// Params: path is config path prefix; cfg pprof section.
// Returns: validation error for invalid listen endpoint.
func validatePprofConfig(path string, cfg PprofConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("%s.listen cannot be empty when enabled", path)
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}
