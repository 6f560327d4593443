package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"ffwd/internal/config"
)

const minimalOutput = `
[[output.plugins]]
type = "debug"
`

// TestLoad_ExpandsEnvAndAppliesDefaults verifies env expansion and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_SITE", "lon")

	path := writeConfig(t, `
[global]
host = ""

[global.tags]
site = "${TEST_SITE}"
`+minimalOutput)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if got := cfg.Global.Tags["site"]; got != "lon" {
		t.Fatalf("unexpected site tag: %q", got)
	}
	if cfg.Global.Host == "" {
		t.Fatalf("expected host default")
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console logging to be enabled by default")
	}
	if got := cfg.Debug.Listen; got != "localhost:19001" {
		t.Fatalf("unexpected debug.listen default: %q", got)
	}
	if got := cfg.Core.StartTimeout.Duration; got != 10*time.Second {
		t.Fatalf("unexpected core.start_timeout default: %v", got)
	}
	if got := cfg.Core.StopTimeout.Duration; got != 10*time.Second {
		t.Fatalf("unexpected core.stop_timeout default: %v", got)
	}
	if cfg.Input.Filter != nil {
		t.Fatalf("expected nil input filter, got %#v", cfg.Input.Filter)
	}
}

// TestLoad_ParsesPluginsAndFilters verifies plugin sections and nested-array filters.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ParsesPluginsAndFilters(t *testing.T) {
	path := writeConfig(t, `
[global]
host = "h1"
ttl = 300

[input]
filter = ["and", ["key", "cpu"], ["=", "role", "db"]]

[[input.plugins]]
type = "JSON"
delimiter = "Line"

[input.plugins.protocol]
type = "tcp"
port = 19500

[[output.plugins]]
type = "grpc"
id = "central"
target = "collector:19092"

[output.plugins.retry]
type = "constant"
value = "3s"

[output.plugins.flush]
interval = "1s"
batch_size_limit = 500
overflow = "BLOCK"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	want := []any{"and", []any{"key", "cpu"}, []any{"=", "role", "db"}}
	if !reflect.DeepEqual(cfg.Input.Filter, want) {
		t.Fatalf("unexpected input filter: %#v", cfg.Input.Filter)
	}

	input := cfg.Input.Plugins[0]
	if input.Type != "json" || input.Delimiter != "line" {
		t.Fatalf("unexpected normalized input plugin: %+v", input)
	}
	if input.Protocol.Type != "tcp" || input.Protocol.Port != 19500 {
		t.Fatalf("unexpected input protocol: %+v", input.Protocol)
	}

	output := cfg.Output.Plugins[0]
	if output.ID != "central" || output.Target != "collector:19092" {
		t.Fatalf("unexpected output plugin: %+v", output)
	}
	if got := output.Retry.Value.Duration; got != 3*time.Second {
		t.Fatalf("unexpected retry.value: %v", got)
	}
	if output.Flush == nil {
		t.Fatalf("expected flush section")
	}
	if output.Flush.Interval.Duration != time.Second || output.Flush.BatchSizeLimit != 500 {
		t.Fatalf("unexpected flush section: %+v", *output.Flush)
	}
	if output.Flush.Overflow != "block" {
		t.Fatalf("unexpected overflow: %q", output.Flush.Overflow)
	}
	if cfg.Global.TTL != 300 {
		t.Fatalf("unexpected global.ttl: %d", cfg.Global.TTL)
	}
}

// TestLoad_YAML verifies the YAML form decodes into the same model.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ffwd.yaml")
	body := `
global:
  host: yaml-host
  tags:
    role: web
core:
  start_timeout: 3s
output:
  filter: ["type", "metric"]
  plugins:
    - type: noop
      flush:
        interval: 250ms
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Global.Host != "yaml-host" || cfg.Global.Tags["role"] != "web" {
		t.Fatalf("unexpected global: %+v", cfg.Global)
	}
	if got := cfg.Core.StartTimeout.Duration; got != 3*time.Second {
		t.Fatalf("unexpected start_timeout: %v", got)
	}
	if got := cfg.Output.Plugins[0].Flush.Interval.Duration; got != 250*time.Millisecond {
		t.Fatalf("unexpected flush interval: %v", got)
	}
	if !reflect.DeepEqual(cfg.Output.Filter, []any{"type", "metric"}) {
		t.Fatalf("unexpected output filter: %#v", cfg.Output.Filter)
	}
}

// TestLoad_ConfigDirMergesTomlFiles verifies config directory loading and file-order merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirMergesTomlFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-global.toml": `
[global]
host = "h1"
`,
		"20-out-z.toml": `
[[output.plugins]]
type = "noop"
id = "z"
`,
		"11-out-a.toml": `
[[output.plugins]]
type = "debug"
id = "a"
`,
	})

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}

	if len(cfg.Output.Plugins) != 2 {
		t.Fatalf("unexpected output plugin count: %d", len(cfg.Output.Plugins))
	}
	if cfg.Output.Plugins[0].ID != "a" || cfg.Output.Plugins[1].ID != "z" {
		t.Fatalf("unexpected plugin order: [%q,%q]", cfg.Output.Plugins[0].ID, cfg.Output.Plugins[1].ID)
	}
}

// TestLoad_ConfigDirRejectsWithoutToml verifies config dir validation on empty/non-toml-only directories.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirRejectsWithoutToml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a config"), 0o644); err != nil {
		t.Fatalf("write non-toml file: %v", err)
	}

	_, err := config.Load(dir)
	if err == nil {
		t.Fatalf("expected error for config dir without *.toml")
	}
	if !strings.Contains(err.Error(), "no *.toml files") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_ValidationErrors verifies path-qualified validation messages.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no outputs",
			body: `
[global]
host = "h"
`,
			want: "at least one [[output.plugins]]",
		},
		{
			name: "missing type",
			body: `
[[output.plugins]]
id = "x"
`,
			want: "output.plugins[0].type is required",
		},
		{
			name: "bad delimiter",
			body: minimalOutput + `
[[input.plugins]]
type = "json"
delimiter = "nul"
`,
			want: "input.plugins[0].delimiter",
		},
		{
			name: "bad overflow",
			body: `
[[output.plugins]]
type = "noop"

[output.plugins.flush]
overflow = "spill"
`,
			want: "output.plugins[0].flush.overflow",
		},
		{
			name: "duplicate id",
			body: `
[[output.plugins]]
type = "noop"
id = "same"

[[output.plugins]]
type = "debug"
id = "same"
`,
			want: `output.plugins[1].id "same" duplicates output.plugins[0]`,
		},
		{
			name: "negative ttl",
			body: `
[global]
ttl = -1
` + minimalOutput,
			want: "global.ttl",
		},
		{
			name: "bad debug listen",
			body: `
[debug]
listen = "nope"
` + minimalOutput,
			want: "debug.listen",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestLoad_DisabledDebugSkipsListenValidation verifies debug.disabled bypasses listen checks.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_DisabledDebugSkipsListenValidation(t *testing.T) {
	path := writeConfig(t, `
[debug]
disabled = true
listen = "nope"
`+minimalOutput)

	if _, err := config.Load(path); err != nil {
		t.Fatalf("expected disabled debug server to load: %v", err)
	}
}

// TestLoad_ParsesPprofConfig verifies pprof enable/listen parsing and default listen.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ParsesPprofConfig(t *testing.T) {
	path := writeConfig(t, `
[pprof]
enabled = true
`+minimalOutput)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if !cfg.Pprof.Enabled {
		t.Fatalf("expected pprof to be enabled")
	}
	if got := cfg.Pprof.Listen; got != "127.0.0.1:6060" {
		t.Fatalf("unexpected pprof.listen default: %q", got)
	}
}

// TestLoad_RejectsInvalidPprofListen verifies pprof listen validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidPprofListen(t *testing.T) {
	path := writeConfig(t, `
[pprof]
enabled = true
listen = "invalid"
`+minimalOutput)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for invalid pprof.listen")
	}
}

// writeConfig creates a temp TOML config for tests.
// Params: t test handle; body TOML content.
// Returns: absolute path to temp config.
func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

// writeConfigDir creates a temp config directory populated with provided files.
// Params: t test handle; files map[name]body.
// Returns: absolute directory path.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config file %q: %v", name, err)
		}
	}

	return dir
}
