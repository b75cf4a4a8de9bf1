package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Trace.MaxDepth != 50 {
		t.Errorf("default trace depth = %d", cfg.Trace.MaxDepth)
	}
	if cfg.Parser.MaxLineSize != 1024*1024 {
		t.Errorf("default max line size = %d", cfg.Parser.MaxLineSize)
	}
	if cfg.Grid.Rows != 0 || cfg.Grid.Cols != 0 {
		t.Error("grid size should default to inference")
	}
}

func TestMergeOverridesNonZeroOnly(t *testing.T) {
	m := NewManager()

	partial := &Config{}
	partial.Server.Port = 9090
	partial.Grid.TotalCycles = 1000
	m.merge(partial)

	cfg := m.Get()
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Grid.TotalCycles != 1000 {
		t.Errorf("total cycles = %d", cfg.Grid.TotalCycles)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.Host != "localhost" {
		t.Errorf("host = %q", cfg.Server.Host)
	}
	if cfg.Trace.MaxDepth != 50 {
		t.Errorf("trace depth = %d", cfg.Trace.MaxDepth)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRIDTRACE_PORT", "7171")
	t.Setenv("GRIDTRACE_TOTAL_CYCLES", "512")
	t.Setenv("GRIDTRACE_OTLP_ENDPOINT", "collector:4317")

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Server.Port != 7171 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Grid.TotalCycles != 512 {
		t.Errorf("total cycles = %d", cfg.Grid.TotalCycles)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	src := `
version: 1
grid:
  rows: 4
  cols: 4
  total_cycles: 2048
watch:
  enabled: true
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(src), &cfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if cfg.Grid.Rows != 4 || cfg.Grid.Cols != 4 {
		t.Errorf("grid = %+v", cfg.Grid)
	}
	if !cfg.Watch.Enabled {
		t.Errorf("watch = %+v", cfg.Watch)
	}
}

func TestWatchDebounceDefault(t *testing.T) {
	if got := Default().Watch.Debounce; got != 200*time.Millisecond {
		t.Errorf("default debounce = %v", got)
	}
}
