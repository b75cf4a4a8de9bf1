// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all GridTrace configuration.
type Config struct {
	Version int `yaml:"version"`

	Grid      GridConfig      `yaml:"grid"`
	Parser    ParserConfig    `yaml:"parser"`
	Trace     TraceConfig     `yaml:"trace"`
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GridConfig describes the simulated array when the trace alone cannot.
type GridConfig struct {
	// Rows and Cols override grid-size inference from coordinates.
	// 0 means infer from the trace.
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`

	// TotalCycles overrides the utilization denominator. 0 derives it
	// from the highest cycle seen.
	TotalCycles int64 `yaml:"total_cycles"`
}

// ParserConfig controls trace normalization.
type ParserConfig struct {
	BufferSize  int `yaml:"buffer_size"`
	MaxLineSize int `yaml:"max_line_size"`
}

// TraceConfig controls provenance traversal.
type TraceConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// ServerConfig for the HTTP query server.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// WatchConfig for live trace following.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// TelemetryConfig for optional OTLP export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Grid: GridConfig{
			Rows:        0, // infer
			Cols:        0,
			TotalCycles: 0,
		},
		Parser: ParserConfig{
			BufferSize:  64 * 1024,
			MaxLineSize: 1024 * 1024,
		},
		Trace: TraceConfig{
			MaxDepth: 50,
		},
		Server: ServerConfig{
			Port:        8080,
			Host:        "localhost",
			CORSOrigins: []string{"*"},
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 200 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, surface errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/gridtrace/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".gridtrace", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".gridtrace.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Grid
	if src.Grid.Rows != 0 {
		m.config.Grid.Rows = src.Grid.Rows
	}
	if src.Grid.Cols != 0 {
		m.config.Grid.Cols = src.Grid.Cols
	}
	if src.Grid.TotalCycles != 0 {
		m.config.Grid.TotalCycles = src.Grid.TotalCycles
	}

	// Parser
	if src.Parser.BufferSize != 0 {
		m.config.Parser.BufferSize = src.Parser.BufferSize
	}
	if src.Parser.MaxLineSize != 0 {
		m.config.Parser.MaxLineSize = src.Parser.MaxLineSize
	}

	// Trace
	if src.Trace.MaxDepth != 0 {
		m.config.Trace.MaxDepth = src.Trace.MaxDepth
	}

	// Server
	if src.Server.Port != 0 {
		m.config.Server.Port = src.Server.Port
	}
	if src.Server.Host != "" {
		m.config.Server.Host = src.Server.Host
	}
	if len(src.Server.CORSOrigins) > 0 {
		m.config.Server.CORSOrigins = src.Server.CORSOrigins
	}

	// Watch
	if src.Watch.Enabled {
		m.config.Watch.Enabled = true
	}
	if src.Watch.Debounce != 0 {
		m.config.Watch.Debounce = src.Watch.Debounce
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	// GRIDTRACE_PORT
	if v := os.Getenv("GRIDTRACE_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			m.config.Server.Port = port
		}
	}

	// GRIDTRACE_HOST
	if v := os.Getenv("GRIDTRACE_HOST"); v != "" {
		m.config.Server.Host = v
	}

	// GRIDTRACE_TOTAL_CYCLES
	if v := os.Getenv("GRIDTRACE_TOTAL_CYCLES"); v != "" {
		var cycles int64
		if _, err := fmt.Sscanf(v, "%d", &cycles); err == nil {
			m.config.Grid.TotalCycles = cycles
		}
	}

	// GRIDTRACE_TRACE_DEPTH
	if v := os.Getenv("GRIDTRACE_TRACE_DEPTH"); v != "" {
		var depth int
		if _, err := fmt.Sscanf(v, "%d", &depth); err == nil {
			m.config.Trace.MaxDepth = depth
		}
	}

	// GRIDTRACE_OTLP_ENDPOINT
	if v := os.Getenv("GRIDTRACE_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".gridtrace")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
