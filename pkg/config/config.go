package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the mesh framework configuration
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Transport TransportConfig `yaml:"transport"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Rdma      RdmaConfig      `yaml:"rdma"`
}

// FrameworkConfig contains general framework settings
type FrameworkConfig struct {
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TransportConfig contains channel transport settings
type TransportConfig struct {
	// Default selects the channel transport: "local" or "sim".
	Default string `yaml:"default"`
	// SimBaseLatency and SimJitter configure the simulated network.
	SimBaseLatency time.Duration `yaml:"sim_base_latency"`
	SimJitter      time.Duration `yaml:"sim_jitter"`
}

// TimeoutsConfig contains operation timeouts
type TimeoutsConfig struct {
	StopActor time.Duration `yaml:"stop_actor"`
	Configure time.Duration `yaml:"configure"`
}

// RdmaConfig contains queue-pair defaults
type RdmaConfig struct {
	WqeCount          uint64        `yaml:"wqe_count"`
	Stride            uint32        `yaml:"stride"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			Version:   "v1",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Transport: TransportConfig{
			Default:        "local",
			SimBaseLatency: 1 * time.Millisecond,
			SimJitter:      500 * time.Microsecond,
		},
		Timeouts: TimeoutsConfig{
			StopActor: 10 * time.Second,
			Configure: 30 * time.Second,
		},
		Rdma: RdmaConfig{
			WqeCount:          64,
			Stride:            64,
			CompletionTimeout: 5 * time.Second,
		},
	}
}

// Load reads a configuration file, layering it over the defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Transport.Default {
	case "local", "sim":
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport.Default)
	}
	if c.Rdma.WqeCount == 0 || c.Rdma.WqeCount&(c.Rdma.WqeCount-1) != 0 {
		return fmt.Errorf("config: rdma wqe_count %d is not a power of two", c.Rdma.WqeCount)
	}
	return nil
}
