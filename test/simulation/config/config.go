package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the simulation configuration
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Driver     DriverConfig     `yaml:"driver"`
}

type SimulationConfig struct {
	Duration        time.Duration `yaml:"duration"`
	Seed            int64         `yaml:"seed"`
	ConsoleInterval time.Duration `yaml:"console_interval"`
	Workers         int           `yaml:"workers"`
	Interval        time.Duration `yaml:"interval"`
	// MinSuccessRatio is the share of requests that must succeed for the
	// run to pass.
	MinSuccessRatio float64 `yaml:"min_success_ratio"`
}

type ClusterConfig struct {
	Datacenters []string `yaml:"datacenters"` // one node per entry
}

type DriverConfig struct {
	LocalDC          string        `yaml:"local_dc"`
	CoreConnections  int           `yaml:"core_connections"`
	MaxConnections   int           `yaml:"max_connections"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	SpeculativeDelay time.Duration `yaml:"speculative_delay"`
	SpeculativeMax   int           `yaml:"speculative_max"`
	LatencyAware     bool          `yaml:"latency_aware"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Simulation.Duration == 0 {
		c.Simulation.Duration = 5 * time.Minute
	}
	if c.Simulation.ConsoleInterval == 0 {
		c.Simulation.ConsoleInterval = 10 * time.Second
	}
	if c.Simulation.Workers == 0 {
		c.Simulation.Workers = 4
	}
	if c.Simulation.Interval == 0 {
		c.Simulation.Interval = 10 * time.Millisecond
	}
	if c.Simulation.MinSuccessRatio == 0 {
		c.Simulation.MinSuccessRatio = 0.99
	}
	if len(c.Cluster.Datacenters) == 0 {
		c.Cluster.Datacenters = []string{"dc1", "dc1", "dc1"}
	}
	if c.Driver.LocalDC == "" {
		c.Driver.LocalDC = c.Cluster.Datacenters[0]
	}
	if c.Driver.CoreConnections == 0 {
		c.Driver.CoreConnections = 1
	}
	if c.Driver.MaxConnections == 0 {
		c.Driver.MaxConnections = 2
	}
	if c.Driver.RequestTimeout == 0 {
		c.Driver.RequestTimeout = 2 * time.Second
	}
	if c.Driver.SpeculativeDelay == 0 {
		c.Driver.SpeculativeDelay = 100 * time.Millisecond
	}
	if c.Driver.SpeculativeMax == 0 {
		c.Driver.SpeculativeMax = 1
	}
}
