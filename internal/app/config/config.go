package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/mqtt"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/opcua"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/app/orchestrator"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/app/pipeline"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/simulation"
)

type Config struct {
	Simulation   simulation.Config   `yaml:"simulation"`
	Live         opcua.Config        `yaml:"live"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Policy       ports.Policy        `yaml:"policy"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	MQTT         mqtt.Config         `yaml:"mqtt"`
	Log          LogConfig           `yaml:"log"`
}

type MetricsConfig struct {
	// Addr of the /metrics and /healthz listener; "off" disables it.
	Addr string `yaml:"addr"`
}

func (m MetricsConfig) Enabled() bool { return m.Addr != "off" }

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a YAML document, applies defaults and validates it.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used when no file is given: a small
// simulated line with no live endpoint.
func Default() *Config {
	cfg := Config{
		Simulation: simulation.Config{
			Equipment: []simulation.EquipmentConfig{
				{ID: "press-01", Name: "Hydraulic Press 1", InitialStatus: domain.StatusRunning},
				{ID: "cnc-02", Name: "CNC Mill 2", InitialStatus: domain.StatusIdle},
				{ID: "robot-03", Name: "Welding Robot 3", InitialStatus: domain.StatusSetup},
			},
			AnomalyProbability: 0.02,
		},
	}
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	c.Simulation.ApplyDefaults()
	c.Live.ApplyDefaults()
	c.Orchestrator.ApplyDefaults()
	c.Policy = pipeline.NormalizePolicy(c.Policy)
	c.MQTT.ApplyDefaults()

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation config: %w", err)
	}
	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("live config: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator config: %w", err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt config: %w", err)
	}
	switch c.Policy.OnQueueFull {
	case pipeline.PolicyDrop, pipeline.PolicyDropOldest:
	default:
		return fmt.Errorf("%w: policy.on_queue_full must be %q or %q, got %q",
			domain.ErrConfiguration, pipeline.PolicyDrop, pipeline.PolicyDropOldest, c.Policy.OnQueueFull)
	}
	if c.Policy.MaxBatchSize > c.Policy.MaxQueueLen {
		return fmt.Errorf("%w: policy.max_batch_size exceeds max_queue_len", domain.ErrConfiguration)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required", domain.ErrConfiguration)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return nil
}

// StopTimeout is how long shutdown may take overall.
func (c *Config) StopTimeout() time.Duration {
	if c.Orchestrator.StopTimeout <= 0 {
		return orchestrator.DefaultStopTimeout
	}
	return c.Orchestrator.StopTimeout
}
