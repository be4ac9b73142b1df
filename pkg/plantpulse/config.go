package plantpulse

import (
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/mqtt"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/opcua"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/app/config"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/app/orchestrator"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/simulation"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// SimulationConfig describes the simulated line and its tick cadence.
	SimulationConfig = simulation.Config
	// EquipmentConfig is one simulated machine.
	EquipmentConfig = simulation.EquipmentConfig
	// ProductionConfig sets the nominal output of running machines.
	ProductionConfig = simulation.ProductionConfig
	// TransitionMatrix is the Markov chain driving equipment status.
	TransitionMatrix = simulation.TransitionMatrix
	// LiveConfig holds the OPC UA endpoint and node mapping.
	LiveConfig = opcua.Config
	// LiveNodeConfig maps one OPC UA node to an equipment event.
	LiveNodeConfig = opcua.NodeConfig
	// OrchestratorConfig tunes connect retries, recovery probing and shutdown.
	OrchestratorConfig = orchestrator.Config
	// Policy bounds the relay queue.
	Policy = ports.Policy
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// MQTTConfig configures the optional MQTT bridge.
	MQTTConfig = mqtt.Config
	// LogConfig selects the zap logger.
	LogConfig = config.LogConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes, defaults and validates a YAML document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}

// DefaultConfig is a three machine simulated line with no live endpoint.
func DefaultConfig() *Config {
	return config.Default()
}

// DefaultTransitionMatrix returns a fresh copy of the built-in status chain.
func DefaultTransitionMatrix() TransitionMatrix {
	return simulation.DefaultTransitionMatrix()
}
