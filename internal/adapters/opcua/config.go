package opcua

import (
	"fmt"
	"strings"
	"time"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
)

// NodeKind says how a monitored node maps onto telemetry events.
type NodeKind string

const (
	NodeSensor     NodeKind = "sensor"
	NodeStatus     NodeKind = "status"
	NodeAlarm      NodeKind = "alarm"
	NodeProduction NodeKind = "production"
)

// Config captures the runtime details required to open an OPC UA session.
// An empty Endpoint means no live backend is configured.
type Config struct {
	Endpoint          string        `yaml:"endpoint"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SecurityMode      string        `yaml:"security_mode"`
	SecurityPolicy    string        `yaml:"security_policy"`
	ApplicationName   string        `yaml:"application_name"`
	PublishInterval   time.Duration `yaml:"publish_interval"`
	SamplingInterval  time.Duration `yaml:"sampling_interval"`
	StatePollInterval time.Duration `yaml:"state_poll_interval"`
	Nodes             []NodeConfig  `yaml:"nodes"`
}

// NodeConfig defines a monitored tag/node.
type NodeConfig struct {
	NodeID      string   `yaml:"node_id"`
	EquipmentID string   `yaml:"equipment_id"`
	Kind        NodeKind `yaml:"kind"`
	TagName     string   `yaml:"tag_name"`
	Unit        string   `yaml:"unit"`
	// WarningThreshold marks sensor readings at or above it as anomalies.
	WarningThreshold float64 `yaml:"warning_threshold"`
	// Severity applies to alarm nodes.
	Severity domain.AlarmSeverity `yaml:"severity"`
}

// Configured reports whether a live endpoint was set.
func (c *Config) Configured() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "PlantPulse"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	if c.StatePollInterval <= 0 {
		c.StatePollInterval = 500 * time.Millisecond
	}
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.Kind == "" {
			n.Kind = NodeSensor
		}
		if n.TagName == "" {
			n.TagName = n.NodeID
		}
		if n.Kind == NodeAlarm {
			if sev, err := domain.ParseAlarmSeverity(string(n.Severity)); err == nil {
				n.Severity = sev
			}
		}
	}
}

// Validate is a no-op without an endpoint. With one, every node must name
// its equipment and a known kind.
func (c *Config) Validate() error {
	if !c.Configured() {
		return nil
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: live endpoint %s has no nodes", domain.ErrConfiguration, c.Endpoint)
	}
	seen := make(map[string]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.NodeID == "" {
			return fmt.Errorf("%w: live node_id is required", domain.ErrConfiguration)
		}
		if _, dup := seen[n.NodeID]; dup {
			return fmt.Errorf("%w: live node %s listed twice", domain.ErrConfiguration, n.NodeID)
		}
		seen[n.NodeID] = struct{}{}
		if n.EquipmentID == "" {
			return fmt.Errorf("%w: live node %s: equipment_id is required", domain.ErrConfiguration, n.NodeID)
		}
		switch n.Kind {
		case NodeSensor, NodeStatus, NodeAlarm, NodeProduction:
		default:
			return fmt.Errorf("%w: live node %s: unknown kind %q", domain.ErrConfiguration, n.NodeID, n.Kind)
		}
		if n.Kind == NodeAlarm {
			if _, err := domain.ParseAlarmSeverity(string(n.Severity)); err != nil {
				return fmt.Errorf("%w: live node %s: %v", domain.ErrConfiguration, n.NodeID, err)
			}
		}
	}
	return nil
}

func (c *Config) nodeIDs() []string {
	ids := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.NodeID
	}
	return ids
}
