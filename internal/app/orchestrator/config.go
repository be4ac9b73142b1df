package orchestrator

import (
	"fmt"
	"time"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
)

// DefaultStopTimeout bounds Stop when no stop_timeout is configured.
const DefaultStopTimeout = 5 * time.Second

type Config struct {
	// ConnectTimeout bounds the whole live connect attempt, retries included.
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`

	// RetryInterval enables the live recovery probe while running on
	// simulated data. Zero disables it.
	RetryInterval time.Duration `yaml:"retry_interval"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker around recovery probes.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 3
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.RetryInterval < 0 {
		return fmt.Errorf("%w: orchestrator retry_interval must be >= 0", domain.ErrConfiguration)
	}
	if c.InitialBackoff > c.ConnectTimeout {
		return fmt.Errorf("%w: orchestrator initial_backoff %s exceeds connect_timeout %s",
			domain.ErrConfiguration, c.InitialBackoff, c.ConnectTimeout)
	}
	return nil
}
