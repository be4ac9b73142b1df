package simulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config drives both the engine and the simulator provider's tick cadence.
type Config struct {
	Equipment          []EquipmentConfig `yaml:"equipment" validate:"dive"`
	Transitions        TransitionMatrix  `yaml:"transitions"`
	AnomalyProbability float64           `yaml:"anomaly_probability" validate:"gte=0,lte=1"`

	SensorInterval     time.Duration `yaml:"sensor_interval" validate:"gte=0"`
	StatusInterval     time.Duration `yaml:"status_interval" validate:"gte=0"`
	ProductionInterval time.Duration `yaml:"production_interval" validate:"gte=0"`
	// SpeedMultiplier scales simulated elapsed time; tick cadence is unchanged.
	SpeedMultiplier float64 `yaml:"speed_multiplier" validate:"gte=0"`

	// Seed feeds the default random source; 0 picks one from the clock.
	Seed int64 `yaml:"seed"`

	Production ProductionConfig `yaml:"production"`
}

type EquipmentConfig struct {
	ID            string                 `yaml:"id" validate:"required"`
	Name          string                 `yaml:"name"`
	InitialStatus domain.EquipmentStatus `yaml:"initial_status"`
	Sensors       []domain.SensorProfile `yaml:"sensors" validate:"dive"`
}

type ProductionConfig struct {
	// RatePerMinute is the nominal output of a running machine.
	RatePerMinute float64 `yaml:"rate_per_minute" validate:"gte=0"`
	DefectRate    float64 `yaml:"defect_rate" validate:"gte=0,lte=1"`
}

func (c *Config) ApplyDefaults() {
	if c.Transitions == nil {
		c.Transitions = DefaultTransitionMatrix()
	}
	if c.SensorInterval == 0 {
		c.SensorInterval = time.Second
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = 5 * time.Second
	}
	if c.ProductionInterval == 0 {
		c.ProductionInterval = 10 * time.Second
	}
	if c.SpeedMultiplier == 0 {
		c.SpeedMultiplier = 1
	}
	if c.Production.RatePerMinute == 0 {
		c.Production.RatePerMinute = 12
	}
	for i := range c.Equipment {
		eq := &c.Equipment[i]
		if eq.Name == "" {
			eq.Name = eq.ID
		}
		if eq.InitialStatus == "" {
			eq.InitialStatus = domain.StatusIdle
		} else if st, err := domain.ParseEquipmentStatus(string(eq.InitialStatus)); err == nil {
			eq.InitialStatus = st
		}
		if len(eq.Sensors) == 0 {
			eq.Sensors = DefaultSensorProfiles()
		}
	}
}

// Validate rejects anything that would otherwise surface mid-run. Every
// failure wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, describeValidation(err))
	}
	if len(c.Equipment) == 0 {
		return fmt.Errorf("%w: at least one equipment must be configured", domain.ErrConfiguration)
	}
	if err := c.Transitions.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Equipment))
	for _, eq := range c.Equipment {
		if _, dup := seen[eq.ID]; dup {
			return fmt.Errorf("%w: duplicate equipment id %q", domain.ErrConfiguration, eq.ID)
		}
		seen[eq.ID] = struct{}{}

		if !eq.InitialStatus.IsValid() {
			return fmt.Errorf("%w: equipment %s: unknown initial_status %q", domain.ErrConfiguration, eq.ID, eq.InitialStatus)
		}
		if err := c.Transitions.Covers(eq.InitialStatus); err != nil {
			return fmt.Errorf("equipment %s: %w", eq.ID, err)
		}
		tags := make(map[string]struct{}, len(eq.Sensors))
		for _, p := range eq.Sensors {
			if err := p.Check(); err != nil {
				return fmt.Errorf("equipment %s: %w", eq.ID, err)
			}
			if _, dup := tags[p.TagName]; dup {
				return fmt.Errorf("%w: equipment %s: duplicate sensor %q", domain.ErrConfiguration, eq.ID, p.TagName)
			}
			tags[p.TagName] = struct{}{}
		}
	}

	// every reachable status needs its own row, or the chain would stall
	for from, row := range c.Transitions {
		for to, p := range row {
			if p == 0 {
				continue
			}
			if err := c.Transitions.Covers(to); err != nil {
				return fmt.Errorf("reachable from %s: %w", from, err)
			}
		}
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
}

// DefaultSensorProfiles is the sensor set given to equipment that lists none.
func DefaultSensorProfiles() []domain.SensorProfile {
	return []domain.SensorProfile{
		{
			TagName: "Temperature", Unit: "°C",
			BaseValue: 65, MinValue: 20, MaxValue: 120,
			NormalVariation: 1.5, AnomalyVariation: 12,
			WarningThreshold: 85, ErrorThreshold: 100,
		},
		{
			TagName: "Pressure", Unit: "bar",
			BaseValue: 6, MinValue: 0, MaxValue: 12,
			NormalVariation: 0.2, AnomalyVariation: 2,
			WarningThreshold: 8.5, ErrorThreshold: 10,
		},
		{
			TagName: "Vibration", Unit: "mm/s",
			BaseValue: 2.5, MinValue: 0, MaxValue: 20,
			NormalVariation: 0.3, AnomalyVariation: 4,
			WarningThreshold: 7.1, ErrorThreshold: 11,
		},
		{
			TagName: "SpindleSpeed", Unit: "rpm",
			BaseValue: 1500, MinValue: 0, MaxValue: 3000,
			NormalVariation: 20, AnomalyVariation: 250,
			WarningThreshold: 2200, ErrorThreshold: 2600,
		},
	}
}
