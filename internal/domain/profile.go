package domain

import "fmt"

// SensorProfile describes how a sensor behaves around its nominal value.
// Thresholds are upper limits; zero disables the level.
type SensorProfile struct {
	TagName          string  `yaml:"tag_name" json:"tag_name" validate:"required"`
	BaseValue        float64 `yaml:"base_value" json:"base_value" validate:"ltefield=MaxValue"`
	MinValue         float64 `yaml:"min_value" json:"min_value" validate:"ltefield=BaseValue"`
	MaxValue         float64 `yaml:"max_value" json:"max_value"`
	NormalVariation  float64 `yaml:"normal_variation" json:"normal_variation" validate:"gte=0"`
	AnomalyVariation float64 `yaml:"anomaly_variation" json:"anomaly_variation" validate:"gte=0"`
	Unit             string  `yaml:"unit" json:"unit"`
	WarningThreshold float64 `yaml:"warning_threshold" json:"warning_threshold"`
	ErrorThreshold   float64 `yaml:"error_threshold" json:"error_threshold"`
}

// Clamp pins v into [MinValue, MaxValue].
func (p SensorProfile) Clamp(v float64) float64 {
	if v < p.MinValue {
		return p.MinValue
	}
	if v > p.MaxValue {
		return p.MaxValue
	}
	return v
}

// Band classifies a value against the thresholds: 0 normal, 1 warning,
// 2 error.
func (p SensorProfile) Band(v float64) int {
	switch {
	case p.ErrorThreshold != 0 && v >= p.ErrorThreshold:
		return 2
	case p.WarningThreshold != 0 && v >= p.WarningThreshold:
		return 1
	default:
		return 0
	}
}

func (p SensorProfile) Check() error {
	if p.TagName == "" {
		return fmt.Errorf("%w: sensor tag_name is required", ErrConfiguration)
	}
	if p.MinValue > p.MaxValue {
		return fmt.Errorf("%w: sensor %s: min_value %g > max_value %g", ErrConfiguration, p.TagName, p.MinValue, p.MaxValue)
	}
	if p.BaseValue < p.MinValue || p.BaseValue > p.MaxValue {
		return fmt.Errorf("%w: sensor %s: base_value %g outside [%g, %g]", ErrConfiguration, p.TagName, p.BaseValue, p.MinValue, p.MaxValue)
	}
	if p.NormalVariation < 0 || p.AnomalyVariation < 0 {
		return fmt.Errorf("%w: sensor %s: variations must be >= 0", ErrConfiguration, p.TagName)
	}
	return nil
}
