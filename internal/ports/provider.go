package ports

import (
	"context"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
)

// Provider is a source of telemetry events. Consumers register on Events()
// for domain.SensorReading, domain.StatusChange, domain.AlarmRaised,
// domain.ProductionReport and domain.ConnectionStatus.
//
// Start is idempotent and returns an error (after publishing a
// ConnectionStatus) when the source cannot be brought up. Stop releases every
// timer and subscription, logs its own failures instead of returning them,
// and leaves the provider restartable.
type Provider interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsConnected() bool
	StatusMessage() string
	Events() *eventbus.Bus
}
