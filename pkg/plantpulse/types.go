package plantpulse

import (
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/mqtt"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/app/orchestrator"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// Event is implemented by every telemetry event published on the bus.
type Event = domain.Event

type (
	SensorReading    = domain.SensorReading
	StatusChange     = domain.StatusChange
	AlarmRaised      = domain.AlarmRaised
	ProductionReport = domain.ProductionReport
	ConnectionStatus = domain.ConnectionStatus

	EquipmentStatus = domain.EquipmentStatus
	AlarmSeverity   = domain.AlarmSeverity
	ConnectionMode  = domain.ConnectionMode
	SensorProfile   = domain.SensorProfile
)

// Bus is the typed publish/subscribe hub consumers register on.
type Bus = eventbus.Bus

// Subscription is returned by every subscribe call; Dispose removes it.
type Subscription = eventbus.Subscription

// Provider is any telemetry source: simulator, live client or the hybrid
// orchestrator itself.
type Provider = ports.Provider

// LiveClient is the transport under the live provider. Inject one to read
// from something other than OPC UA.
type LiveClient = ports.LiveClient

// DataValue is a single value notification delivered by a LiveClient.
type DataValue = ports.DataValue

// LiveSubscription is the handle a LiveClient returns from Subscribe.
type LiveSubscription = ports.LiveSubscription

// Observability emits logs and metrics about the pipeline.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// MQTTPublisher is the subset of a paho client the MQTT bridge needs.
type MQTTPublisher = mqtt.Publisher

// State is the hybrid orchestrator's lifecycle state.
type State = orchestrator.State

const (
	StateUnstarted      = orchestrator.StateUnstarted
	StateAttemptingLive = orchestrator.StateAttemptingLive
	StateLive           = orchestrator.StateLive
	StateSimulated      = orchestrator.StateSimulated
	StateFallingBack    = orchestrator.StateFallingBack
	StateStopped        = orchestrator.StateStopped
	StateFailed         = orchestrator.StateFailed
)

var (
	ErrConfiguration   = domain.ErrConfiguration
	ErrConnection      = domain.ErrConnection
	ErrSimulationStart = domain.ErrSimulationStart
	ErrHandler         = domain.ErrHandler
)

const (
	ModeLive         = domain.ModeLive
	ModeSimulated    = domain.ModeSimulated
	ModeStopped      = domain.ModeStopped
	ModeDisconnected = domain.ModeDisconnected
)

const (
	StatusOffline     = domain.StatusOffline
	StatusIdle        = domain.StatusIdle
	StatusRunning     = domain.StatusRunning
	StatusWarning     = domain.StatusWarning
	StatusError       = domain.StatusError
	StatusMaintenance = domain.StatusMaintenance
	StatusSetup       = domain.StatusSetup
)
