package plantpulse

import (
	"context"
	"math/rand/v2"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	base "github.com/h9661/factory-control-and-monitoring-system-sub001/pkg/plantpulse"
)

// Re-exported errors for convenience.
var (
	ErrConfiguration   = base.ErrConfiguration
	ErrConnection      = base.ErrConnection
	ErrSimulationStart = base.ErrSimulationStart
	ErrHandler         = base.ErrHandler
	ErrNilHandler      = base.ErrNilHandler
)

// Type aliases so consumers can import the module root directly.
type (
	Config             = base.Config
	SimulationConfig   = base.SimulationConfig
	EquipmentConfig    = base.EquipmentConfig
	ProductionConfig   = base.ProductionConfig
	TransitionMatrix   = base.TransitionMatrix
	LiveConfig         = base.LiveConfig
	LiveNodeConfig     = base.LiveNodeConfig
	OrchestratorConfig = base.OrchestratorConfig
	Policy             = base.Policy
	MetricsConfig      = base.MetricsConfig
	MQTTConfig         = base.MQTTConfig
	LogConfig          = base.LogConfig

	Runtime       = base.Runtime
	Option        = base.Option
	Subscription  = base.Subscription
	Subscriptions = base.Subscriptions
	Bus           = base.Bus

	Event            = base.Event
	SensorReading    = base.SensorReading
	StatusChange     = base.StatusChange
	AlarmRaised      = base.AlarmRaised
	ProductionReport = base.ProductionReport
	ConnectionStatus = base.ConnectionStatus
	EquipmentStatus  = base.EquipmentStatus
	AlarmSeverity    = base.AlarmSeverity
	ConnectionMode   = base.ConnectionMode
	SensorProfile    = base.SensorProfile

	Provider         = base.Provider
	LiveClient       = base.LiveClient
	MQTTPublisher    = base.MQTTPublisher
	LiveSubscription = base.LiveSubscription
	DataValue        = base.DataValue
	Observability    = base.Observability
	Field            = base.Field
	State            = base.State
)

const (
	StateUnstarted      = base.StateUnstarted
	StateAttemptingLive = base.StateAttemptingLive
	StateLive           = base.StateLive
	StateSimulated      = base.StateSimulated
	StateFallingBack    = base.StateFallingBack
	StateStopped        = base.StateStopped
	StateFailed         = base.StateFailed

	ModeLive         = base.ModeLive
	ModeSimulated    = base.ModeSimulated
	ModeStopped      = base.ModeStopped
	ModeDisconnected = base.ModeDisconnected
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

func DefaultTransitionMatrix() TransitionMatrix {
	return base.DefaultTransitionMatrix()
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithLogger(l *zap.Logger) Option {
	return base.WithLogger(l)
}

func WithRegistry(reg *prometheus.Registry) Option {
	return base.WithRegistry(reg)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithLiveClient(c LiveClient) Option {
	return base.WithLiveClient(c)
}

func WithRandSource(src rand.Source) Option {
	return base.WithRandSource(src)
}

func WithSimulatorProvider(p Provider) Option {
	return base.WithSimulatorProvider(p)
}

func WithLiveProvider(p Provider) Option {
	return base.WithLiveProvider(p)
}

func WithMQTTPublisher(p MQTTPublisher) Option {
	return base.WithMQTTPublisher(p)
}

// Consumers.
func Subscribe[T Event](rt *Runtime, fn func(T) error) *Subscription {
	return base.Subscribe(rt, fn)
}

func SubscribeAsync[T Event](rt *Runtime, fn func(context.Context, T) error) *Subscription {
	return base.SubscribeAsync(rt, fn)
}

func SubscribeChannel[T Event](rt *Runtime, buffer int) (<-chan T, func()) {
	return base.SubscribeChannel[T](rt, buffer)
}

func OnEvent(rt *Runtime, fn func(Event) error) (Subscriptions, error) {
	return base.OnEvent(rt, fn)
}
