// Package simulator exposes the simulation engine as a telemetry provider.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/observability"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/simulation"
)

const Name = "Simulator"

const (
	msgRunning     = "Simulation running"
	msgStopped     = "Simulation stopped"
	msgStartFailed = "Simulation could not be started"
)

type Option func(*Provider)

// WithRandSource replaces the seeded default source of the engine.
func WithRandSource(src rand.Source) Option {
	return func(p *Provider) { p.src = src }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithObservability(o ports.Observability) Option {
	return func(p *Provider) {
		if o != nil {
			p.obs = o
		}
	}
}

// WithClock overrides the wall clock used to derive simulated timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithBus publishes onto an existing bus instead of a private one.
func WithBus(b *eventbus.Bus) Option {
	return func(p *Provider) {
		if b != nil {
			p.bus = b
		}
	}
}

// Provider drives a simulation.Engine from a single tick loop and publishes
// every generated event on its bus.
type Provider struct {
	cfg    simulation.Config
	engine *simulation.Engine
	src    rand.Source
	bus    *eventbus.Bus
	logger *zap.Logger
	obs    ports.Observability
	now    func() time.Time

	mu        sync.Mutex
	running   bool
	connected bool
	message   string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewProvider validates cfg and builds the engine. Invalid configuration is
// reported here, never at Start.
func NewProvider(cfg simulation.Config, opts ...Option) (*Provider, error) {
	p := &Provider{
		logger:  zap.NewNop(),
		now:     time.Now,
		message: msgStopped,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.obs == nil {
		p.obs = observability.NewLogObs(p.logger)
	}
	if p.bus == nil {
		p.bus = eventbus.New(eventbus.WithLogger(p.logger), eventbus.WithFailureHook(p.obs.RecordHandlerFailure))
	}

	engine, err := simulation.NewEngine(cfg, p.src)
	if err != nil {
		return nil, err
	}
	p.engine = engine
	p.cfg = engine.Config()
	return p, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Events() *eventbus.Bus { return p.bus }

// Engine gives read access to per-equipment state.
func (p *Provider) Engine() *simulation.Engine { return p.engine }

func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Provider) StatusMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.message
}

// Start resets the simulation state and launches the tick loop. Calling it
// while running is a no-op.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Info("simulator already running")
		return nil
	}
	if err := ctx.Err(); err != nil {
		p.connected = false
		p.message = msgStartFailed
		p.mu.Unlock()
		p.logger.Error("simulator start aborted", zap.Error(err))
		p.publishStatus(false, domain.ModeDisconnected, msgStartFailed)
		return fmt.Errorf("%w: %w", domain.ErrSimulationStart, err)
	}

	p.engine.Reset()
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.running = true
	p.connected = true
	p.message = msgRunning
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(runCtx, done)

	p.logger.Info("simulator started",
		zap.Int("equipment", len(p.cfg.Equipment)),
		zap.Float64("speed", p.cfg.SpeedMultiplier))
	p.publishStatus(true, domain.ModeSimulated, msgRunning)
	return nil
}

// Stop halts the tick loop and waits for it to exit, or for ctx to end.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.connected = false
	p.message = msgStopped
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("simulator tick loop did not exit before deadline", zap.Error(ctx.Err()))
	}

	p.logger.Info("simulator stopped")
	p.publishStatus(false, domain.ModeStopped, msgStopped)
	return nil
}

func (p *Provider) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	sensors := time.NewTicker(p.cfg.SensorInterval)
	defer sensors.Stop()
	status := time.NewTicker(p.cfg.StatusInterval)
	defer status.Stop()
	production := time.NewTicker(p.cfg.ProductionInterval)
	defer production.Stop()

	speed := p.cfg.SpeedMultiplier
	epoch := p.now()
	simNow := func() time.Time {
		return epoch.Add(time.Duration(float64(p.now().Sub(epoch)) * speed))
	}
	productionElapsed := time.Duration(float64(p.cfg.ProductionInterval) * speed)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sensors.C:
			p.emit(ctx, p.engine.TickSensors(simNow()))
		case <-status.C:
			p.emit(ctx, p.engine.TickStatus(simNow()))
		case <-production.C:
			p.emit(ctx, p.engine.TickProduction(simNow(), productionElapsed))
		}
	}
}

func (p *Provider) emit(ctx context.Context, events []domain.Event) {
	p.obs.IncCounter(ports.MetricSimTicks, 1)
	for _, ev := range events {
		// a tick racing with Stop must not leak events after Stop returns
		if ctx.Err() != nil {
			return
		}
		p.bus.PublishEvent(ev)
	}
}

func (p *Provider) publishStatus(connected bool, mode domain.ConnectionMode, msg string) {
	eventbus.Publish(p.bus, domain.NewConnectionStatus(connected, mode, msg, p.now()))
}

var _ ports.Provider = (*Provider)(nil)
