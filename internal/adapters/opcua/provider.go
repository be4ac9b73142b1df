package opcua

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/observability"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

const Name = "OPC UA"

const (
	msgConnected   = "Connected to live endpoint"
	msgUnreachable = "Live endpoint unreachable"
	msgLost        = "Live connection lost"
	msgRestored    = "Live connection restored"
	msgClosed      = "Live connection closed"
)

type Option func(*Provider)

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

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// Provider maps value-changed notifications of a ports.LiveClient onto
// telemetry events.
type Provider struct {
	cfg    Config
	client ports.LiveClient
	nodes  map[string]NodeConfig
	bus    *eventbus.Bus
	logger *zap.Logger
	obs    ports.Observability
	now    func() time.Time

	// lifecycle serializes Start and Stop so overlapping calls never open a
	// second session or subscription.
	lifecycle sync.Mutex

	mu        sync.Mutex
	started   bool
	connected bool
	message   string
	sub       ports.LiveSubscription
	statuses  map[string]domain.EquipmentStatus
	counters  map[string]float64
}

// NewProvider requires a configured endpoint. A nil client builds the
// gopcua-backed Client from cfg.
func NewProvider(cfg Config, client ports.LiveClient, opts ...Option) (*Provider, error) {
	cfg.ApplyDefaults()
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: live endpoint is required", domain.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:     cfg,
		nodes:   make(map[string]NodeConfig, len(cfg.Nodes)),
		logger:  zap.NewNop(),
		now:     time.Now,
		message: msgClosed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.obs == nil {
		p.obs = observability.NewLogObs(p.logger)
	}
	if client == nil {
		client = NewClient(cfg, p.logger)
	}
	p.client = client
	p.bus = eventbus.New(eventbus.WithLogger(p.logger), eventbus.WithFailureHook(p.obs.RecordHandlerFailure))
	for _, n := range cfg.Nodes {
		p.nodes[n.NodeID] = n
	}
	return p, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Events() *eventbus.Bus { return p.bus }

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

// Start connects and subscribes to every configured node. Failures are
// reported on the bus and returned wrapped in domain.ErrConnection.
func (p *Provider) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		p.logger.Info("live provider already started")
		return nil
	}
	p.mu.Unlock()

	p.client.OnConnectionStateChanged(p.onConnectionState)

	if err := p.client.Connect(ctx); err != nil {
		return p.failStart(err)
	}
	sub, err := p.client.Subscribe(ctx, p.cfg.nodeIDs(), p.onValue)
	if err != nil {
		if derr := p.client.Disconnect(context.Background()); derr != nil {
			p.logger.Warn("disconnect after failed subscribe", zap.Error(derr))
		}
		return p.failStart(err)
	}

	p.mu.Lock()
	p.started = true
	p.connected = true
	p.message = msgConnected
	p.sub = sub
	p.statuses = make(map[string]domain.EquipmentStatus)
	p.counters = make(map[string]float64)
	p.mu.Unlock()

	p.logger.Info("live provider started",
		zap.String("endpoint", p.cfg.Endpoint),
		zap.Int("nodes", len(p.cfg.Nodes)))
	p.publishStatus(true, domain.ModeLive, msgConnected)
	return nil
}

// Stop cancels the subscription and closes the session. Errors are logged.
func (p *Provider) Stop(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	sub := p.sub
	p.started = false
	p.connected = false
	p.message = msgClosed
	p.sub = nil
	p.mu.Unlock()

	if sub != nil {
		if err := sub.Cancel(ctx); err != nil {
			p.logger.Warn("cancel live subscription", zap.Error(err))
		}
	}
	if err := p.client.Disconnect(ctx); err != nil {
		p.logger.Warn("disconnect live client", zap.Error(err))
	}

	p.logger.Info("live provider stopped")
	p.publishStatus(false, domain.ModeStopped, msgClosed)
	return nil
}

func (p *Provider) failStart(err error) error {
	p.mu.Lock()
	p.connected = false
	p.message = msgUnreachable
	p.mu.Unlock()

	p.logger.Warn("live provider start failed", zap.String("endpoint", p.cfg.Endpoint), zap.Error(err))
	p.publishStatus(false, domain.ModeDisconnected, msgUnreachable)
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}

func (p *Provider) onConnectionState(connected bool) {
	p.mu.Lock()
	if !p.started || p.connected == connected {
		p.mu.Unlock()
		return
	}
	p.connected = connected
	msg, mode := msgLost, domain.ModeDisconnected
	if connected {
		msg, mode = msgRestored, domain.ModeLive
	}
	p.message = msg
	p.mu.Unlock()

	p.publishStatus(connected, mode, msg)
}

func (p *Provider) onValue(dv ports.DataValue) {
	node, ok := p.nodes[dv.NodeID]
	if !ok {
		return
	}
	p.obs.IncCounter(ports.MetricLiveValues, 1)
	if !dv.Good() {
		p.obs.IncCounter(ports.MetricLiveBadQuality, 1)
		p.logger.Debug("dropping bad quality value",
			zap.String("node", dv.NodeID),
			zap.Uint32("quality", dv.Quality))
		return
	}

	ts := dv.SourceTimestamp
	if ts.IsZero() {
		ts = p.now()
	}

	ev, ok := p.mapValue(node, dv.Value, ts)
	if !ok {
		return
	}
	p.bus.PublishEvent(ev)
}

func (p *Provider) mapValue(node NodeConfig, raw any, ts time.Time) (domain.Event, bool) {
	switch node.Kind {
	case NodeSensor:
		v, ok := toFloat(raw)
		if !ok {
			p.logger.Debug("unsupported sensor value", zap.String("node", node.NodeID), zap.Any("value", raw))
			return nil, false
		}
		return domain.SensorReading{
			EquipmentID: node.EquipmentID,
			TagName:     node.TagName,
			Value:       v,
			Unit:        node.Unit,
			Timestamp:   ts,
			IsAnomaly:   node.WarningThreshold != 0 && v >= node.WarningThreshold,
		}, true

	case NodeStatus:
		next, ok := toStatus(raw)
		if !ok {
			p.logger.Debug("unsupported status value", zap.String("node", node.NodeID), zap.Any("value", raw))
			return nil, false
		}
		p.mu.Lock()
		prev, seen := p.statuses[node.EquipmentID]
		if p.statuses != nil {
			p.statuses[node.EquipmentID] = next
		}
		p.mu.Unlock()
		if seen && prev == next {
			return nil, false
		}
		if !seen {
			prev = domain.StatusOffline
		}
		return domain.StatusChange{
			EquipmentID:    node.EquipmentID,
			PreviousStatus: prev,
			NewStatus:      next,
			Timestamp:      ts,
		}, true

	case NodeProduction:
		total, ok := toFloat(raw)
		if !ok || math.IsNaN(total) || math.IsInf(total, 0) {
			return nil, false
		}
		units := p.advanceCounter(node.NodeID, total)
		if units <= 0 {
			return nil, false
		}
		return domain.ProductionReport{
			EquipmentID:   node.EquipmentID,
			UnitsProduced: units,
			Timestamp:     ts,
		}, true

	case NodeAlarm:
		code := toAlarmCode(raw)
		if code == "" {
			return nil, false
		}
		return domain.AlarmRaised{
			ID:          uuid.NewString(),
			EquipmentID: node.EquipmentID,
			Code:        code,
			Severity:    node.Severity,
			Message:     fmt.Sprintf("%s reported %s on %s", node.EquipmentID, code, node.TagName),
			Timestamp:   ts,
		}, true
	}
	return nil, false
}

// advanceCounter returns the whole units produced since the last sample. The
// baseline moves only by the units reported, so fractional remainders carry
// over to the next sample. The first sample and counter resets only set the
// baseline.
func (p *Provider) advanceCounter(nodeID string, total float64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counters == nil {
		return 0
	}
	last, seen := p.counters[nodeID]
	if !seen || total < last {
		p.counters[nodeID] = total
		return 0
	}
	units := math.Floor(total - last)
	p.counters[nodeID] = last + units
	return int(units)
}

func (p *Provider) publishStatus(connected bool, mode domain.ConnectionMode, msg string) {
	eventbus.Publish(p.bus, domain.NewConnectionStatus(connected, mode, msg, p.now()))
}

var _ ports.Provider = (*Provider)(nil)
