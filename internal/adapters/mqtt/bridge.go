// Package mqtt forwards telemetry events from a bus to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/observability"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// Config for the broker connection. An empty Broker disables the bridge.
type Config struct {
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	QoS             byte          `yaml:"qos"`
	Retained        bool          `yaml:"retained"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`
	// Buffer bounds the events waiting for the broker; overflow is dropped.
	Buffer          int           `yaml:"buffer"`
}

func (c *Config) Enabled() bool { return c.Broker != "" }

func (c *Config) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "plantpulse"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "plantpulse"
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 5
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
}

func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2", domain.ErrConfiguration)
	}
	return nil
}

// Publisher is the subset of the paho client used by the bridge.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

type Option func(*Bridge)

// WithObservability routes publish failures and drop counts to obs.
func WithObservability(obs ports.Observability) Option {
	return func(b *Bridge) {
		if obs != nil {
			b.obs = obs
		}
	}
}

// Bridge publishes events in the order they were published on the bus. A
// single worker drains a bounded queue, so a slow broker costs dropped events
// rather than goroutines.
type Bridge struct {
	cfg    Config
	client Publisher
	logger *zap.Logger
	obs    ports.Observability

	mu    sync.Mutex
	subs  []*eventbus.Subscription
	queue chan domain.Event
	done  chan struct{}
}

// Dial connects to the broker, retrying with exponential backoff.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*Bridge, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client pahomqtt.Client
	err := backoff.Retry(func() error {
		client = pahomqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(cfg.PublishTimeout) {
			return errors.New("mqtt connect timed out")
		}
		if err := token.Error(); err != nil {
			logger.Warn("mqtt connect failed", zap.String("broker", cfg.Broker), zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.ConnectAttempts-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: mqtt broker %s: %w", domain.ErrConnection, cfg.Broker, err)
	}

	logger.Info("connected to mqtt broker", zap.String("broker", cfg.Broker))
	return NewBridge(cfg, client, logger, opts...), nil
}

// NewBridge wraps an already connected publisher.
func NewBridge(cfg Config, client Publisher, logger *zap.Logger, opts ...Option) *Bridge {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{cfg: cfg, client: client, logger: logger.Named("mqtt")}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.obs == nil {
		b.obs = observability.NewLogObs(b.logger)
	}
	return b
}

// Attach forwards every telemetry event published on bus. Bus handlers only
// enqueue, so a slow broker never stalls the publisher.
func (b *Bridge) Attach(bus *eventbus.Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue == nil {
		b.queue = make(chan domain.Event, b.cfg.Buffer)
		b.done = make(chan struct{})
		go b.run(b.queue, b.done)
	}
	b.subs = append(b.subs,
		forward[domain.SensorReading](b, bus),
		forward[domain.StatusChange](b, bus),
		forward[domain.AlarmRaised](b, bus),
		forward[domain.ProductionReport](b, bus),
		forward[domain.ConnectionStatus](b, bus),
	)
}

func forward[T domain.Event](b *Bridge, bus *eventbus.Bus) *eventbus.Subscription {
	return eventbus.Subscribe(bus, func(ev T) error {
		b.enqueue(ev)
		return nil
	})
}

func (b *Bridge) enqueue(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue == nil {
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.obs.IncCounter(ports.MetricEventsDropped, 1)
		b.obs.LogError("mqtt_queue_full", nil, ports.Field{Key: "kind", Value: string(ev.Kind())})
	}
}

func (b *Bridge) run(queue <-chan domain.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range queue {
		if err := b.Publish(ev); err != nil {
			b.obs.LogError("mqtt_publish_failed", err, ports.Field{Key: "kind", Value: string(ev.Kind())})
		}
	}
}

type envelope struct {
	Kind    domain.EventKind `json:"kind"`
	Payload domain.Event     `json:"payload"`
}

// Topic is <prefix>/<equipment>/<kind>, or <prefix>/connection/<kind> for
// events that belong to no equipment.
func (b *Bridge) Topic(ev domain.Event) string {
	scope := domain.EquipmentOf(ev)
	if scope == "" {
		scope = "connection"
	}
	return b.cfg.TopicPrefix + "/" + scope + "/" + string(ev.Kind())
}

func (b *Bridge) Publish(ev domain.Event) error {
	payload, err := json.Marshal(envelope{Kind: ev.Kind(), Payload: ev})
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	token := b.client.Publish(b.Topic(ev), b.cfg.QoS, b.cfg.Retained, payload)
	if !token.WaitTimeout(b.cfg.PublishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out after %s", ev.Kind(), b.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", ev.Kind(), err)
	}
	return nil
}

// Detach stops forwarding without closing the connection. Events already
// queued are still published, waiting at most PublishTimeout for the worker.
func (b *Bridge) Detach() {
	b.mu.Lock()
	subs, queue, done := b.subs, b.queue, b.done
	b.subs, b.queue, b.done = nil, nil, nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Dispose()
	}
	if queue == nil {
		return
	}
	close(queue)
	select {
	case <-done:
	case <-time.After(b.cfg.PublishTimeout):
		b.logger.Warn("mqtt worker still draining after detach", zap.Int("pending", len(queue)))
	}
}

func (b *Bridge) Close() {
	b.Detach()
	b.client.Disconnect(250)
	b.logger.Info("mqtt bridge closed")
}
