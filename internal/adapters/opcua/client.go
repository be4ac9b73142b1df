package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// Client is a ports.LiveClient backed by gopcua. It owns one session and a
// watcher goroutine that turns session state changes into callbacks.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	client  *opcua.Client
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	onState func(bool)
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger.Named("opcua")}
}

func (c *Client) OnConnectionStateChanged(fn func(bool)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	client, err := opcua.NewClient(c.cfg.Endpoint, c.buildClientOptions()...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.client = client
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.watchState(watchCtx, client)
	c.logger.Info("session established", zap.String("endpoint", c.cfg.Endpoint))
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client, cancel := c.client, c.cancel
	c.client = nil
	c.cancel = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	cancel()
	c.wg.Wait()

	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("opcua close: %w", err)
	}
	return nil
}

// Subscribe monitors nodeIDs and invokes onValueChanged from a single
// consumer goroutine per subscription.
func (c *Client) Subscribe(ctx context.Context, nodeIDs []string, onValueChanged func(ports.DataValue)) (ports.LiveSubscription, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, errors.New("opcua subscribe: not connected")
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(nodeIDs)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: c.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		return nil, fmt.Errorf("opcua subscribe: %w", err)
	}

	handles := make(map[uint32]string, len(nodeIDs))
	for i, raw := range nodeIDs {
		nodeID, err := ua.ParseNodeID(raw)
		if err != nil {
			_ = sub.Cancel(ctx)
			return nil, fmt.Errorf("parse node id %q: %w", raw, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if c.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			_ = sub.Cancel(ctx)
			return nil, fmt.Errorf("monitor node %q: %w", raw, err)
		}
		if len(res.Results) == 0 {
			_ = sub.Cancel(ctx)
			return nil, fmt.Errorf("monitor node %q failed: empty result", raw)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			_ = sub.Cancel(ctx)
			return nil, fmt.Errorf("monitor node %q failed: %s", raw, res.Results[0].StatusCode)
		}
		handles[handle] = raw
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{sub: sub, cancel: cancel, done: make(chan struct{})}
	go c.consume(consumeCtx, notifyCh, handles, onValueChanged, s.done)
	return s, nil
}

func (c *Client) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, handles map[uint32]string, fn func(ports.DataValue), done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.logger.Warn("notification error", zap.Error(notif.Error))
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range data.MonitoredItems {
				nodeID, ok := handles[item.ClientHandle]
				if !ok || item.Value == nil {
					continue
				}
				fn(toDataValue(nodeID, item.Value))
			}
		}
	}
}

// watchState polls the session state; gopcua reconnects on its own and only
// exposes the current state.
func (c *Client) watchState(ctx context.Context, client *opcua.Client) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.StatePollInterval)
	defer ticker.Stop()

	last := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected := client.State() == opcua.Connected
			if connected == last {
				continue
			}
			last = connected
			c.logger.Info("session state changed", zap.Bool("connected", connected))
			c.mu.Lock()
			fn := c.onState
			c.mu.Unlock()
			if fn != nil {
				fn(connected)
			}
		}
	}
}

func (c *Client) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}

	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

type subscription struct {
	sub    *opcua.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Cancel(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		if e := s.sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = fmt.Errorf("opcua cancel subscription: %w", e)
		}
	})
	return err
}

func toDataValue(nodeID string, dv *ua.DataValue) ports.DataValue {
	ts := dv.SourceTimestamp
	if ts.IsZero() {
		ts = dv.ServerTimestamp
	}
	var value any
	if dv.Value != nil {
		value = dv.Value.Value()
	}
	return ports.DataValue{
		NodeID:          nodeID,
		Value:           value,
		Quality:         uint32(dv.Status),
		SourceTimestamp: ts,
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.LiveClient = (*Client)(nil)
