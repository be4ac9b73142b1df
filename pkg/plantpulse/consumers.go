package plantpulse

import (
	"context"
	"errors"
	"sync"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// ErrNilHandler is returned by OnEvent when no callback is given.
var ErrNilHandler = errors.New("plantpulse: nil event handler")

// Subscribe registers a synchronous handler for one event type on the
// runtime's output bus.
func Subscribe[T Event](rt *Runtime, fn func(T) error) *Subscription {
	return eventbus.Subscribe(rt.Events(), fn)
}

// SubscribeAsync registers a handler that runs on its own goroutine per event.
func SubscribeAsync[T Event](rt *Runtime, fn func(context.Context, T) error) *Subscription {
	return eventbus.SubscribeAsync(rt.Events(), fn)
}

// Subscriptions is a group disposed together.
type Subscriptions []*Subscription

func (s Subscriptions) Dispose() {
	for _, sub := range s {
		sub.Dispose()
	}
}

// OnEvent delivers every event kind to one callback, which suits loggers and
// forwarders that switch on the concrete type themselves.
func OnEvent(rt *Runtime, fn func(Event) error) (Subscriptions, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	bus := rt.Events()
	return Subscriptions{
		eventbus.Subscribe(bus, func(ev domain.SensorReading) error { return fn(ev) }),
		eventbus.Subscribe(bus, func(ev domain.StatusChange) error { return fn(ev) }),
		eventbus.Subscribe(bus, func(ev domain.AlarmRaised) error { return fn(ev) }),
		eventbus.Subscribe(bus, func(ev domain.ProductionReport) error { return fn(ev) }),
		eventbus.Subscribe(bus, func(ev domain.ConnectionStatus) error { return fn(ev) }),
	}, nil
}

// SubscribeChannel exposes one event type as a channel. Events arriving while
// the buffer is full are dropped and counted, so a slow reader never stalls
// the bus. The returned func disposes the subscription and closes the channel.
func SubscribeChannel[T Event](rt *Runtime, buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	c := &channelConsumer[T]{
		ch:  make(chan T, buffer),
		obs: rt.obs,
	}
	c.sub = eventbus.Subscribe(rt.Events(), c.deliver)
	return c.ch, c.close
}

type channelConsumer[T Event] struct {
	ch  chan T
	obs ports.Observability
	sub *Subscription

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (c *channelConsumer[T]) deliver(ev T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- ev:
	default:
		c.obs.IncCounter(ports.MetricEventsDropped, 1)
		c.obs.LogError("channel consumer full, event dropped", nil,
			ports.Field{Key: "kind", Value: string(ev.Kind())})
	}
	return nil
}

func (c *channelConsumer[T]) close() {
	c.once.Do(func() {
		c.sub.Dispose()
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}
