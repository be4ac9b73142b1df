// Package eventbus is a typed, thread-safe publish/subscribe registry.
//
// Subscribers register per concrete event type and receive a Subscription
// they can dispose at any time. Publish snapshots the subscriber list and
// releases the lock before any handler runs, so handlers may subscribe or
// unsubscribe from within their own invocation. A failing or panicking
// handler is logged and never stops delivery to the others.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
)

// FailureHook observes handler failures, typically to feed a metric.
type FailureHook func(eventType string, err error)

// Option customizes a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for handler failures.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithFailureHook installs a callback invoked after every handler failure.
func WithFailureHook(h FailureHook) Option {
	return func(b *Bus) {
		b.onFailure = h
	}
}

type registration struct {
	id    uint64
	sync  func(any) error
	async func(context.Context, any) error
}

// Bus holds the subscriber lists. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[reflect.Type][]*registration
	nextID uint64

	logger    *zap.Logger
	onFailure FailureHook
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[reflect.Type][]*registration),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscription owns exactly one registration.
type Subscription struct {
	bus  *Bus
	typ  reflect.Type
	id   uint64
	once sync.Once
}

// Dispose removes the registration. Repeated calls are no-ops.
func (s *Subscription) Dispose() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.typ, s.id)
	})
}

// Subscribe registers a synchronous handler for events of type T.
func Subscribe[T any](b *Bus, handler func(T) error) *Subscription {
	typ := reflect.TypeFor[T]()
	return b.add(typ, &registration{
		sync: func(v any) error { return handler(v.(T)) },
	})
}

// SubscribeAsync registers a handler that always runs on its own goroutine.
func SubscribeAsync[T any](b *Bus, handler func(context.Context, T) error) *Subscription {
	typ := reflect.TypeFor[T]()
	return b.add(typ, &registration{
		async: func(ctx context.Context, v any) error { return handler(ctx, v.(T)) },
	})
}

// Publish delivers ev to every handler registered for T. Synchronous
// handlers run inline; asynchronous handlers are started and not awaited.
func Publish[T any](b *Bus, ev T) {
	b.publish(context.Background(), reflect.TypeFor[T](), ev)
}

// PublishAsync runs every handler for T concurrently and waits until all
// have returned or ctx is done. Handler failures are isolated and logged.
func PublishAsync[T any](ctx context.Context, b *Bus, ev T) error {
	return b.publishAndWait(ctx, reflect.TypeFor[T](), ev)
}

// SubscriberCount reports how many handlers are registered for T.
func SubscriberCount[T any](b *Bus) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[reflect.TypeFor[T]()])
}

// PublishEvent delivers ev using its dynamic type. It is meant for callers
// that hold heterogeneous events behind an interface.
func (b *Bus) PublishEvent(ev any) {
	if ev == nil {
		return
	}
	b.publish(context.Background(), reflect.TypeOf(ev), ev)
}

// PublishEventAsync is the awaited variant of PublishEvent.
func (b *Bus) PublishEventAsync(ctx context.Context, ev any) error {
	if ev == nil {
		return nil
	}
	return b.publishAndWait(ctx, reflect.TypeOf(ev), ev)
}

func (b *Bus) add(typ reflect.Type, reg *registration) *Subscription {
	b.mu.Lock()
	b.nextID++
	reg.id = b.nextID
	b.subs[typ] = append(b.subs[typ], reg)
	b.mu.Unlock()
	return &Subscription{bus: b, typ: typ, id: reg.id}
}

func (b *Bus) remove(typ reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.subs[typ]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		// copy-on-write: in-flight snapshots keep the old backing array
		next := make([]*registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, typ)
		} else {
			b.subs[typ] = next
		}
		return
	}
}

func (b *Bus) snapshot(typ reflect.Type) []*registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	regs := b.subs[typ]
	if len(regs) == 0 {
		return nil
	}
	out := make([]*registration, len(regs))
	copy(out, regs)
	return out
}

func (b *Bus) publish(ctx context.Context, typ reflect.Type, ev any) {
	for _, reg := range b.snapshot(typ) {
		if reg.async != nil {
			go b.invokeAsync(ctx, typ, reg, ev)
			continue
		}
		b.invokeSync(typ, reg, ev)
	}
}

func (b *Bus) publishAndWait(ctx context.Context, typ reflect.Type, ev any) error {
	regs := b.snapshot(typ)
	if len(regs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(regs))
	for _, reg := range regs {
		go func(reg *registration) {
			defer wg.Done()
			if reg.async != nil {
				b.invokeAsync(ctx, typ, reg, ev)
				return
			}
			b.invokeSync(typ, reg, ev)
		}(reg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) invokeSync(typ reflect.Type, reg *registration, ev any) {
	defer b.recoverHandler(typ)
	if err := reg.sync(ev); err != nil {
		b.fail(typ, err)
	}
}

func (b *Bus) invokeAsync(ctx context.Context, typ reflect.Type, reg *registration, ev any) {
	defer b.recoverHandler(typ)
	if err := reg.async(ctx, ev); err != nil {
		b.fail(typ, err)
	}
}

func (b *Bus) recoverHandler(typ reflect.Type) {
	if r := recover(); r != nil {
		b.fail(typ, fmt.Errorf("panic: %v", r))
	}
}

func (b *Bus) fail(typ reflect.Type, err error) {
	wrapped := fmt.Errorf("%w: %w", domain.ErrHandler, err)
	b.logger.Warn("event handler failed",
		zap.String("event_type", typ.String()),
		zap.Error(wrapped))
	if b.onFailure != nil {
		b.onFailure(typ.String(), wrapped)
	}
}
