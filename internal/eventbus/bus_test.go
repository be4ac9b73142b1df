package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
)

func TestPublishDeliversToEverySubscriberDespiteFailures(t *testing.T) {
	var failures atomic.Int32
	bus := New(WithFailureHook(func(string, error) { failures.Add(1) }))

	const n = 5
	counts := make([]atomic.Int32, n)
	for i := 0; i < n; i++ {
		i := i
		Subscribe(bus, func(domain.SensorReading) error {
			counts[i].Add(1)
			switch i {
			case 1:
				return errors.New("boom")
			case 3:
				panic("handler panic")
			}
			return nil
		})
	}

	Publish(bus, domain.SensorReading{EquipmentID: "press-01", TagName: "Temperature", Value: 42})

	for i := range counts {
		assert.Equal(t, int32(1), counts[i].Load(), "subscriber %d", i)
	}
	assert.Equal(t, int32(2), failures.Load())
}

func TestPublishRoutesByConcreteType(t *testing.T) {
	bus := New()
	var readings, changes int

	Subscribe(bus, func(domain.SensorReading) error { readings++; return nil })
	Subscribe(bus, func(domain.StatusChange) error { changes++; return nil })

	Publish(bus, domain.StatusChange{EquipmentID: "cnc-02"})
	bus.PublishEvent(domain.SensorReading{EquipmentID: "cnc-02"})
	var ev domain.Event = domain.StatusChange{EquipmentID: "cnc-02"}
	bus.PublishEvent(ev)

	assert.Equal(t, 1, readings)
	assert.Equal(t, 2, changes)
}

func TestDisposedSubscriptionIsNotInvoked(t *testing.T) {
	bus := New()
	var calls int
	sub := Subscribe(bus, func(domain.AlarmRaised) error { calls++; return nil })

	sub.Dispose()
	sub.Dispose()
	Publish(bus, domain.AlarmRaised{Code: "X"})

	assert.Zero(t, calls)
	assert.Zero(t, SubscriberCount[domain.AlarmRaised](bus))
}

func TestDisposeOnlyRemovesItsOwnRegistration(t *testing.T) {
	bus := New()
	var a, b int
	subA := Subscribe(bus, func(domain.ProductionReport) error { a++; return nil })
	Subscribe(bus, func(domain.ProductionReport) error { b++; return nil })

	subA.Dispose()
	subA.Dispose()
	Publish(bus, domain.ProductionReport{UnitsProduced: 3})

	assert.Zero(t, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 1, SubscriberCount[domain.ProductionReport](bus))
}

func TestHandlerMaySubscribeAndUnsubscribeDuringDelivery(t *testing.T) {
	bus := New()
	var late, self int

	var selfSub *Subscription
	selfSub = Subscribe(bus, func(domain.ConnectionStatus) error {
		self++
		selfSub.Dispose()
		Subscribe(bus, func(domain.ConnectionStatus) error { late++; return nil })
		return nil
	})

	done := make(chan struct{})
	go func() {
		Publish(bus, domain.ConnectionStatus{Mode: domain.ModeLive})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish deadlocked while handler mutated subscriptions")
	}

	assert.Equal(t, 1, self)
	assert.Zero(t, late, "subscription added during delivery must not see the in-flight event")

	Publish(bus, domain.ConnectionStatus{Mode: domain.ModeSimulated})
	assert.Equal(t, 1, self)
	assert.Equal(t, 1, late)
}

func TestPublishAsyncWaitsForAllHandlers(t *testing.T) {
	bus := New()
	var done atomic.Int32

	SubscribeAsync(bus, func(ctx context.Context, ev domain.SensorReading) error {
		time.Sleep(20 * time.Millisecond)
		done.Add(1)
		return nil
	})
	SubscribeAsync(bus, func(ctx context.Context, ev domain.SensorReading) error {
		done.Add(1)
		return errors.New("sink unavailable")
	})
	Subscribe(bus, func(domain.SensorReading) error {
		done.Add(1)
		return nil
	})

	err := PublishAsync(context.Background(), bus, domain.SensorReading{Value: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(3), done.Load())
}

func TestPublishAsyncHonoursContext(t *testing.T) {
	bus := New()
	release := make(chan struct{})
	defer close(release)

	SubscribeAsync(bus, func(ctx context.Context, ev domain.SensorReading) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := PublishAsync(ctx, bus, domain.SensorReading{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishStartsAsyncHandlersWithoutWaiting(t *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	release := make(chan struct{})

	SubscribeAsync(bus, func(ctx context.Context, ev domain.StatusChange) error {
		defer wg.Done()
		close(started)
		<-release
		return nil
	})

	Publish(bus, domain.StatusChange{})
	<-started
	close(release)
	wg.Wait()
}

func TestConcurrentSubscribePublishDispose(t *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				sub := Subscribe(bus, func(domain.SensorReading) error { return nil })
				Publish(bus, domain.SensorReading{Value: float64(j)})
				sub.Dispose()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, SubscriberCount[domain.SensorReading](bus))
}

func TestFailureIsWrappedAsHandlerError(t *testing.T) {
	var got error
	bus := New(WithFailureHook(func(_ string, err error) { got = err }))
	Subscribe(bus, func(domain.AlarmRaised) error { return errors.New("db down") })

	Publish(bus, domain.AlarmRaised{})
	require.Error(t, got)
	assert.ErrorIs(t, got, domain.ErrHandler)
}
