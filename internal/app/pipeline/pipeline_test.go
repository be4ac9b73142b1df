package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/queue"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

func TestEnqueueWithPolicyDrop(t *testing.T) {
	q := queue.NewMemQueue(1)
	pol := ports.Policy{OnQueueFull: PolicyDrop, MaxQueueLen: 1}
	obs := &mockObs{}

	if ok := EnqueueWithPolicy(q, reading(1), pol, obs); !ok {
		t.Fatalf("expected first enqueue to succeed")
	}
	if ok := EnqueueWithPolicy(q, reading(2), pol, obs); ok {
		t.Fatalf("expected enqueue on full queue to be dropped")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected drop to log an error")
	}
	if obs.counter(ports.MetricEventsDropped) != 1 {
		t.Fatalf("expected one dropped event, got %v", obs.counter(ports.MetricEventsDropped))
	}
	if got := q.DequeueBatch(1)[0].(domain.SensorReading).Value; got != 1 {
		t.Fatalf("drop policy must keep the oldest event, got %v", got)
	}
}

func TestEnqueueWithPolicyDropOldest(t *testing.T) {
	q := queue.NewMemQueue(2)
	pol := ports.Policy{OnQueueFull: PolicyDropOldest, MaxQueueLen: 2}
	obs := &mockObs{}

	for i := 1; i <= 3; i++ {
		if ok := EnqueueWithPolicy(q, reading(float64(i)), pol, obs); !ok {
			t.Fatalf("enqueue %d should succeed under drop_oldest", i)
		}
	}
	batch := q.DequeueBatch(10)
	if len(batch) != 2 {
		t.Fatalf("expected 2 queued events, got %d", len(batch))
	}
	if batch[0].(domain.SensorReading).Value != 2 || batch[1].(domain.SensorReading).Value != 3 {
		t.Fatalf("unexpected survivors: %+v", batch)
	}
	if obs.counter(ports.MetricEventsDropped) != 1 {
		t.Fatalf("expected one eviction to be counted")
	}
}

func TestEnqueueWithPolicyInvalid(t *testing.T) {
	q := queue.NewMemQueue(1)
	obs := &mockObs{}
	q.Enqueue(reading(0))

	if ok := EnqueueWithPolicy(q, reading(1), ports.Policy{OnQueueFull: "block"}, obs); ok {
		t.Fatalf("unknown policy must not enqueue")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected invalid policy to be logged")
	}
}

func TestDispatcherPreservesOrderAndDrainsOnCancel(t *testing.T) {
	q := queue.NewMemQueue(1000)
	bus := eventbus.New()
	obs := &mockObs{}
	d := NewDispatcher(q, bus, ports.Policy{MaxBatchSize: 7, IdleSleep: time.Millisecond}, obs)

	var (
		mu  sync.Mutex
		got []float64
	)
	eventbus.Subscribe(bus, func(ev domain.SensorReading) error {
		mu.Lock()
		got = append(got, ev.Value)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for i := 0; i < 500; i++ {
		q.Enqueue(reading(float64(i)))
		d.Notify()
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 500 {
		t.Fatalf("expected all 500 events dispatched, got %d", len(got))
	}
	for i, v := range got {
		if v != float64(i) {
			t.Fatalf("event %d out of order: %v", i, v)
		}
	}
	if obs.counter(ports.MetricEventsPublished) != 500 {
		t.Fatalf("expected published counter 500, got %v", obs.counter(ports.MetricEventsPublished))
	}
}

func TestDrainOnEmptyQueue(t *testing.T) {
	d := NewDispatcher(queue.NewMemQueue(1), eventbus.New(), ports.Policy{}, &mockObs{})
	if n := d.Drain(); n != 0 {
		t.Fatalf("expected nothing to drain, got %d", n)
	}
}

func TestNormalizePolicyDefaults(t *testing.T) {
	pol := NormalizePolicy(ports.Policy{})
	if pol.MaxQueueLen <= 0 || pol.MaxBatchSize <= 0 || pol.IdleSleep <= 0 {
		t.Fatalf("expected positive defaults, got %+v", pol)
	}
	if pol.OnQueueFull != PolicyDropOldest {
		t.Fatalf("expected drop_oldest default, got %q", pol.OnQueueFull)
	}
}

func reading(v float64) domain.Event {
	return domain.SensorReading{EquipmentID: "press-01", TagName: "Temperature", Value: v}
}

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
	m.mu.Unlock()
}
func (m *mockObs) ObserveLatency(string, float64)     {}
func (m *mockObs) SetGauge(string, float64)           {}
func (m *mockObs) RecordHandlerFailure(string, error) {}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
