package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	messages     []message
	err          error
	timeout      bool
	disconnected bool
	gate         chan struct{}
	calls        int
}

func (f *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic: topic, payload: payload.([]byte)})
	return &fakeToken{err: f.err, timeout: f.timeout}
}

func (f *fakePublisher) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingObs struct {
	mu       sync.Mutex
	counters map[string]float64
	errors   int
}

func (o *countingObs) LogInfo(string, ...ports.Field)            {}
func (o *countingObs) LogCritical(string, error, ...ports.Field) {}
func (o *countingObs) ObserveLatency(string, float64)            {}
func (o *countingObs) SetGauge(string, float64)                  {}
func (o *countingObs) RecordHandlerFailure(string, error)        {}

func (o *countingObs) LogError(string, error, ...ports.Field) {
	o.mu.Lock()
	o.errors++
	o.mu.Unlock()
}

func (o *countingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counters == nil {
		o.counters = make(map[string]float64)
	}
	o.counters[name] += v
}

func (o *countingObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func TestTopicLayout(t *testing.T) {
	b := NewBridge(Config{TopicPrefix: "factory/"}, &fakePublisher{}, nil)
	assert.Equal(t, "factory/press-01/sensor_reading",
		b.Topic(domain.SensorReading{EquipmentID: "press-01"}))
	assert.Equal(t, "factory/connection/connection_status",
		b.Topic(domain.ConnectionStatus{}))
}

func TestPublishEncodesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(Config{}, pub, nil)

	ev := domain.AlarmRaised{ID: "a1", EquipmentID: "cnc-02", Code: "SENSOR_WARNING", Severity: domain.SeverityWarning}
	require.NoError(t, b.Publish(ev))
	require.Equal(t, 1, pub.count())

	msg := pub.messages[0]
	assert.Equal(t, "plantpulse/cnc-02/alarm_raised", msg.topic)

	var decoded struct {
		Kind    string             `json:"kind"`
		Payload domain.AlarmRaised `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "alarm_raised", decoded.Kind)
	assert.Equal(t, ev.Code, decoded.Payload.Code)
}

func TestPublishReportsBrokerErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not authorised")}
	b := NewBridge(Config{}, pub, nil)
	assert.ErrorContains(t, b.Publish(domain.SensorReading{}), "not authorised")

	pub = &fakePublisher{timeout: true}
	b = NewBridge(Config{}, pub, nil)
	assert.ErrorContains(t, b.Publish(domain.SensorReading{}), "timed out")
}

func TestAttachForwardsBusEvents(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(Config{}, pub, nil)
	bus := eventbus.New()

	b.Attach(bus)
	eventbus.Publish(bus, domain.SensorReading{EquipmentID: "press-01"})
	eventbus.Publish(bus, domain.StatusChange{EquipmentID: "press-01"})
	eventbus.Publish(bus, domain.ConnectionStatus{Mode: domain.ModeSimulated})
	require.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, time.Millisecond)

	b.Close()
	assert.Zero(t, eventbus.SubscriberCount[domain.SensorReading](bus))
	eventbus.Publish(bus, domain.SensorReading{EquipmentID: "press-01"})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 3, pub.count())
	assert.True(t, pub.disconnected)
}

func TestAttachPreservesPublishOrder(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(Config{Buffer: 4096}, pub, nil)
	bus := eventbus.New()
	b.Attach(bus)
	defer b.Close()

	const n = 2000
	for i := 0; i < n; i++ {
		eventbus.Publish(bus, domain.SensorReading{EquipmentID: "press-01", Value: float64(i)})
	}
	require.Eventually(t, func() bool { return pub.count() == n }, 2*time.Second, time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for i, msg := range pub.messages {
		var decoded struct {
			Payload domain.SensorReading `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(msg.payload, &decoded))
		require.Equal(t, float64(i), decoded.Payload.Value, "message %d out of order", i)
	}
}

func TestAttachDropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{})}
	obs := &countingObs{}
	b := NewBridge(Config{Buffer: 1}, pub, nil, WithObservability(obs))
	bus := eventbus.New()
	b.Attach(bus)

	eventbus.Publish(bus, domain.AlarmRaised{EquipmentID: "press-01", Code: "A1"})
	require.Eventually(t, func() bool { return pub.callCount() == 1 }, time.Second, time.Millisecond)

	// the worker is blocked on A1: A2 fills the queue, A3 and A4 overflow
	for _, code := range []string{"A2", "A3", "A4"} {
		eventbus.Publish(bus, domain.AlarmRaised{EquipmentID: "press-01", Code: code})
	}
	assert.Equal(t, float64(2), obs.counter(ports.MetricEventsDropped))

	close(pub.gate)
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, time.Millisecond)
	b.Close()
	assert.Equal(t, 2, pub.count())
}

func TestWorkerReportsPublishFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not authorised")}
	obs := &countingObs{}
	b := NewBridge(Config{}, pub, nil, WithObservability(obs))
	bus := eventbus.New()
	b.Attach(bus)

	eventbus.Publish(bus, domain.SensorReading{EquipmentID: "press-01"})
	b.Close()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.errors)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.Enabled())

	cfg = Config{Broker: "tcp://broker:1883", QoS: 3}
	cfg.ApplyDefaults()
	assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)
}
