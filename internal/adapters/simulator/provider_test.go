package simulator

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/simulation"
)

func fastConfig() simulation.Config {
	return simulation.Config{
		Equipment: []simulation.EquipmentConfig{
			{ID: "press-01", InitialStatus: domain.StatusRunning},
			{ID: "cnc-02"},
		},
		SensorInterval:     2 * time.Millisecond,
		StatusInterval:     3 * time.Millisecond,
		ProductionInterval: 5 * time.Millisecond,
		AnomalyProbability: 0.1,
	}
}

type fakeObs struct {
	mu       sync.Mutex
	counters map[string]float64
}

func newFakeObs() *fakeObs { return &fakeObs{counters: map[string]float64{}} }

func (f *fakeObs) LogInfo(string, ...ports.Field)            {}
func (f *fakeObs) LogError(string, error, ...ports.Field)    {}
func (f *fakeObs) LogCritical(string, error, ...ports.Field) {}
func (f *fakeObs) ObserveLatency(string, float64)            {}
func (f *fakeObs) SetGauge(string, float64)                  {}
func (f *fakeObs) RecordHandlerFailure(string, error)        {}

func (f *fakeObs) IncCounter(name string, v float64) {
	f.mu.Lock()
	f.counters[name] += v
	f.mu.Unlock()
}

func (f *fakeObs) count(name string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[name]
}

type recorder struct {
	mu       sync.Mutex
	readings []domain.SensorReading
	statuses []domain.ConnectionStatus
}

func (r *recorder) attach(b *eventbus.Bus) {
	eventbus.Subscribe(b, func(ev domain.SensorReading) error {
		r.mu.Lock()
		r.readings = append(r.readings, ev)
		r.mu.Unlock()
		return nil
	})
	eventbus.Subscribe(b, func(ev domain.ConnectionStatus) error {
		r.mu.Lock()
		r.statuses = append(r.statuses, ev)
		r.mu.Unlock()
		return nil
	})
}

func (r *recorder) readingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings)
}

func (r *recorder) lastStatus() domain.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return domain.ConnectionStatus{}
	}
	return r.statuses[len(r.statuses)-1]
}

func TestNewProviderRejectsInvalidConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.AnomalyProbability = 2
	_, err := NewProvider(cfg)
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestProviderEmitsUntilStopped(t *testing.T) {
	obs := newFakeObs()
	p, err := NewProvider(fastConfig(), WithRandSource(rand.NewPCG(1, 2)), WithObservability(obs))
	require.NoError(t, err)

	rec := &recorder{}
	rec.attach(p.Events())

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsConnected())
	assert.Equal(t, domain.ModeSimulated, rec.lastStatus().Mode)

	require.Eventually(t, func() bool { return rec.readingCount() >= 16 }, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, obs.count(ports.MetricSimTicks))

	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.IsConnected())
	assert.Equal(t, domain.ModeStopped, rec.lastStatus().Mode)
	assert.Equal(t, msgStopped, p.StatusMessage())

	after := rec.readingCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, rec.readingCount(), "no events after Stop returns")
}

func TestProviderStartIsIdempotentAndRestartable(t *testing.T) {
	p, err := NewProvider(fastConfig(), WithRandSource(rand.NewPCG(3, 4)))
	require.NoError(t, err)

	var statuses int
	var mu sync.Mutex
	eventbus.Subscribe(p.Events(), func(domain.ConnectionStatus) error {
		mu.Lock()
		statuses++
		mu.Unlock()
		return nil
	})

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	mu.Lock()
	assert.Equal(t, 1, statuses, "second Start must not publish again")
	mu.Unlock()

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsConnected())
	require.NoError(t, p.Stop(context.Background()))
}

func TestProviderStartFailurePublishesStatus(t *testing.T) {
	p, err := NewProvider(fastConfig())
	require.NoError(t, err)

	rec := &recorder{}
	rec.attach(p.Events())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Start(ctx)
	require.ErrorIs(t, err, domain.ErrSimulationStart)
	assert.False(t, p.IsConnected())

	st := rec.lastStatus()
	assert.False(t, st.IsConnected)
	assert.Equal(t, msgStartFailed, st.Message)
	assert.NotContains(t, st.Message, "context")
}

func TestProviderSpeedMultiplierScalesTimestamps(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	wall := start
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return wall
	}

	cfg := fastConfig()
	cfg.SpeedMultiplier = 60
	p, err := NewProvider(cfg, WithClock(clock), WithRandSource(rand.NewPCG(5, 6)))
	require.NoError(t, err)

	rec := &recorder{}
	rec.attach(p.Events())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	mu.Lock()
	wall = start.Add(time.Second)
	mu.Unlock()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, r := range rec.readings {
			if r.Timestamp.Equal(start.Add(time.Minute)) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProviderStartResetsEngineState(t *testing.T) {
	cfg := fastConfig()
	cfg.StatusInterval = time.Hour
	cfg.Transitions = simulation.TransitionMatrix{
		domain.StatusRunning: {domain.StatusIdle: 1},
		domain.StatusIdle:    {domain.StatusIdle: 1},
	}
	p, err := NewProvider(cfg)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	p.Engine().TickStatus(time.Now())
	st, ok := p.Engine().State("press-01")
	require.True(t, ok)
	require.Equal(t, domain.StatusIdle, st.CurrentStatus)
	require.NoError(t, p.Stop(context.Background()))

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())
	st, ok = p.Engine().State("press-01")
	require.True(t, ok)
	assert.Equal(t, domain.StatusRunning, st.CurrentStatus)
}
