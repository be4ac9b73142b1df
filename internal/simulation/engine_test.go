package simulation

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func lineConfig() Config {
	return Config{
		Equipment: []EquipmentConfig{
			{ID: "press-01", InitialStatus: domain.StatusRunning},
			{ID: "cnc-02", InitialStatus: domain.StatusIdle},
			{ID: "robot-03", InitialStatus: domain.StatusSetup},
		},
		AnomalyProbability: 0.05,
		Production:         ProductionConfig{RatePerMinute: 30, DefectRate: 0.05},
	}
}

func scenarioConfig(anomalyProbability float64) Config {
	return Config{
		Equipment: []EquipmentConfig{{
			ID: "mixer-01",
			Sensors: []domain.SensorProfile{{
				TagName: "Level", Unit: "%",
				BaseValue: 50, MinValue: 0, MaxValue: 100,
				NormalVariation: 5, AnomalyVariation: 30,
			}},
		}},
		AnomalyProbability: anomalyProbability,
	}
}

func runTicks(t *testing.T, e *Engine, rounds int) []byte {
	t.Helper()
	var events []domain.Event
	now := epoch
	for i := 0; i < rounds; i++ {
		now = now.Add(time.Second)
		events = append(events, e.TickSensors(now)...)
		if i%5 == 0 {
			events = append(events, e.TickStatus(now)...)
		}
		if i%10 == 0 {
			events = append(events, e.TickProduction(now, 10*time.Second)...)
		}
	}
	raw, err := json.Marshal(events)
	require.NoError(t, err)
	return raw
}

func TestEngineIsReproducibleForFixedSeed(t *testing.T) {
	a, err := NewEngine(lineConfig(), rand.NewPCG(42, 7))
	require.NoError(t, err)
	b, err := NewEngine(lineConfig(), rand.NewPCG(42, 7))
	require.NoError(t, err)

	first := runTicks(t, a, 500)
	second := runTicks(t, b, 500)
	assert.Equal(t, first, second)

	c, err := NewEngine(lineConfig(), rand.NewPCG(43, 7))
	require.NoError(t, err)
	assert.NotEqual(t, first, runTicks(t, c, 500))
}

func TestEngineSeedFromConfig(t *testing.T) {
	cfg := lineConfig()
	cfg.Seed = 1234
	a, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	b, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, runTicks(t, a, 100), runTicks(t, b, 100))
}

func TestAnomalyScenarioStaysInBoundsWithWiderSpread(t *testing.T) {
	const ticks = 10_000

	spread := func(p float64) (float64, int) {
		e, err := NewEngine(scenarioConfig(p), rand.NewPCG(99, 1))
		require.NoError(t, err)

		var sum, sumSq float64
		anomalies := 0
		for i := 0; i < ticks; i++ {
			events := e.TickSensors(epoch.Add(time.Duration(i) * time.Second))
			require.Len(t, events, 1)
			r := events[0].(domain.SensorReading)
			require.GreaterOrEqual(t, r.Value, 0.0)
			require.LessOrEqual(t, r.Value, 100.0)
			if r.IsAnomaly {
				anomalies++
			}
			sum += r.Value
			sumSq += r.Value * r.Value
		}
		mean := sum / ticks
		return sumSq/ticks - mean*mean, anomalies
	}

	quietVar, quietAnomalies := spread(0)
	noisyVar, noisyAnomalies := spread(1)

	assert.Zero(t, quietAnomalies)
	assert.Equal(t, ticks, noisyAnomalies)
	assert.InDelta(t, 25, quietVar, 5)
	assert.Greater(t, noisyVar, 10*quietVar)
}

func TestStatusChangeOnlyWhenStatusDiffers(t *testing.T) {
	cfg := lineConfig()
	cfg.Transitions = DefaultTransitionMatrix()
	e, err := NewEngine(cfg, rand.NewPCG(5, 5))
	require.NoError(t, err)

	prev := map[string]domain.EquipmentStatus{}
	for _, eq := range e.Config().Equipment {
		prev[eq.ID] = eq.InitialStatus
	}
	for i := 0; i < 2000; i++ {
		for _, ev := range e.TickStatus(epoch) {
			sc, ok := ev.(domain.StatusChange)
			if !ok {
				continue
			}
			assert.NotEqual(t, sc.PreviousStatus, sc.NewStatus)
			assert.Equal(t, prev[sc.EquipmentID], sc.PreviousStatus)
			prev[sc.EquipmentID] = sc.NewStatus
		}
	}
	for id, status := range prev {
		st, ok := e.State(id)
		require.True(t, ok)
		assert.Equal(t, status, st.CurrentStatus)
	}
}

func TestAbsorbingStatusEmitsNothing(t *testing.T) {
	cfg := lineConfig()
	cfg.Transitions = TransitionMatrix{
		domain.StatusRunning: {domain.StatusRunning: 1},
		domain.StatusIdle:    {domain.StatusIdle: 1},
		domain.StatusSetup:   {domain.StatusSetup: 1},
	}
	e, err := NewEngine(cfg, rand.NewPCG(1, 1))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.Empty(t, e.TickStatus(epoch))
	}
}

func TestEnteringErrorRaisesFaultAlarm(t *testing.T) {
	cfg := Config{
		Equipment: []EquipmentConfig{{ID: "press-01", InitialStatus: domain.StatusRunning}},
		Transitions: TransitionMatrix{
			domain.StatusRunning: {domain.StatusError: 1},
			domain.StatusError:   {domain.StatusError: 1},
		},
	}
	e, err := NewEngine(cfg, rand.NewPCG(1, 2))
	require.NoError(t, err)

	events := e.TickStatus(epoch)
	require.Len(t, events, 2)
	sc := events[0].(domain.StatusChange)
	assert.Equal(t, domain.StatusError, sc.NewStatus)
	alarm := events[1].(domain.AlarmRaised)
	assert.Equal(t, AlarmEquipmentFault, alarm.Code)
	assert.Equal(t, domain.SeverityCritical, alarm.Severity)
	assert.NotEmpty(t, alarm.ID)
}

func TestThresholdAlarmsAreEdgeTriggered(t *testing.T) {
	cfg := Config{
		Equipment: []EquipmentConfig{{
			ID: "oven-01",
			Sensors: []domain.SensorProfile{{
				TagName: "Temperature", Unit: "°C",
				BaseValue: 150, MinValue: 0, MaxValue: 200,
				WarningThreshold: 100, ErrorThreshold: 180,
			}},
		}},
	}
	e, err := NewEngine(cfg, rand.NewPCG(3, 3))
	require.NoError(t, err)

	first := e.TickSensors(epoch)
	require.Len(t, first, 2)
	alarm := first[1].(domain.AlarmRaised)
	assert.Equal(t, AlarmSensorWarning, alarm.Code)
	assert.Equal(t, domain.SeverityWarning, alarm.Severity)

	// zero variation keeps the value pinned; the band does not rise again
	for i := 0; i < 10; i++ {
		assert.Len(t, e.TickSensors(epoch), 1)
	}
}

func TestProductionOnlyForRunningEquipment(t *testing.T) {
	cfg := Config{
		Equipment: []EquipmentConfig{
			{ID: "running", InitialStatus: domain.StatusRunning},
			{ID: "idle", InitialStatus: domain.StatusIdle},
		},
		Production: ProductionConfig{RatePerMinute: 60, DefectRate: 1},
	}
	e, err := NewEngine(cfg, rand.NewPCG(8, 8))
	require.NoError(t, err)

	events := e.TickProduction(epoch, time.Minute)
	require.Len(t, events, 1)
	report := events[0].(domain.ProductionReport)
	assert.Equal(t, "running", report.EquipmentID)
	assert.GreaterOrEqual(t, report.UnitsProduced, 48)
	assert.LessOrEqual(t, report.UnitsProduced, 72)
	assert.Equal(t, report.UnitsProduced, report.DefectCount)

	assert.Empty(t, e.TickProduction(epoch, 0))
}

func TestResetRestoresInitialState(t *testing.T) {
	e, err := NewEngine(lineConfig(), rand.NewPCG(11, 11))
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		e.TickStatus(epoch)
		e.TickSensors(epoch)
	}
	e.Reset()

	st, ok := e.State("press-01")
	require.True(t, ok)
	assert.Equal(t, domain.StatusRunning, st.CurrentStatus)
	for _, p := range DefaultSensorProfiles() {
		assert.Equal(t, p.BaseValue, st.LastSensorValues[p.TagName])
	}
	_, ok = e.State("missing")
	assert.False(t, ok)
}

func TestNewEngineRejectsInvalidConfiguration(t *testing.T) {
	cases := map[string]func(*Config){
		"row does not sum to one": func(c *Config) {
			c.Transitions = DefaultTransitionMatrix()
			c.Transitions[domain.StatusIdle][domain.StatusRunning] = 0.5
		},
		"min above max": func(c *Config) {
			c.Equipment[0].Sensors = []domain.SensorProfile{{TagName: "T", MinValue: 10, BaseValue: 5, MaxValue: 1}}
		},
		"base outside range": func(c *Config) {
			c.Equipment[0].Sensors = []domain.SensorProfile{{TagName: "T", MinValue: 0, BaseValue: 50, MaxValue: 10}}
		},
		"anomaly probability above one": func(c *Config) { c.AnomalyProbability = 1.5 },
		"no equipment":                  func(c *Config) { c.Equipment = nil },
		"duplicate equipment": func(c *Config) {
			c.Equipment = append(c.Equipment, EquipmentConfig{ID: c.Equipment[0].ID})
		},
		"unknown initial status": func(c *Config) { c.Equipment[0].InitialStatus = "Exploded" },
		"unreachable row missing": func(c *Config) {
			c.Transitions = TransitionMatrix{
				domain.StatusIdle:    {domain.StatusIdle: 0.5, domain.StatusRunning: 0.5},
				domain.StatusRunning: {domain.StatusWarning: 1},
				domain.StatusSetup:   {domain.StatusSetup: 1},
			}
		},
		"negative speed": func(c *Config) { c.SpeedMultiplier = -2 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := lineConfig()
			mutate(&cfg)
			_, err := NewEngine(cfg, rand.NewPCG(1, 1))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestSampleVarianceMatchesNormalVariation(t *testing.T) {
	cfg := scenarioConfig(0)
	cfg.Equipment[0].Sensors[0].NormalVariation = 2
	e, err := NewEngine(cfg, rand.NewPCG(21, 21))
	require.NoError(t, err)

	var sum, sumSq float64
	const n = 5000
	for i := 0; i < n; i++ {
		v := e.TickSensors(epoch)[0].(domain.SensorReading).Value
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	assert.InDelta(t, 50, mean, 0.5)
	assert.InDelta(t, 2, math.Sqrt(sumSq/n-mean*mean), 0.3)
}
