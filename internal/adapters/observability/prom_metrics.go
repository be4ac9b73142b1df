package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// PromObs implements ports.Observability on top of Prometheus collectors and
// a zap logger.
type PromObs struct {
	logger   *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	failures *prometheus.CounterVec
}

// NewPromObs registers the pipeline collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer; a nil logger discards logs.
func NewPromObs(reg prometheus.Registerer, logger *zap.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	published := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricEventsPublished,
		Help: "Telemetry events delivered to the output bus.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricEventsDropped,
		Help: "Events lost to dispatch queue backpressure.",
	})
	failovers := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricFailovers,
		Help: "Switches from live data to the simulator.",
	})
	recoveries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricLiveRecoveries,
		Help: "Switches from the simulator back to live data.",
	})
	ticks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricSimTicks,
		Help: "Simulator tick callbacks executed.",
	})
	liveValues := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricLiveValues,
		Help: "Value-changed notifications received from the live backend.",
	})
	badQuality := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricLiveBadQuality,
		Help: "Live values discarded because of bad quality.",
	})
	queueGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricQueueLength,
		Help: "Events waiting in the dispatch queue.",
	})
	modeGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricMode,
		Help: "Current source: 0 stopped, 1 live, 2 simulated, 3 disconnected.",
	})
	connect := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricLiveConnectTime,
		Help:    "Time spent bringing up the live backend.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	dispatch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricDispatchDuration,
		Help:    "Time to publish one dequeued batch to subscribers.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricHandlerFailures,
		Help: "Subscriber callbacks that returned an error or panicked.",
	}, []string{"event_type"})

	reg.MustRegister(published, dropped, failovers, recoveries, ticks, liveValues, badQuality,
		queueGauge, modeGauge, connect, dispatch, failures)

	return &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			ports.MetricEventsPublished: published,
			ports.MetricEventsDropped:   dropped,
			ports.MetricFailovers:       failovers,
			ports.MetricLiveRecoveries:  recoveries,
			ports.MetricSimTicks:        ticks,
			ports.MetricLiveValues:      liveValues,
			ports.MetricLiveBadQuality:  badQuality,
		},
		gauges: map[string]prometheus.Gauge{
			ports.MetricQueueLength: queueGauge,
			ports.MetricMode:        modeGauge,
		},
		histos: map[string]prometheus.Observer{
			ports.MetricLiveConnectTime:  connect,
			ports.MetricDispatchDuration: dispatch,
		},
		failures: failures,
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordHandlerFailure(eventType string, err error) {
	p.failures.WithLabelValues(eventType).Inc()
	p.logger.Debug("handler failure recorded", zap.String("event_type", eventType), zap.Error(err))
}

func zapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
