package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordHandlerFailure(eventType string, err error)
}

type Field struct {
	Key   string
	Value any
}

// Metric names understood by the Prometheus adapter.
const (
	MetricEventsPublished  = "plantpulse_events_published_total"
	MetricEventsDropped    = "plantpulse_events_dropped_total"
	MetricHandlerFailures  = "plantpulse_handler_failures_total"
	MetricFailovers        = "plantpulse_failovers_total"
	MetricLiveRecoveries   = "plantpulse_live_recoveries_total"
	MetricSimTicks         = "plantpulse_sim_ticks_total"
	MetricLiveValues       = "plantpulse_live_values_total"
	MetricLiveBadQuality   = "plantpulse_live_bad_quality_total"
	MetricQueueLength      = "plantpulse_queue_length"
	MetricMode             = "plantpulse_mode"
	MetricLiveConnectTime  = "plantpulse_live_connect_seconds"
	MetricDispatchDuration = "plantpulse_dispatch_batch_seconds"
)
