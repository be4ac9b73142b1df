package pipeline

import (
	"fmt"
	"time"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// Queue-full policies.
const (
	PolicyDrop       = "drop"
	PolicyDropOldest = "drop_oldest"
)

// NormalizePolicy fills zero values with the defaults used by the runtime.
func NormalizePolicy(pol ports.Policy) ports.Policy {
	if pol.MaxQueueLen <= 0 {
		pol.MaxQueueLen = 4096
	}
	if pol.MaxBatchSize <= 0 {
		pol.MaxBatchSize = 256
	}
	if pol.IdleSleep <= 0 {
		pol.IdleSleep = 20 * time.Millisecond
	}
	if pol.OnQueueFull == "" {
		pol.OnQueueFull = PolicyDropOldest
	}
	return pol
}

// EnqueueWithPolicy never blocks: producers are tick loops and protocol
// callbacks that must not stall on slow consumers.
func EnqueueWithPolicy(q ports.EventQueue, ev domain.Event, pol ports.Policy, obs ports.Observability) bool {
	if q.Enqueue(ev) {
		return true
	}

	switch pol.OnQueueFull {
	case PolicyDrop, "reject":
		obs.IncCounter(ports.MetricEventsDropped, 1)
		obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
			ports.Field{Key: "kind", Value: string(ev.Kind())})
		return false
	case PolicyDropOldest:
		evicted := q.DequeueBatch(1)
		obs.IncCounter(ports.MetricEventsDropped, float64(len(evicted)))
		if q.Enqueue(ev) {
			return true
		}
		obs.IncCounter(ports.MetricEventsDropped, 1)
		return false
	default:
		obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
		obs.IncCounter(ports.MetricEventsDropped, 1)
		return false
	}
}
