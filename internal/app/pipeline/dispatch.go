package pipeline

import (
	"context"
	"time"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// Dispatcher moves queued events onto a bus from a single goroutine, which
// keeps delivery in enqueue order.
type Dispatcher struct {
	q    ports.EventQueue
	bus  *eventbus.Bus
	pol  ports.Policy
	obs  ports.Observability
	wake chan struct{}
}

func NewDispatcher(q ports.EventQueue, bus *eventbus.Bus, pol ports.Policy, obs ports.Observability) *Dispatcher {
	return &Dispatcher{
		q:    q,
		bus:  bus,
		pol:  NormalizePolicy(pol),
		obs:  obs,
		wake: make(chan struct{}, 1),
	}
}

// Notify wakes an idle Run loop. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is done, then drains whatever is still queued.
func (d *Dispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(d.pol.IdleSleep)
	defer timer.Stop()

	for {
		if d.dispatchBatch() > 0 {
			if ctx.Err() != nil {
				d.Drain()
				return
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.pol.IdleSleep)

		select {
		case <-ctx.Done():
			d.Drain()
			return
		case <-d.wake:
		case <-timer.C:
		}
	}
}

// Drain delivers everything currently queued and returns the count.
func (d *Dispatcher) Drain() int {
	total := 0
	for {
		n := d.dispatchBatch()
		if n == 0 {
			return total
		}
		total += n
	}
}

func (d *Dispatcher) dispatchBatch() int {
	batch := d.q.DequeueBatch(d.pol.MaxBatchSize)
	d.obs.SetGauge(ports.MetricQueueLength, float64(d.q.Len()))
	if len(batch) == 0 {
		return 0
	}

	start := time.Now()
	for _, ev := range batch {
		d.bus.PublishEvent(ev)
	}
	d.obs.ObserveLatency(ports.MetricDispatchDuration, time.Since(start).Seconds())
	d.obs.IncCounter(ports.MetricEventsPublished, float64(len(batch)))
	return len(batch)
}
