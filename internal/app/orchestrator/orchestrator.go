// Package orchestrator selects between a live and a simulated telemetry
// provider and relays the active one's events onto a single output bus.
//
// The live and simulated sources are never active together: both flags are
// derived from the state inside transitionLocked, which is the only writer.
// Events from an inactive source are discarded at the relay. Relayed events
// pass through a bounded queue drained by one dispatcher goroutine, so
// producers never block on consumers and delivery keeps generation order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/observability"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/queue"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/app/pipeline"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/eventbus"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

const Name = "Hybrid"

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObservability(obs ports.Observability) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.obs = obs
		}
	}
}

func WithPolicy(pol ports.Policy) Option {
	return func(o *Orchestrator) { o.pol = pol }
}

// WithQueue replaces the default in-memory dispatch queue.
func WithQueue(q ports.EventQueue) Option {
	return func(o *Orchestrator) {
		if q != nil {
			o.q = q
		}
	}
}

// WithBus publishes onto an existing bus instead of a private one.
func WithBus(b *eventbus.Bus) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.bus = b
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

type Orchestrator struct {
	cfg     Config
	live    ports.Provider
	sim     ports.Provider
	bus     *eventbus.Bus
	q       ports.EventQueue
	pol     ports.Policy
	logger  *zap.Logger
	obs     ports.Observability
	now     func() time.Time
	breaker *gobreaker.CircuitBreaker

	mu         sync.Mutex
	state      State
	liveActive bool
	simActive  bool
	probing    bool
	status     domain.ConnectionStatus
	gen        uint64
	runCtx     context.Context
	cancel     context.CancelFunc
	dispatch   *dispatchRun
	wg         sync.WaitGroup

	subs []*eventbus.Subscription
}

type dispatchRun struct {
	d      *pipeline.Dispatcher
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires the relays. live may be nil when no endpoint is configured; sim
// is required.
func New(cfg Config, sim, live ports.Provider, opts ...Option) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sim == nil {
		return nil, fmt.Errorf("%w: a simulator provider is required", domain.ErrConfiguration)
	}

	o := &Orchestrator{
		cfg:    cfg,
		sim:    sim,
		live:   live,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = o.logger.Named("orchestrator")
	if o.obs == nil {
		o.obs = observability.NewLogObs(o.logger)
	}
	o.pol = pipeline.NormalizePolicy(o.pol)
	if o.q == nil {
		o.q = queue.NewMemQueue(o.pol.MaxQueueLen)
	}
	if o.bus == nil {
		o.bus = eventbus.New(eventbus.WithLogger(o.logger), eventbus.WithFailureHook(o.obs.RecordHandlerFailure))
	}
	o.status = domain.NewConnectionStatus(false, domain.ModeStopped, msgStopped, o.now())

	o.subscribeRelays(sim, sourceSim)
	if live != nil {
		o.subscribeRelays(live, sourceLive)
		o.subs = append(o.subs, eventbus.Subscribe(live.Events(), func(st domain.ConnectionStatus) error {
			if !st.IsConnected {
				o.onLiveDown()
			}
			return nil
		}))
	}
	return o, nil
}

func (o *Orchestrator) subscribeRelays(p ports.Provider, from source) {
	b := p.Events()
	o.subs = append(o.subs,
		relay[domain.SensorReading](o, b, from),
		relay[domain.StatusChange](o, b, from),
		relay[domain.AlarmRaised](o, b, from),
		relay[domain.ProductionReport](o, b, from),
	)
}

func relay[T domain.Event](o *Orchestrator, b *eventbus.Bus, from source) *eventbus.Subscription {
	return eventbus.Subscribe(b, func(ev T) error {
		o.forward(from, ev)
		return nil
	})
}

// forward holds the lock across the enqueue so an event can never slip past
// a concurrent deactivation of its source.
func (o *Orchestrator) forward(from source, ev domain.Event) {
	o.mu.Lock()
	active := (from == sourceLive && o.liveActive) || (from == sourceSim && o.simActive)
	run := o.dispatch
	if active && run != nil {
		pipeline.EnqueueWithPolicy(o.q, ev, o.pol, o.obs)
	}
	o.mu.Unlock()

	if active && run != nil {
		run.d.Notify()
	}
}

func (o *Orchestrator) Name() string { return Name }

func (o *Orchestrator) Events() *eventbus.Bus { return o.bus }

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Active reports which backend is currently relayed.
func (o *Orchestrator) Active() (live, sim bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.liveActive, o.simActive
}

func (o *Orchestrator) Status() domain.ConnectionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) IsConnected() bool { return o.Status().IsConnected }

func (o *Orchestrator) StatusMessage() string { return o.Status().Message }

// Start tries the live backend first and falls back to the simulator. It only
// fails when the simulator cannot be started either, or when ctx ends before
// a backend is up, in which case the run is stopped and ctx.Err() returned.
// Calling Start while running is a no-op; a stopped orchestrator can be
// started again.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateUnstarted && o.state != StateStopped {
		state := o.state
		o.mu.Unlock()
		o.logger.Info("start ignored", zap.Stringer("state", state))
		return nil
	}
	o.gen++
	gen := o.gen
	runCtx, cancel := context.WithCancel(context.Background())
	o.runCtx = runCtx
	o.cancel = cancel
	o.dispatch = o.startDispatcher()
	o.breaker = o.newBreaker()
	o.transitionLocked(StateAttemptingLive)
	o.mu.Unlock()

	// the caller's ctx only bounds Start itself, never the run
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if o.live == nil {
		o.logger.Info("no live endpoint configured")
		return o.startSimulated(ctx, runCtx, gen, msgNoEndpoint)
	}

	err := o.connectLive(runCtx)

	o.mu.Lock()
	if !o.attemptingLocked(gen) {
		o.releaseStaleLocked(o.live, err == nil)
		o.logger.Info("stopped during start")
		return nil
	}
	if ctx.Err() != nil {
		return o.abandonLocked(ctx)
	}
	if err == nil {
		o.transitionLocked(StateLive)
		st := o.setStatusLocked(true, domain.ModeLive, msgLive)
		o.mu.Unlock()
		o.logger.Info("running on live data", zap.String("provider", o.live.Name()))
		o.publish(st)
		// a drop between Start and the transition was ignored above
		if !o.live.IsConnected() {
			o.onLiveDown()
		}
		return nil
	}
	o.mu.Unlock()

	o.logger.Warn("live backend unavailable, falling back to simulated data", zap.Error(err))
	return o.startSimulated(ctx, runCtx, gen, msgUnreachable)
}

func (o *Orchestrator) startSimulated(ctx, runCtx context.Context, gen uint64, msg string) error {
	err := o.sim.Start(runCtx)

	o.mu.Lock()
	if !o.attemptingLocked(gen) {
		o.releaseStaleLocked(o.sim, err == nil)
		o.logger.Info("stopped during start")
		return nil
	}
	if ctx.Err() != nil {
		return o.abandonLocked(ctx)
	}
	if err != nil {
		o.transitionLocked(StateFailed)
		st := o.setStatusLocked(false, domain.ModeDisconnected, msgSimFailed)
		o.mu.Unlock()
		o.obs.LogCritical("simulation_start_failed", err)
		o.publish(st)
		return fmt.Errorf("start simulated backend: %w", err)
	}
	o.transitionLocked(StateSimulated)
	st := o.setStatusLocked(true, domain.ModeSimulated, msg)
	o.startProbeLocked()
	o.mu.Unlock()

	o.logger.Info("running on simulated data", zap.String("reason", msg))
	o.publish(st)
	return nil
}

// attemptingLocked reports whether run gen is still the one connecting.
func (o *Orchestrator) attemptingLocked(gen uint64) bool {
	return o.gen == gen && o.state == StateAttemptingLive
}

// releaseStaleLocked undoes a backend start that finished after its run was
// stopped. A newer run owns the provider and is left alone. Unlocks o.mu.
func (o *Orchestrator) releaseStaleLocked(p ports.Provider, started bool) {
	idle := o.state == StateStopped
	o.mu.Unlock()
	if started && idle {
		o.stopProvider(p)
	}
}

// abandonLocked stops a run whose caller gave up before a backend settled.
// Unlocks o.mu.
func (o *Orchestrator) abandonLocked(ctx context.Context) error {
	plan := o.beginStopLocked()
	o.mu.Unlock()
	o.logger.Info("start abandoned by caller", zap.Error(ctx.Err()))
	o.finishStop(context.Background(), plan)
	return ctx.Err()
}

// connectLive retries live.Start with exponential backoff; the whole attempt
// is bounded by ConnectTimeout.
func (o *Orchestrator) connectLive(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.InitialBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.cfg.ConnectAttempts-1)), ctx)

	start := time.Now()
	err := backoff.RetryNotify(func() error {
		err := o.startBounded(ctx, o.live)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		o.logger.Debug("live connect attempt failed", zap.Error(err), zap.Duration("retry_in", wait))
	})
	o.obs.ObserveLatency(ports.MetricLiveConnectTime, time.Since(start).Seconds())
	return err
}

// startBounded returns when p.Start does or ctx ends. A Start that succeeds
// after ctx ended is undone.
func (o *Orchestrator) startBounded(ctx context.Context, p ports.Provider) error {
	errCh := make(chan error, 1)
	go func() { errCh <- p.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-errCh; err == nil {
				o.stopProvider(p)
			}
		}()
		return ctx.Err()
	}
}

// onLiveDown runs on the live provider's delivery path and must return
// quickly; the failover itself happens on its own goroutine.
func (o *Orchestrator) onLiveDown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateLive {
		return
	}
	o.transitionLocked(StateFallingBack)
	o.wg.Add(1)
	go o.failover(o.runCtx, o.gen)
}

func (o *Orchestrator) failover(ctx context.Context, gen uint64) {
	defer o.wg.Done()

	o.logger.Warn("live connection lost, switching to simulated data")
	o.obs.IncCounter(ports.MetricFailovers, 1)
	o.stopProvider(o.live)

	o.mu.Lock()
	if o.gen != gen || o.state != StateFallingBack {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	err := o.sim.Start(ctx)

	o.mu.Lock()
	if o.gen != gen || o.state != StateFallingBack {
		o.releaseStaleLocked(o.sim, err == nil)
		return
	}
	if err != nil {
		o.transitionLocked(StateFailed)
		st := o.setStatusLocked(false, domain.ModeDisconnected, msgFailoverFailed)
		o.mu.Unlock()
		o.obs.LogCritical("failover_failed", err)
		o.publish(st)
		return
	}
	o.transitionLocked(StateSimulated)
	st := o.setStatusLocked(true, domain.ModeSimulated, msgFailover)
	o.startProbeLocked()
	o.mu.Unlock()

	o.publish(st)
}

// startProbeLocked launches the live recovery loop when it is enabled.
func (o *Orchestrator) startProbeLocked() {
	if o.live == nil || o.cfg.RetryInterval <= 0 || o.probing || o.cancel == nil {
		return
	}
	o.probing = true
	o.wg.Add(1)
	go o.probeLive(o.runCtx, o.gen)
}

func (o *Orchestrator) probeLive(ctx context.Context, gen uint64) {
	defer o.wg.Done()
	handedOff := false
	defer func() {
		if handedOff {
			return
		}
		o.mu.Lock()
		if o.gen == gen {
			o.probing = false
		}
		o.mu.Unlock()
	}()

	ticker := time.NewTicker(o.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		current, state, breaker := o.gen == gen, o.state, o.breaker
		o.mu.Unlock()
		if !current || state != StateSimulated {
			return
		}

		_, err := breaker.Execute(func() (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
			defer cancel()
			return nil, o.startBounded(attemptCtx, o.live)
		})
		if err != nil {
			if !errors.Is(err, gobreaker.ErrOpenState) {
				o.logger.Debug("live recovery attempt failed", zap.Error(err))
			}
			continue
		}

		o.mu.Lock()
		if o.gen != gen || o.state != StateSimulated {
			o.releaseStaleLocked(o.live, true)
			return
		}
		o.transitionLocked(StateLive)
		o.probing = false
		handedOff = true
		st := o.setStatusLocked(true, domain.ModeLive, msgRecovered)
		o.mu.Unlock()

		o.stopProvider(o.sim)
		o.obs.IncCounter(ports.MetricLiveRecoveries, 1)
		o.logger.Info("live connection restored")
		o.publish(st)
		if !o.live.IsConnected() {
			o.onLiveDown()
		}
		return
	}
}

// Stop tears down whichever backend is active, drains the dispatch queue and
// publishes a Stopped status. It may be called while Start is in progress.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateUnstarted || o.state == StateStopped {
		o.mu.Unlock()
		return nil
	}
	plan := o.beginStopLocked()
	o.mu.Unlock()

	o.finishStop(ctx, plan)
	return nil
}

type stopPlan struct {
	cancel context.CancelFunc
	run    *dispatchRun
	status domain.ConnectionStatus
}

func (o *Orchestrator) beginStopLocked() stopPlan {
	plan := stopPlan{cancel: o.cancel, run: o.dispatch}
	o.cancel = nil
	o.runCtx = nil
	o.dispatch = nil
	o.probing = false
	o.transitionLocked(StateStopped)
	plan.status = o.setStatusLocked(false, domain.ModeStopped, msgStopped)
	return plan
}

func (o *Orchestrator) finishStop(ctx context.Context, plan stopPlan) {
	if plan.cancel != nil {
		plan.cancel()
	}
	if o.live != nil {
		o.stopProvider(o.live)
	}
	o.stopProvider(o.sim)

	waitCtx, waitCancel := context.WithTimeout(ctx, o.cfg.StopTimeout)
	defer waitCancel()
	if !waitGroup(waitCtx, &o.wg) {
		o.logger.Warn("background transitions still running after stop timeout")
	}

	if plan.run != nil {
		plan.run.cancel()
		select {
		case <-plan.run.done:
		case <-waitCtx.Done():
			o.logger.Warn("dispatcher did not drain before deadline")
		}
	}

	o.logger.Info("stopped")
	o.publish(plan.status)
}

// Close stops the orchestrator and detaches its relays from both providers.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.Stop(ctx)
	o.mu.Lock()
	subs := o.subs
	o.subs = nil
	o.mu.Unlock()
	for _, s := range subs {
		s.Dispose()
	}
	return err
}

func (o *Orchestrator) startDispatcher() *dispatchRun {
	ctx, cancel := context.WithCancel(context.Background())
	run := &dispatchRun{
		d:      pipeline.NewDispatcher(o.q, o.bus, o.pol, o.obs),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(run.done)
		run.d.Run(ctx)
	}()
	return run
}

// newBreaker guards recovery probes so a dead endpoint is not hammered.
func (o *Orchestrator) newBreaker() *gobreaker.CircuitBreaker {
	cfg := o.cfg.Breaker
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "live-recovery",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Info("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
}

// transitionLocked is the only place the active flags change.
func (o *Orchestrator) transitionLocked(next State) {
	prev := o.state
	o.state = next
	o.liveActive = next == StateLive
	o.simActive = next == StateSimulated
	o.obs.SetGauge(ports.MetricMode, modeGauge(next))
	if prev != next {
		o.logger.Debug("state transition", zap.Stringer("from", prev), zap.Stringer("to", next))
	}
}

func (o *Orchestrator) setStatusLocked(connected bool, mode domain.ConnectionMode, msg string) domain.ConnectionStatus {
	o.status = domain.NewConnectionStatus(connected, mode, msg, o.now())
	return o.status
}

func (o *Orchestrator) publish(st domain.ConnectionStatus) {
	eventbus.Publish(o.bus, st)
}

func (o *Orchestrator) stopProvider(p ports.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.StopTimeout)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		o.logger.Warn("provider stop failed", zap.String("provider", p.Name()), zap.Error(err))
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ ports.Provider = (*Orchestrator)(nil)
