package plantpulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/mqtt"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/observability"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/opcua"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/adapters/simulator"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/app/orchestrator"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// Option customizes the dependencies used by Runtime.
type Option func(*runtimeOverrides)

type runtimeOverrides struct {
	logger     *zap.Logger
	registry   *prometheus.Registry
	obs        ports.Observability
	liveClient ports.LiveClient
	randSource rand.Source
	sim        ports.Provider
	live       ports.Provider
	publisher  MQTTPublisher
}

// WithLogger replaces the logger built from Config.Log.
func WithLogger(l *zap.Logger) Option {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithRegistry registers runtime metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) Option {
	return func(o *runtimeOverrides) {
		o.obs = obs
	}
}

// WithLiveClient swaps the OPC UA transport under the live provider.
func WithLiveClient(c LiveClient) Option {
	return func(o *runtimeOverrides) {
		o.liveClient = c
	}
}

// WithRandSource seeds the simulator explicitly, overriding Simulation.Seed.
func WithRandSource(src rand.Source) Option {
	return func(o *runtimeOverrides) {
		o.randSource = src
	}
}

// WithSimulatorProvider replaces the built-in simulator.
func WithSimulatorProvider(p Provider) Option {
	return func(o *runtimeOverrides) {
		o.sim = p
	}
}

// WithLiveProvider replaces the OPC UA provider, even when Config.Live has
// no endpoint.
func WithLiveProvider(p Provider) Option {
	return func(o *runtimeOverrides) {
		o.live = p
	}
}

// WithMQTTPublisher forwards events through an already connected publisher
// instead of dialing Config.MQTT.Broker.
func WithMQTTPublisher(p MQTTPublisher) Option {
	return func(o *runtimeOverrides) {
		o.publisher = p
	}
}

// Runtime wires the simulator, the optional live provider, the hybrid
// orchestrator, the MQTT bridge and the metrics server, and exposes
// lifecycle hooks for embedding the pipeline inside any Go service.
type Runtime struct {
	cfg       *Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	obs       ports.Observability
	sim       ports.Provider
	live      ports.Provider
	orch      *orchestrator.Orchestrator
	publisher MQTTPublisher

	mu         sync.Mutex
	started    bool
	bridge     *mqtt.Bridge
	metricsSrv *http.Server
	metricsLn  net.Listener
	serve      *errgroup.Group
}

// NewRuntime bootstraps the default adapters (simulator, OPC UA provider when
// an endpoint is configured, Prometheus observability). Options override any
// of them.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", domain.ErrConfiguration)
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	logger := overrides.logger
	if logger == nil {
		var err error
		logger, err = cfg.Log.NewLogger()
		if err != nil {
			return nil, err
		}
	}

	reg := overrides.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	obs := overrides.obs
	if obs == nil {
		obs = observability.NewPromObs(reg, logger)
	}

	sim := overrides.sim
	if sim == nil {
		simOpts := []simulator.Option{
			simulator.WithLogger(logger),
			simulator.WithObservability(obs),
		}
		if overrides.randSource != nil {
			simOpts = append(simOpts, simulator.WithRandSource(overrides.randSource))
		}
		p, err := simulator.NewProvider(cfg.Simulation, simOpts...)
		if err != nil {
			return nil, err
		}
		sim = p
	}

	live := overrides.live
	if live == nil && cfg.Live.Configured() {
		p, err := opcua.NewProvider(cfg.Live, overrides.liveClient,
			opcua.WithLogger(logger),
			opcua.WithObservability(obs),
		)
		if err != nil {
			return nil, err
		}
		live = p
	}

	orch, err := orchestrator.New(cfg.Orchestrator, sim, live,
		orchestrator.WithLogger(logger),
		orchestrator.WithObservability(obs),
		orchestrator.WithPolicy(cfg.Policy),
	)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		obs:       obs,
		sim:       sim,
		live:      live,
		orch:      orch,
		publisher: overrides.publisher,
	}, nil
}

// Events is the bus carrying the orchestrator's merged output.
func (r *Runtime) Events() *Bus { return r.orch.Events() }

// Status is the most recent ConnectionStatus published by the orchestrator.
func (r *Runtime) Status() ConnectionStatus { return r.orch.Status() }

func (r *Runtime) State() State { return r.orch.State() }

// Provider exposes the orchestrator as a plain Provider.
func (r *Runtime) Provider() Provider { return r.orch }

// Registry holds every metric the runtime records.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

// MetricsAddr is the bound metrics listener address, or "" when the server is
// not running.
func (r *Runtime) MetricsAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metricsLn == nil {
		return ""
	}
	return r.metricsLn.Addr().String()
}

// Start brings up the metrics server, the MQTT bridge and the orchestrator.
// It returns once the orchestrator has settled on live or simulated data;
// call Run to block on a context instead.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	r.serve = new(errgroup.Group)
	if r.cfg.Metrics.Enabled() {
		if err := r.startMetrics(); err != nil {
			return err
		}
	}

	if err := r.attachBridge(ctx); err != nil {
		r.abortLocked()
		return err
	}

	if err := r.orch.Start(ctx); err != nil {
		r.abortLocked()
		return err
	}
	r.started = true
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled or the metrics
// server fails, then shuts down gracefully.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}

	var serveDone chan error
	r.mu.Lock()
	if r.metricsSrv != nil {
		serveDone = make(chan error, 1)
		g := r.serve
		go func() { serveDone <- g.Wait() }()
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-serveDone:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.StopTimeout())
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the orchestrator, the MQTT bridge and the metrics server.
// The runtime may be started again afterwards.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.teardownLocked(ctx)
	r.started = false
	return err
}

// abortLocked undoes a partial Start. The caller's ctx may already be done,
// so teardown gets its own deadline.
func (r *Runtime) abortLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StopTimeout())
	defer cancel()
	if err := r.teardownLocked(ctx); err != nil {
		r.logger.Warn("cleanup after failed start", zap.Error(err))
	}
}

func (r *Runtime) teardownLocked(ctx context.Context) error {
	var errs []error

	if err := r.orch.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if r.bridge != nil {
		r.bridge.Close()
		r.bridge = nil
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		if err := r.serve.Wait(); err != nil {
			errs = append(errs, err)
		}
		r.metricsSrv = nil
		r.metricsLn = nil
	}

	return errors.Join(errs...)
}

func (r *Runtime) attachBridge(ctx context.Context) error {
	switch {
	case r.publisher != nil:
		r.bridge = mqtt.NewBridge(r.cfg.MQTT, r.publisher, r.logger, mqtt.WithObservability(r.obs))
	case r.cfg.MQTT.Enabled():
		b, err := mqtt.Dial(ctx, r.cfg.MQTT, r.logger, mqtt.WithObservability(r.obs))
		if err != nil {
			return err
		}
		r.bridge = b
	default:
		return nil
	}
	r.bridge.Attach(r.orch.Events())
	return nil
}

func (r *Runtime) startMetrics() error {
	ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener %s: %w", r.cfg.Metrics.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	mux.HandleFunc("/healthz", r.healthz)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.metricsSrv = srv
	r.metricsLn = ln

	r.serve.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server exited", zap.Error(err))
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	r.logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

type healthReport struct {
	State     string `json:"state"`
	Mode      string `json:"mode"`
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

// healthz answers 503 once the orchestrator has failed; every other state,
// including simulated fallback, is healthy.
func (r *Runtime) healthz(w http.ResponseWriter, _ *http.Request) {
	st := r.orch.Status()
	state := r.orch.State()
	code := http.StatusOK
	if state == orchestrator.StateFailed {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthReport{
		State:     state.String(),
		Mode:      string(st.Mode),
		Connected: st.IsConnected,
		Message:   st.Message,
	})
}
