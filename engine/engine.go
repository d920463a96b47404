package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegislights/controller/engine/analyzer"
	"github.com/aegislights/controller/engine/executor"
	intrat "github.com/aegislights/controller/engine/internal/ratelimit"
	telemEvents "github.com/aegislights/controller/engine/internal/telemetry/events"
	intmetrics "github.com/aegislights/controller/engine/internal/telemetry/metrics"
	inttelempolicy "github.com/aegislights/controller/engine/internal/telemetry/policy"
	telemetrytracing "github.com/aegislights/controller/engine/internal/telemetry/tracing"
	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/loopctl"
	"github.com/aegislights/controller/engine/monitor"
	"github.com/aegislights/controller/engine/planner"
	"github.com/aegislights/controller/engine/simulator"
	telemetryhealth "github.com/aegislights/controller/engine/telemetry/health"
	"github.com/aegislights/controller/engine/telemetry/logging"
	"github.com/aegislights/controller/engine/topology"
)

// Snapshot is a unified view of engine state, exposed for CLI/HTTP status
// endpoints.
type Snapshot struct {
	StartedAt time.Time          `json:"started_at"`
	Uptime    time.Duration      `json:"uptime"`
	Loop      loopctl.Metrics    `json:"loop"`
	Breaker   *LimiterSnapshot   `json:"breaker,omitempty"`
	Health    telemetryhealth.Snapshot `json:"health"`
}

// TelemetryEvent is a reduced, stable event representation for external
// observers.
type TelemetryEvent struct {
	Time     time.Time              `json:"time"`
	Category string                 `json:"category"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
	SpanID   string                 `json:"span_id,omitempty"`
	Labels   map[string]string      `json:"labels,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// EventObserver receives TelemetryEvent notifications.
type EventObserver func(ev TelemetryEvent)

// LimiterSnapshot is a public, reduced view of the simulator circuit
// breaker's internal state.
type LimiterSnapshot struct {
	TotalRequests    int64                `json:"total_requests"`
	Throttled        int64                `json:"throttled"`
	Denied           int64                `json:"denied"`
	OpenCircuits     int64                `json:"open_circuits"`
	HalfOpenCircuits int64                `json:"half_open_circuits"`
	Domains          []LimiterDomainState `json:"domains,omitempty"`
}

// LimiterDomainState summarizes one simulator endpoint class's recent
// breaker state.
type LimiterDomainState struct {
	Domain       string    `json:"domain"`
	FillRate     float64   `json:"fill_rate"`
	CircuitState string    `json:"circuit_state"`
	LastActivity time.Time `json:"last_activity"`
}

// Engine composes the Knowledge Base, the four MAPE-K stages, and the loop
// controller that drives them, behind a single facade (spec §4, §4.7).
type Engine struct {
	cfg Config

	graph   *graph.RuntimeGraph
	kb      knowledge.KnowledgeBase
	library *planner.Library

	simClient *simulator.Client
	breaker   *intrat.AdaptiveRateLimiter
	client    *breakerClient

	monitor  *monitor.Monitor
	analyzer *analyzer.Analyzer
	planner  *planner.Planner
	executor *executor.Executor
	loop     *loopctl.Loop

	log logging.Logger

	cfgWatcher *ConfigWatcher

	metricsProvider intmetrics.Provider
	eventBus        telemEvents.Bus
	tracer          telemetrytracing.Tracer
	healthEval      *telemetryhealth.Evaluator
	healthStatusGauge intmetrics.Gauge
	lastHealth        atomic.Value // stores telemetryhealth.Status as string

	telemetryPolicy atomic.Pointer[inttelempolicy.TelemetryPolicy]

	eventObserversMu sync.RWMutex
	eventObservers   []EventObserver

	started   atomic.Bool
	startedAt time.Time
}

// Re-export telemetry policy types: stable facade surface while the
// implementation stays internal.
type TelemetryPolicy = inttelempolicy.TelemetryPolicy
type HealthPolicy = inttelempolicy.HealthPolicy
type TracingPolicy = inttelempolicy.TracingPolicy
type EventBusPolicy = inttelempolicy.EventBusPolicy

// DefaultTelemetryPolicy returns the default normalized telemetry policy.
func DefaultTelemetryPolicy() TelemetryPolicy { return inttelempolicy.Default() }

func (e *Engine) Policy() TelemetryPolicy {
	if p := e.telemetryPolicy.Load(); p != nil {
		return *p
	}
	return inttelempolicy.Default()
}

// MetricsHandler returns the HTTP handler for metrics exposition (Prometheus
// backend only). Returns nil if metrics are disabled or the backend does not
// expose one.
func (e *Engine) MetricsHandler() http.Handler {
	if e == nil || e.metricsProvider == nil {
		return nil
	}
	if hp, ok := e.metricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// UpdateTelemetryPolicy atomically swaps the active policy. Nil input resets
// to defaults. Probes pick up new thresholds on the next Evaluate call.
func (e *Engine) UpdateTelemetryPolicy(p *TelemetryPolicy) {
	if e == nil {
		return
	}
	var snap inttelempolicy.TelemetryPolicy
	if p == nil {
		snap = inttelempolicy.Default()
	} else {
		snap = p.Normalize()
	}
	old := e.Policy()
	e.telemetryPolicy.Store(&snap)
	if old.Health.ProbeTTL != snap.Health.ProbeTTL && e.healthEval != nil {
		e.healthEval = telemetryhealth.NewEvaluator(snap.Health.ProbeTTL, e.healthProbes()...)
	}
}

// healthProbes returns fresh probe funcs referencing current engine state
// and the dynamic policy: loop cadence, rollback rate, and simulator
// reachability (spec §4.7, §4.6, §6).
func (e *Engine) healthProbes() []telemetryhealth.Probe {
	loopProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		if e.loop == nil {
			return telemetryhealth.Unknown("loop", "not started")
		}
		m := e.loop.Metrics()
		pol := e.Policy()
		if m.TotalCycles < int64(pol.Health.LoopMinCycles) {
			return telemetryhealth.Healthy("loop")
		}
		ratio := float64(m.TotalOverruns) / float64(m.TotalCycles)
		if ratio >= pol.Health.LoopUnhealthyOverrunRatio {
			return telemetryhealth.Unhealthy("loop", "cycle overrun ratio severe")
		}
		if ratio >= pol.Health.LoopDegradedOverrunRatio {
			return telemetryhealth.Degraded("loop", "cycle overrun ratio elevated")
		}
		return telemetryhealth.Healthy("loop")
	})
	rollbackProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		if e.loop == nil {
			return telemetryhealth.Unknown("rollback", "not started")
		}
		m := e.loop.Metrics()
		pol := e.Policy()
		if m.RecentRollbacks >= pol.Health.RollbackUnhealthyCount {
			return telemetryhealth.Unhealthy("rollback", "rollbacks recurring")
		}
		if m.RecentRollbacks >= pol.Health.RollbackDegradedCount {
			return telemetryhealth.Degraded("rollback", "rollback observed")
		}
		return telemetryhealth.Healthy("rollback")
	})
	simProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		if e.simClient == nil {
			return telemetryhealth.Unknown("simulator", "not configured")
		}
		if err := e.simClient.Health(ctx); err != nil {
			return telemetryhealth.Unhealthy("simulator", err.Error())
		}
		if e.breaker != nil {
			s := e.breaker.Snapshot()
			if s.OpenCircuits > 0 {
				return telemetryhealth.Degraded("simulator", "breaker circuit open")
			}
		}
		return telemetryhealth.Healthy("simulator")
	})
	return []telemetryhealth.Probe{loopProbe, rollbackProbe, simProbe}
}

// New constructs the Engine from cfg: it seeds the runtime graph from the
// configured (or reference) topology, opens the Knowledge Base, loads the
// phase library, wires the MAPE-K stages behind the configured simulator
// circuit breaker, and initializes the telemetry subsystems (spec §4, §11).
func New(cfg Config) (*Engine, error) {
	cfg = cfg.Normalize()

	g := graph.New()
	spec := topology.Reference()
	if cfg.Topology.Path != "" {
		loaded, err := topology.LoadFile(cfg.Topology.Path)
		if err != nil {
			return nil, err
		}
		spec = loaded
	}
	topology.Seed(g, spec)

	var kb knowledge.KnowledgeBase
	switch strings.ToLower(cfg.Knowledge.Driver) {
	case "memory":
		kb = knowledge.NewMemoryStore()
	default:
		store, err := knowledge.Open(cfg.Knowledge.Path)
		if err != nil {
			return nil, err
		}
		kb = store
	}

	var library *planner.Library
	if cfg.PhaseLibrary.Path != "" {
		loaded, err := planner.LoadLibraryFile(cfg.PhaseLibrary.Path)
		if err != nil {
			return nil, err
		}
		library = loaded
	} else {
		library = planner.ReferenceLibrary()
	}

	log := logging.New(slog.Default())

	simClient := simulator.New(cfg.Simulator.BaseURL)
	var breaker *intrat.AdaptiveRateLimiter
	if cfg.Simulator.CircuitBreaker {
		breaker = intrat.NewAdaptiveRateLimiter(cfg.toBreakerConfig())
	}
	client := newBreakerClient(simClient, breaker)

	mon := monitor.New(g, kb, client, log, cfg.Monitor)
	an := analyzer.New(g, kb, cfg.Analyzer)
	var rng *rand.Rand
	if cfg.RNGSeed != 0 {
		rng = rand.New(rand.NewSource(cfg.RNGSeed))
	}
	pl := planner.New(g, kb, library, rng, cfg.Planner)
	ex := executor.New(g, kb, library, client, log, cfg.Executor)

	e := &Engine{
		cfg: cfg, graph: g, kb: kb, library: library,
		simClient: simClient, breaker: breaker, client: client,
		monitor: mon, analyzer: an, planner: pl, executor: ex,
		log: log, startedAt: time.Now(),
	}

	e.metricsProvider = selectMetricsProvider(cfg)
	e.eventBus = telemEvents.NewBus(e.metricsProvider)
	e.tracer = telemetrytracing.NewAdaptiveTracer(func() float64 {
		return e.Policy().Tracing.SamplePercent
	})

	e.loop = loopctl.New(mon, an, pl, ex, kb, log, e.tracer, cfg.toLoopConfig())

	initialPolicy := inttelempolicy.Default()
	e.telemetryPolicy.Store(&initialPolicy)
	e.healthEval = telemetryhealth.NewEvaluator(initialPolicy.Health.ProbeTTL, e.healthProbes()...)
	if e.metricsProvider != nil {
		gauge := e.metricsProvider.NewGauge(intmetrics.GaugeOpts{CommonOpts: intmetrics.CommonOpts{
			Namespace: "aegislights", Subsystem: "health", Name: "status",
			Help: "Engine overall health status (1=healthy,0.5=degraded,0=unhealthy,-1=unknown)",
		}})
		if gauge != nil {
			e.healthStatusGauge = gauge
			gauge.Set(-1)
		}
	}

	return e, nil
}

// selectMetricsProvider returns a metrics.Provider based on Config.Telemetry.
func selectMetricsProvider(cfg Config) intmetrics.Provider {
	if !cfg.Telemetry.MetricsEnabled {
		return intmetrics.NewNoopProvider()
	}
	switch strings.ToLower(cfg.Telemetry.MetricsBackend) {
	case "", "prom", "prometheus":
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	case "otel", "opentelemetry":
		return intmetrics.NewOTelProvider(intmetrics.OTelProviderOptions{})
	case "noop":
		return intmetrics.NewNoopProvider()
	default:
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	}
}

// HealthSnapshot evaluates (or returns the TTL-cached) subsystem health and
// publishes a health_change event on transition.
func (e *Engine) HealthSnapshot(ctx context.Context) telemetryhealth.Snapshot {
	if e.healthEval == nil {
		return telemetryhealth.Snapshot{}
	}
	snap := e.healthEval.Evaluate(ctx)
	var val float64
	switch snap.Overall {
	case telemetryhealth.StatusHealthy:
		val = 1
	case telemetryhealth.StatusDegraded:
		val = 0.5
	case telemetryhealth.StatusUnhealthy:
		val = 0
	default:
		val = -1
	}
	if e.healthStatusGauge != nil {
		e.healthStatusGauge.Set(val)
	}
	prevRaw := e.lastHealth.Load()
	prev := ""
	if prevRaw != nil {
		prev = prevRaw.(string)
	}
	cur := string(snap.Overall)
	if prev != "" && prev != cur && e.eventBus != nil {
		iev := telemEvents.Event{Category: telemEvents.CategoryHealth, Type: "health_change", Severity: "info", Fields: map[string]interface{}{"previous": prev, "current": cur}}
		_ = e.eventBus.Publish(iev)
		e.dispatchEvent(iev)
	}
	e.lastHealth.Store(cur)
	return snap
}

// RegisterEventObserver adds an observer invoked synchronously for each
// internal telemetry event.
func (e *Engine) RegisterEventObserver(obs EventObserver) {
	if e == nil || obs == nil {
		return
	}
	e.eventObserversMu.Lock()
	e.eventObservers = append(e.eventObservers, obs)
	e.eventObserversMu.Unlock()
}

func (e *Engine) dispatchEvent(ev telemEvents.Event) {
	e.eventObserversMu.RLock()
	if len(e.eventObservers) == 0 {
		e.eventObserversMu.RUnlock()
		return
	}
	observers := append([]EventObserver(nil), e.eventObservers...)
	e.eventObserversMu.RUnlock()
	pub := TelemetryEvent{Time: ev.Time, Category: ev.Category, Type: ev.Type, Severity: ev.Severity, TraceID: ev.TraceID, SpanID: ev.SpanID, Labels: ev.Labels, Fields: ev.Fields}
	for _, o := range observers {
		func() { defer func() { _ = recover() }(); o(pub) }()
	}
}

// Start begins the MAPE-K loop in a background goroutine; the runtime graph
// is already seeded by New. Calls after the first are no-ops. Start does not
// watch the config file; WatchConfig does that separately.
func (e *Engine) Start(ctx context.Context) error {
	if e.started.Swap(true) {
		return nil
	}
	e.loop.Start(ctx)
	return nil
}

// WatchConfig begins watching the given config file for changes, invoking
// onChange with the freshly parsed Config on every write (spec_full §10.1).
// The caller decides what to do with the new Config (e.g. reload bandit
// exploration factor, hotspot percentile) since those knobs live on
// long-lived stage objects this facade owns.
func (e *Engine) WatchConfig(path string, onChange func(Config), onError func(error)) error {
	w, err := NewConfigWatcher(path)
	if err != nil {
		return err
	}
	if err := w.Start(onChange, onError); err != nil {
		return err
	}
	e.cfgWatcher = w
	return nil
}

// Stop gracefully stops the loop and underlying components. Idempotent.
func (e *Engine) Stop() error {
	if e.loop != nil {
		e.loop.Stop()
	}
	if e.cfgWatcher != nil {
		_ = e.cfgWatcher.Close()
	}
	if e.breaker != nil {
		_ = e.breaker.Close()
	}
	if e.kb != nil {
		return e.kb.Close()
	}
	return nil
}

// Snapshot returns a unified state view for status endpoints.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{StartedAt: e.startedAt}
	if snap.StartedAt.IsZero() {
		snap.StartedAt = time.Now()
	}
	snap.Uptime = time.Since(snap.StartedAt)
	if e.loop != nil {
		snap.Loop = e.loop.Metrics()
	}
	if e.breaker != nil {
		is := e.breaker.Snapshot()
		pub := LimiterSnapshot{TotalRequests: is.TotalRequests, Throttled: is.Throttled, Denied: is.Denied, OpenCircuits: is.OpenCircuits, HalfOpenCircuits: is.HalfOpenCircuits}
		for _, d := range is.Domains {
			pub.Domains = append(pub.Domains, LimiterDomainState{Domain: d.Domain, FillRate: d.FillRate, CircuitState: d.CircuitState, LastActivity: d.LastActivity})
		}
		snap.Breaker = &pub
	}
	snap.Health = e.HealthSnapshot(context.Background())
	return snap
}
