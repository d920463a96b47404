// Package loopctl drives the Monitor -> Analyze -> Plan -> Execute cycle on
// a fixed period, observing cancellation at every stage boundary.
package loopctl

import (
	"context"
	"sync"
	"time"

	"github.com/aegislights/controller/engine/analyzer"
	"github.com/aegislights/controller/engine/executor"
	internaltracing "github.com/aegislights/controller/engine/internal/telemetry/tracing"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/monitor"
	"github.com/aegislights/controller/engine/planner"
	"github.com/aegislights/controller/engine/ratelimit"
	"github.com/aegislights/controller/engine/telemetry/logging"
)

// CycleResult is a summary of one pass through the loop, retained for the
// last N cycles and exposed for health/metrics reporting.
type CycleResult struct {
	Cycle     int64
	StartedAt time.Time
	Duration  time.Duration
	Overrun   bool
	Monitor   monitor.Result
	Analyzer  analyzer.Result
	Planner   planner.Result
	Executor  executor.Result
	Err       error
}

// Metrics is an aggregate snapshot across all cycles run so far.
type Metrics struct {
	TotalCycles     int64
	TotalOverruns   int64
	TotalRollbacks  int64
	RecentRollbacks int // rollbacks observed within the last RollbackWindow cycles
	StartTime       time.Time
	Duration        time.Duration
	LastCycle       CycleResult
}

// Config holds the loop's scheduling and stage knobs.
type Config struct {
	CyclePeriod time.Duration
	MaxDuration time.Duration // 0 = run until Stop/ctx cancellation
	// RollbackWindow bounds how many recent cycles Metrics.RecentRollbacks
	// considers (health-probe windowing, spec §4.6). Defaults to 20.
	RollbackWindow int
}

// Loop sequences the MAPE-K stages once per cycle period.
type Loop struct {
	monitor  *monitor.Monitor
	analyzer *analyzer.Analyzer
	planner  *planner.Planner
	executor *executor.Executor
	kb       knowledge.KnowledgeBase
	log      logging.Logger
	tracer   internaltracing.Tracer
	clock    ratelimit.Clock
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	metrics         Metrics
	rollbackHistory []bool
}

// New constructs a Loop bound to the four MAPE-K stages. tracer may be nil,
// in which case the loop runs unsampled (internaltracing.NewTracer(false)).
func New(m *monitor.Monitor, a *analyzer.Analyzer, p *planner.Planner, ex *executor.Executor, kb knowledge.KnowledgeBase, log logging.Logger, tracer internaltracing.Tracer, cfg Config) *Loop {
	if cfg.CyclePeriod <= 0 {
		cfg.CyclePeriod = 5 * time.Second
	}
	if tracer == nil {
		tracer = internaltracing.NewTracer(false)
	}
	return &Loop{
		monitor: m, analyzer: a, planner: p, executor: ex, kb: kb, log: log,
		tracer: tracer,
		clock:  ratelimit.New(), cfg: cfg,
		metrics: Metrics{StartTime: time.Now()},
	}
}

// WithClock overrides the clock used for sleeps, for deterministic tests.
func (l *Loop) WithClock(clock ratelimit.Clock) *Loop {
	l.clock = clock
	return l
}

// Start runs the loop in a background goroutine until Stop is called, ctx is
// cancelled, or MaxDuration elapses.
func (l *Loop) Start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run()
}

// Stop cancels the loop and blocks until the in-flight cycle finishes.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// Metrics returns a snapshot copy of the loop's aggregate counters.
func (l *Loop) Metrics() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := l.metrics
	cp.Duration = time.Since(cp.StartTime)
	return cp
}

func (l *Loop) run() {
	defer l.wg.Done()
	var deadline <-chan time.Time
	if l.cfg.MaxDuration > 0 {
		timer := time.NewTimer(l.cfg.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	var cycle int64
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-deadline:
			l.cancel()
			return
		default:
		}

		cycle++
		started := time.Now()
		result := l.runCycle(l.ctx, cycle)
		result.StartedAt = started
		result.Duration = time.Since(started)
		result.Overrun = result.Duration > l.cfg.CyclePeriod
		if result.Overrun {
			l.log.ErrorCtx(l.ctx, "loopctl: cycle overran period", "cycle", cycle, "duration", result.Duration, "period", l.cfg.CyclePeriod)
		}
		l.recordCycle(result)

		sleep := l.cfg.CyclePeriod - result.Duration
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-l.ctx.Done():
			return
		default:
			l.clock.Sleep(sleep)
		}
	}
}

// runCycle executes one MONITOR -> ANALYZE -> PLAN -> EXECUTE ->
// REWARD_UPDATE pass, checking for cancellation between every stage. Each
// stage runs inside a child span of one per-cycle root span, so
// logging.InfoCtx/ErrorCtx calls threaded with the returned context carry
// correlated trace/span ids (spec_full §10.2, §11).
func (l *Loop) runCycle(ctx context.Context, cycle int64) CycleResult {
	ctx, cycleSpan := l.tracer.StartSpan(ctx, "mape_cycle")
	defer cycleSpan.End()

	if ctx.Err() != nil {
		return CycleResult{Cycle: cycle, Err: ctx.Err()}
	}
	monCtx, monSpan := l.tracer.StartSpan(ctx, "monitor")
	mr := l.monitor.Run(monCtx, cycle)
	monSpan.End()

	if ctx.Err() != nil {
		return CycleResult{Cycle: cycle, Monitor: mr, Err: ctx.Err()}
	}
	anCtx, anSpan := l.tracer.StartSpan(ctx, "analyze")
	ar := l.analyzer.Run(anCtx, cycle, mr)
	anSpan.End()

	if ctx.Err() != nil {
		return CycleResult{Cycle: cycle, Monitor: mr, Analyzer: ar, Err: ctx.Err()}
	}
	plCtx, plSpan := l.tracer.StartSpan(ctx, "plan")
	pr, err := l.planner.Run(plCtx, cycle, ar)
	plSpan.End()
	if err != nil {
		l.log.ErrorCtx(ctx, "loopctl: planner failed, skipping execute", "cycle", cycle, "err", err)
		return CycleResult{Cycle: cycle, Monitor: mr, Analyzer: ar, Planner: pr, Err: err}
	}

	if ctx.Err() != nil {
		return CycleResult{Cycle: cycle, Monitor: mr, Analyzer: ar, Planner: pr, Err: ctx.Err()}
	}
	exCtx, exSpan := l.tracer.StartSpan(ctx, "execute")
	er, err := l.executor.Run(exCtx, cycle, pr)
	exSpan.End()
	if err != nil {
		l.log.ErrorCtx(ctx, "loopctl: executor failed", "cycle", cycle, "err", err)
		return CycleResult{Cycle: cycle, Monitor: mr, Analyzer: ar, Planner: pr, Executor: er, Err: err}
	}

	l.updateRewards(ctx, pr, er)

	return CycleResult{Cycle: cycle, Monitor: mr, Analyzer: ar, Planner: pr, Executor: er}
}

// updateRewards feeds each planned adaptation's outcome back to its bandit
// arm: reward = -network_cost - 10*spillback_count, evaluated against this
// cycle's network-wide metrics (spec §4.6 / §4.5 feedback loop).
func (l *Loop) updateRewards(ctx context.Context, pr planner.Result, er executor.Result) {
	for _, a := range pr.Adaptations {
		if err := planner.UpdateArm(ctx, l.kb, a.Intersection, a.PlanID, er.Metrics.NetworkCost, er.Metrics.TotalSpillbacks); err != nil {
			l.log.ErrorCtx(ctx, "loopctl: bandit reward update failed", "intersection", a.Intersection, "err", err)
		}
	}
}

func (l *Loop) recordCycle(result CycleResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.TotalCycles++
	if result.Overrun {
		l.metrics.TotalOverruns++
	}
	if result.Executor.RolledBack {
		l.metrics.TotalRollbacks++
	}
	window := l.cfg.RollbackWindow
	if window <= 0 {
		window = 20
	}
	l.rollbackHistory = append(l.rollbackHistory, result.Executor.RolledBack)
	if len(l.rollbackHistory) > window {
		l.rollbackHistory = l.rollbackHistory[len(l.rollbackHistory)-window:]
	}
	recent := 0
	for _, r := range l.rollbackHistory {
		if r {
			recent++
		}
	}
	l.metrics.RecentRollbacks = recent
	l.metrics.LastCycle = result
}
