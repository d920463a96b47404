// Package executor implements the Executor stage: batch validation, apply,
// per-cycle metrics, and the rollback manager's degradation check.
package executor

import (
	"context"
	"time"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/planner"
	"github.com/aegislights/controller/engine/telemetry/logging"
)

// SignalClient is the simulator-facing dependency Executor applies plans
// through.
type SignalClient interface {
	ApplyPlan(ctx context.Context, intersection string, phaseID int) (bool, error)
}

// AppliedResult records one intersection's apply outcome.
type AppliedResult struct {
	Intersection string
	Success      bool
	Err          error
}

// Result is the per-cycle Executor output.
type Result struct {
	Cycle      int64
	Applied    []AppliedResult
	RolledBack bool
	Metrics    models.CycleMetrics
}

// Config carries the Executor-specific knobs (spec §6 config surface).
type Config struct {
	EnableRollback                   bool
	RollbackWindowSize               int
	PerformanceDegradationThreshold  float64
	EnforceRateOfChange              bool
	RateOfChangeLimits               RateOfChangeLimits
}

// Executor applies Planner's adaptations and tracks rollback state across
// cycles.
type Executor struct {
	graph    *graph.RuntimeGraph
	kb       knowledge.KnowledgeBase
	library  *planner.Library
	client   SignalClient
	log      logging.Logger
	rollback *rollbackManager
	cfg      Config
}

// New constructs an Executor bound to a Runtime Graph, Knowledge Base,
// phase library, and simulator client.
func New(g *graph.RuntimeGraph, kb knowledge.KnowledgeBase, library *planner.Library, client SignalClient, log logging.Logger, cfg Config) *Executor {
	return &Executor{
		graph:    g,
		kb:       kb,
		library:  library,
		client:   client,
		log:      log,
		rollback: newRollbackManager(cfg.RollbackWindowSize, cfg.PerformanceDegradationThreshold),
		cfg:      cfg,
	}
}

// Run executes one Executor cycle over the Planner's output.
func (ex *Executor) Run(ctx context.Context, cycle int64, pr planner.Result) (Result, error) {
	snap := ex.graph.Snapshot()

	var rateLimits *RateOfChangeLimits
	if ex.cfg.EnforceRateOfChange {
		rateLimits = &ex.cfg.RateOfChangeLimits
	}
	if err := validateBatch(snap, ex.library, pr.Adaptations, rateLimits); err != nil {
		ex.log.ErrorCtx(ctx, "executor: batch validation failed, aborting", "cycle", cycle, "err", err)
		return Result{Cycle: cycle}, err
	}

	var applied []AppliedResult
	for _, a := range pr.Adaptations {
		ok, err := ex.client.ApplyPlan(ctx, a.Intersection, a.PhaseID)
		if err != nil || !ok {
			ex.log.ErrorCtx(ctx, "executor: apply failed for intersection", "intersection", a.Intersection, "err", err)
			applied = append(applied, AppliedResult{Intersection: a.Intersection, Success: false, Err: err})
			continue
		}
		if err := ex.graph.ApplyPlan(a.Intersection, a.PlanID, a.Offset, a.CycleLength); err != nil {
			applied = append(applied, AppliedResult{Intersection: a.Intersection, Success: false, Err: err})
			continue
		}
		_ = ex.kb.InsertSignalConfiguration(ctx, cycle, a)
		_ = ex.kb.UpdateLastKnownGood(ctx, models.LastKnownGood{
			Intersection: a.Intersection, Cycle: cycle, PlanID: a.PlanID,
			PhaseID: a.PhaseID, Offset: a.Offset, CycleLength: a.CycleLength,
		})
		applied = append(applied, AppliedResult{Intersection: a.Intersection, Success: true})
	}

	metrics := ex.computeMetrics(cycle)
	_ = ex.kb.InsertPerformanceMetrics(ctx, metrics)

	rolledBack := false
	if ex.cfg.EnableRollback && ex.rollback.observe(metrics) {
		rolledBack = ex.performRollback(ctx, cycle, snap)
	}

	return Result{Cycle: cycle, Applied: applied, RolledBack: rolledBack, Metrics: metrics}, nil
}

// computeMetrics aggregates per-cycle network rollups over the live graph
// (spec §4.6): avg_delay, avg_queue, network_cost, total_spillbacks,
// utility_score.
func (ex *Executor) computeMetrics(cycle int64) models.CycleMetrics {
	snap := ex.graph.Snapshot()
	var sumDelay time.Duration
	var sumQueue, networkCost float64
	var spillbacks int
	var n int
	for _, e := range snap.Edges {
		sumDelay += e.Delay
		sumQueue += e.Queue
		networkCost += e.EdgeCost
		if e.SpillbackActive {
			spillbacks++
		}
		n++
	}
	var avgDelay time.Duration
	var avgQueue float64
	if n > 0 {
		avgDelay = sumDelay / time.Duration(n)
		avgQueue = sumQueue / float64(n)
	}
	return models.CycleMetrics{
		Cycle: cycle, Timestamp: time.Now(),
		AvgDelay: avgDelay, AvgQueue: avgQueue, NetworkCost: networkCost,
		TotalSpillbacks: spillbacks, UtilityScore: -networkCost,
	}
}

// performRollback re-applies every signalised intersection's last-known-good
// plan (spec §4.6 "Rollback action"). LKG itself is never overwritten by a
// rollback; if no LKG exists for an intersection that one is simply skipped.
func (ex *Executor) performRollback(ctx context.Context, cycle int64, snap graph.Snapshot) bool {
	var anyRolledBack bool
	for id, n := range snap.Nodes {
		if !n.Signalised() {
			continue
		}
		lkg, err := ex.kb.GetLastKnownGood(ctx, id)
		if err != nil || lkg == nil {
			continue
		}
		if _, err := ex.client.ApplyPlan(ctx, id, lkg.PhaseID); err != nil {
			ex.log.ErrorCtx(ctx, "executor: rollback apply failed", "intersection", id, "err", err)
			continue
		}
		_ = ex.graph.ApplyPlan(id, lkg.PlanID, lkg.Offset, lkg.CycleLength)
		anyRolledBack = true
	}
	_ = ex.kb.InsertCycleLog(ctx, cycle, "rollback", "degradation threshold exceeded, restored last-known-good")
	_ = ex.kb.LogDecision(ctx, knowledge.DecisionRecord{
		Cycle: cycle, Stage: "rollback", Type: "degradation_rollback",
		Reasoning: "moving-average utility fell below baseline by more than the degradation threshold",
	})
	return anyRolledBack
}
