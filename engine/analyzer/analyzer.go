// Package analyzer implements the Analyzer stage: edge costing, hotspot
// detection, k-shortest bypass search, trend estimation, and coordination
// clustering over a point-in-time graph snapshot.
package analyzer

import (
	"context"
	"sort"
	"time"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/monitor"
)

// Targets is the derived throttle/favor/affected set consumed by Planner.
type Targets struct {
	ThrottleEdges         []string
	FavorEdges            []string
	AffectedIntersections []string
	AdaptationNeeded      bool
}

// Result is the per-cycle Analyzer output threaded into Planner.
type Result struct {
	Cycle              int64
	EdgeCosts          map[string]float64
	Hotspots           []models.Hotspot
	Bypasses           []models.Bypass
	Trends             []models.Trend
	Incidents          []models.Incident
	Targets            Targets
	CoordinationGroups []models.CoordinationGroup
	AvgCost            float64
	MaxCost            float64
}

// Config carries the Analyzer-specific knobs (spec §6 config surface).
type Config struct {
	HotspotPercentile   float64
	KShortestPaths      int
	TrendAlpha          float64
	CoordinationEnabled bool
	CoordinationCutoff  int
	CostHistoryWindow   int
}

// Analyzer owns the per-edge cost history used for trend estimation; it reads
// the current cost coefficients from the Knowledge Base on every Run.
type Analyzer struct {
	graph    *graph.RuntimeGraph
	kb       knowledge.KnowledgeBase
	history  *costHistory
	cfg      Config
}

// New constructs an Analyzer bound to a Runtime Graph and Knowledge Base.
func New(g *graph.RuntimeGraph, kb knowledge.KnowledgeBase, cfg Config) *Analyzer {
	if cfg.HotspotPercentile <= 0 {
		cfg.HotspotPercentile = 0.7
	}
	if cfg.KShortestPaths <= 0 {
		cfg.KShortestPaths = 3
	}
	if cfg.TrendAlpha <= 0 || cfg.TrendAlpha >= 1 {
		cfg.TrendAlpha = defaultTrendAlpha
	}
	if cfg.CoordinationCutoff <= 0 {
		cfg.CoordinationCutoff = defaultCoordinationCutoff
	}
	return &Analyzer{
		graph:   g,
		kb:      kb,
		history: newCostHistory(cfg.CostHistoryWindow),
		cfg:     cfg,
	}
}

// Run executes one Analyzer cycle over the Monitor's output.
func (a *Analyzer) Run(ctx context.Context, cycle int64, monitorResult monitor.Result) Result {
	coeffs, err := a.kb.GetCostCoefficients(ctx)
	if err != nil {
		coeffs = models.DefaultCostCoefficients()
	}

	snap := a.graph.Snapshot()
	edgeIDs := snap.EdgeIDs()
	costs := recomputeCosts(a.graph, snap, coeffs)

	var sum, max float64
	for _, id := range edgeIDs {
		c := costs[id]
		a.history.push(id, c)
		sum += c
		if c > max {
			max = c
		}
	}
	var avg float64
	if len(edgeIDs) > 0 {
		avg = sum / float64(len(edgeIDs))
	}

	hot := hotspots(edgeIDs, costs, snap, a.cfg.HotspotPercentile)
	bp := bypasses(snap, costs, hot, a.cfg.KShortestPaths)

	var trends []models.Trend
	for _, id := range edgeIDs {
		e := snap.Edges[id]
		if t, ok := trendFor(e.From, e.To, a.history.get(id), a.cfg.TrendAlpha); ok {
			trends = append(trends, t)
		}
	}

	incidents := incidentsFromMonitor(monitorResult)
	targets := computeTargets(hot, incidents, bp)

	var groups []models.CoordinationGroup
	if a.cfg.CoordinationEnabled && len(targets.AffectedIntersections) >= 2 {
		groups = coordinationGroups(snap, targets.AffectedIntersections, a.cfg.CoordinationCutoff)
	}

	result := Result{
		Cycle: cycle, EdgeCosts: costs, Hotspots: hot, Bypasses: bp, Trends: trends,
		Incidents: incidents, Targets: targets, CoordinationGroups: groups,
		AvgCost: avg, MaxCost: max,
	}

	_ = a.kb.LogDecision(ctx, knowledge.DecisionRecord{
		Cycle: cycle, Stage: "analyze", Type: "edge_costing",
		Reasoning: "hotspot/bypass/trend/coordination pass",
		Context: map[string]any{
			"num_hotspots":    len(hot),
			"num_bypasses":    len(bp),
			"num_groups":      len(groups),
			"adaptation_needed": targets.AdaptationNeeded,
		},
	})

	return result
}

// incidentsFromMonitor lifts every incident-flagged anomaly to an Incident
// record with a severity derived from its delay (spec §4.4).
func incidentsFromMonitor(mr monitor.Result) []models.Incident {
	var out []models.Incident
	for _, an := range mr.Anomalies {
		if an.Kind != monitor.AnomalyIncident {
			continue
		}
		severity := "medium"
		if an.Delay > 15 {
			severity = "high"
		}
		out = append(out, models.Incident{
			From: an.From, To: an.To,
			Delay: time.Duration(an.Delay * float64(time.Second)),
			Queue: an.Queue, Severity: severity,
		})
	}
	return out
}

func computeTargets(hot []models.Hotspot, incidents []models.Incident, bp []models.Bypass) Targets {
	hotspotSet := make(map[string]bool, len(hot))
	throttleSet := make(map[string]bool)
	var throttle []string
	for _, h := range hot {
		id := models.EdgeID(h.EdgeFrom, h.EdgeTo)
		hotspotSet[id] = true
		if !throttleSet[id] {
			throttleSet[id] = true
			throttle = append(throttle, id)
		}
	}
	for _, inc := range incidents {
		id := models.EdgeID(inc.From, inc.To)
		if !throttleSet[id] {
			throttleSet[id] = true
			throttle = append(throttle, id)
		}
	}

	favorSet := make(map[string]bool)
	var favor []string
	for _, p := range bp {
		for _, edgeID := range p.Path {
			if hotspotSet[edgeID] || favorSet[edgeID] {
				continue
			}
			favorSet[edgeID] = true
			favor = append(favor, edgeID)
		}
	}

	affectedSet := make(map[string]bool)
	var affected []string
	for _, h := range hot {
		if !affectedSet[h.EdgeFrom] {
			affectedSet[h.EdgeFrom] = true
			affected = append(affected, h.EdgeFrom)
		}
	}
	for _, inc := range incidents {
		if !affectedSet[inc.From] {
			affectedSet[inc.From] = true
			affected = append(affected, inc.From)
		}
	}
	sort.Strings(affected)

	return Targets{
		ThrottleEdges:         throttle,
		FavorEdges:            favor,
		AffectedIntersections: affected,
		AdaptationNeeded:      len(throttle) > 0 || len(favor) > 0,
	}
}
