// Package planner implements the Planner stage: selection-set derivation,
// per-intersection context vectors, incident-mode and contextual-bandit plan
// selection, and coordination offset propagation.
package planner

import (
	"context"
	"math/rand"
	"sort"

	"github.com/aegislights/controller/engine/analyzer"
	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
)

// Config carries the Planner-specific knobs (spec §6 config surface).
type Config struct {
	BanditAlgorithm     Algorithm
	ExplorationFactor   float64
	IncidentModeEnabled bool
	CoordinationEnabled bool
}

// Result is the per-cycle Planner output threaded into Executor.
type Result struct {
	Cycle            int64
	Adaptations      []models.Adaptation
	IsIncidentMode   bool
	NumIntersections int
}

// Planner selects a plan for every affected (or, absent any, every
// signalised) intersection each cycle.
type Planner struct {
	graph   *graph.RuntimeGraph
	kb      knowledge.KnowledgeBase
	library *Library
	rng     *rand.Rand
	cfg     Config
}

// New constructs a Planner bound to a Runtime Graph, Knowledge Base, and
// phase library.
func New(g *graph.RuntimeGraph, kb knowledge.KnowledgeBase, library *Library, rng *rand.Rand, cfg Config) *Planner {
	if cfg.BanditAlgorithm == "" {
		cfg.BanditAlgorithm = AlgorithmUCB
	}
	if cfg.ExplorationFactor <= 0 {
		cfg.ExplorationFactor = 0.2
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Planner{graph: g, kb: kb, library: library, rng: rng, cfg: cfg}
}

// Run executes one Planner cycle over the Analyzer's output.
func (p *Planner) Run(ctx context.Context, cycle int64, ar analyzer.Result) (Result, error) {
	snap := p.graph.Snapshot()
	selection := selectionSet(snap, ar)
	isIncidentMode := p.cfg.IncidentModeEnabled && len(ar.Incidents) > 0

	var adaptations []models.Adaptation
	for _, intersection := range selection {
		plans := p.library.PlansFor(intersection)
		if len(plans) == 0 {
			continue
		}

		var chosen models.PhaseLibraryEntry
		var reasoning string
		if isIncidentMode {
			ictx := classifyIncidentContext(intersection, ar.Bypasses, ar.Incidents, func(id string) []string { return snap.Neighbors(id) })
			chosen = preferredPlan(plans, ictx)
			reasoning = "incident_mode"
		} else {
			planIDs := planIDsOf(plans)
			armID, _, err := selectArm(ctx, p.kb, p.rng, p.cfg.BanditAlgorithm, p.cfg.ExplorationFactor, intersection, planIDs)
			if err != nil {
				return Result{}, err
			}
			chosen, _ = p.library.Get(armID)
			reasoning = string(p.cfg.BanditAlgorithm)
		}

		adaptations = append(adaptations, models.Adaptation{
			Intersection: intersection,
			PlanID:       chosen.PlanID,
			PhaseID:      chosen.PhaseID,
			CycleLength:  chosen.CycleLength,
			Reasoning:    reasoning,
		})

		cv := buildContextVector(snap, ar, intersection)
		_ = p.kb.LogDecision(ctx, knowledge.DecisionRecord{
			Cycle: cycle, Stage: "plan", Type: "select_arm",
			Reasoning: reasoning,
			Context: map[string]any{
				"intersection": intersection,
				"plan_id":      chosen.PlanID,
				"avg_queue":    cv.AvgQueue,
				"avg_delay":    cv.AvgDelay,
				"has_hotspot":  cv.HasHotspot,
				"has_incident": cv.HasIncident,
				"num_bypasses": cv.NumBypasses,
			},
		})
	}

	if p.cfg.CoordinationEnabled {
		applyCoordinationOffsets(snap, ar.CoordinationGroups, adaptations)
	}

	_ = p.kb.LogDecision(ctx, knowledge.DecisionRecord{
		Cycle: cycle, Stage: "plan", Type: "select_plans",
		Reasoning: "selection-set plan + offset propagation",
		Context: map[string]any{
			"num_intersections": len(adaptations),
			"incident_mode":     isIncidentMode,
		},
	})

	return Result{Cycle: cycle, Adaptations: adaptations, IsIncidentMode: isIncidentMode, NumIntersections: len(adaptations)}, nil
}

// selectionSet starts from affected intersections, adds coordination-group
// members and incident `from` endpoints, restricts to signalised nodes, and falls
// back to every signalised intersection if empty (spec §4.5).
func selectionSet(snap graph.Snapshot, ar analyzer.Result) []string {
	set := make(map[string]bool)
	for _, id := range ar.Targets.AffectedIntersections {
		set[id] = true
	}
	for _, g := range ar.CoordinationGroups {
		for _, m := range g.Members {
			set[m] = true
		}
	}
	for _, inc := range ar.Incidents {
		set[inc.From] = true
	}

	var selected []string
	for id := range set {
		if n, ok := snap.Nodes[id]; ok && n.Signalised() {
			selected = append(selected, id)
		}
	}
	if len(selected) == 0 {
		for id, n := range snap.Nodes {
			if n.Signalised() {
				selected = append(selected, id)
			}
		}
	}
	sort.Strings(selected)
	return selected
}

func planIDsOf(plans []models.PhaseLibraryEntry) []string {
	ids := make([]string, len(plans))
	for i, p := range plans {
		ids[i] = p.PlanID
	}
	return ids
}

func applyCoordinationOffsets(snap graph.Snapshot, groups []models.CoordinationGroup, adaptations []models.Adaptation) {
	planned := make(map[string]int, len(adaptations))
	for i, a := range adaptations {
		planned[a.Intersection] = i
	}
	for _, group := range groups {
		if len(group.Members) < 2 {
			continue
		}
		offsets := propagateOffsets(snap, group)
		for intersection, offset := range offsets {
			if i, ok := planned[intersection]; ok {
				adaptations[i].Offset = offset
			}
		}
	}
}
