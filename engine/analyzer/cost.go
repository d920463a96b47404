package analyzer

import (
	"sync"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/models"
)

// EdgeCost computes the scalar cost of one edge under the given coefficients
// (spec §4.4): cost = a·delay + b·queue + c·S·spillback + d·I·incident.
func EdgeCost(e models.Edge, c models.CostCoefficients) float64 {
	cost := c.A*e.Delay.Seconds() + c.B*e.Queue
	if e.SpillbackActive {
		cost += c.C * models.SpillbackPenaltyMagnitude
	}
	if e.IncidentActive {
		cost += c.D * models.IncidentPenaltyMagnitude
	}
	return cost
}

// costHistory is a bounded per-edge deque of recent costs, used only for
// trend estimation (spec §4.4: "window H ≈ 10").
type costHistory struct {
	mu       sync.Mutex
	capacity int
	byEdge   map[string][]float64
}

func newCostHistory(capacity int) *costHistory {
	if capacity <= 0 {
		capacity = 10
	}
	return &costHistory{capacity: capacity, byEdge: make(map[string][]float64)}
}

func (h *costHistory) push(edgeID string, cost float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := append(h.byEdge[edgeID], cost)
	if len(s) > h.capacity {
		s = s[len(s)-h.capacity:]
	}
	h.byEdge[edgeID] = s
}

func (h *costHistory) get(edgeID string) []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.byEdge[edgeID]
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// recomputeCosts writes EdgeCost back onto every edge in the snapshot and
// onto the live graph, returning the per-edge cost map.
func recomputeCosts(g *graph.RuntimeGraph, snap graph.Snapshot, coeffs models.CostCoefficients) map[string]float64 {
	costs := make(map[string]float64, len(snap.Edges))
	for id, e := range snap.Edges {
		cost := EdgeCost(e, coeffs)
		costs[id] = cost
		g.SetEdgeCost(e.From, e.To, cost)
	}
	return costs
}
