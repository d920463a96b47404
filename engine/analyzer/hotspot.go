package analyzer

import (
	"sort"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/models"
)

// hotspots returns every edge whose cost is at or above the τ-th percentile
// of all current edge costs (spec §4.4). Ties (and the percentile cut point
// itself) break by insertion order of edgeIDs, which callers pass already
// sorted (graph.Snapshot.EdgeIDs()). Fewer than two priced edges yields none.
func hotspots(edgeIDs []string, costs map[string]float64, snap graph.Snapshot, percentile float64) []models.Hotspot {
	if len(costs) < 2 {
		return nil
	}
	sorted := make([]float64, 0, len(costs))
	for _, id := range edgeIDs {
		sorted = append(sorted, costs[id])
	}
	sort.Float64s(sorted)
	threshold := percentileValue(sorted, percentile)

	var out []models.Hotspot
	for _, id := range edgeIDs {
		cost := costs[id]
		if cost >= threshold {
			e := snap.Edges[id]
			out = append(out, models.Hotspot{EdgeFrom: e.From, EdgeTo: e.To, Cost: cost})
		}
	}
	return out
}

// percentileValue uses linear interpolation between closest ranks, the
// common nearest-rank-with-interpolation definition.
func percentileValue(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
