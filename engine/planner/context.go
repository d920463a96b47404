package planner

import (
	"github.com/aegislights/controller/engine/analyzer"
	"github.com/aegislights/controller/engine/graph"
)

// ContextVector is the per-intersection feature set spec §4.5 defines,
// aggregated over the intersection's outgoing edges. It isn't consumed by
// the UCB/Thompson formulas directly (those are pure reward-history
// bandits), but is kept available for diagnostics and for richer selection
// rules layered on top later.
type ContextVector struct {
	AvgQueue     float64
	MaxQueue     float64
	AvgDelay     float64
	MaxDelay     float64
	AvgEdgeCost  float64
	MaxEdgeCost  float64
	HasHotspot   bool
	HasIncident  bool
	NumBypasses  int
	NetworkAvgCost float64
}

func buildContextVector(snap graph.Snapshot, ar analyzer.Result, intersection string) ContextVector {
	cv := ContextVector{NetworkAvgCost: ar.AvgCost}

	hotspotEdges := make(map[string]bool, len(ar.Hotspots))
	for _, h := range ar.Hotspots {
		hotspotEdges[h.EdgeFrom+h.EdgeTo] = true
	}
	incidentEdges := make(map[string]bool, len(ar.Incidents))
	for _, inc := range ar.Incidents {
		incidentEdges[inc.From+inc.To] = true
	}

	var n int
	for _, edgeID := range outgoingEdgeIDs(snap, intersection) {
		e, ok := snap.Edges[edgeID]
		if !ok {
			continue
		}
		cv.AvgQueue += e.Queue
		cv.AvgDelay += e.Delay.Seconds()
		cv.AvgEdgeCost += e.EdgeCost
		if e.Queue > cv.MaxQueue {
			cv.MaxQueue = e.Queue
		}
		if e.Delay.Seconds() > cv.MaxDelay {
			cv.MaxDelay = e.Delay.Seconds()
		}
		if e.EdgeCost > cv.MaxEdgeCost {
			cv.MaxEdgeCost = e.EdgeCost
		}
		if hotspotEdges[edgeID] {
			cv.HasHotspot = true
		}
		if incidentEdges[edgeID] {
			cv.HasIncident = true
		}
		n++
	}
	if n > 0 {
		cv.AvgQueue /= float64(n)
		cv.AvgDelay /= float64(n)
		cv.AvgEdgeCost /= float64(n)
	}

	for _, bp := range ar.Bypasses {
		if bp.Source == intersection {
			cv.NumBypasses++
		}
	}
	return cv
}

func outgoingEdgeIDs(snap graph.Snapshot, intersection string) []string {
	n, ok := snap.Nodes[intersection]
	if !ok {
		return nil
	}
	return n.Outgoing
}
