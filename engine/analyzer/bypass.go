package analyzer

import (
	"container/heap"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/models"
)

const (
	maxHotspotsConsidered = 5
	maxEndpointsPerSide   = 2
)

// bypasses computes up to k simple-path bypass records per hotspot, per
// (predecessor-of-u, successor-of-v) pair, rejecting any path that traverses
// the hotspot edge itself (spec §4.4). No-path and missing-node conditions
// are empty results, not errors — mirrored here by simply producing no
// record rather than propagating an error value.
func bypasses(snap graph.Snapshot, costs map[string]float64, hot []models.Hotspot, k int) []models.Bypass {
	if k <= 0 {
		k = 3
	}
	considered := hot
	if len(considered) > maxHotspotsConsidered {
		considered = considered[:maxHotspotsConsidered]
	}

	var out []models.Bypass
	for _, h := range considered {
		hotspotEdge := models.EdgeID(h.EdgeFrom, h.EdgeTo)
		preds := limitedSlice(snap.Predecessors(h.EdgeFrom), maxEndpointsPerSide)
		succs := limitedSlice(snap.Neighbors(h.EdgeTo), maxEndpointsPerSide)

		for _, source := range preds {
			for _, dest := range succs {
				if source == dest {
					continue
				}
				paths := kShortestSimplePaths(snap, costs, source, dest, hotspotEdge, k)
				for _, p := range paths {
					out = append(out, models.Bypass{
						Source: source, Destination: dest,
						Path: p.edgeIDs, TotalCost: p.cost,
						Bypasses: hotspotEdge, Length: len(p.edgeIDs),
					})
				}
			}
		}
	}
	return out
}

func limitedSlice(s []string, limit int) []string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

type weightedPath struct {
	nodeIDs []string
	edgeIDs []string
	cost    float64
}

// pathState is one partial path carried through the search heap: priority
// ordered by cumulative cost (lazy decrease-key, same approach the pack's
// heap-based Dijkstra implementation uses).
type pathState struct {
	node    string
	cost    float64
	nodeSeq []string
	edgeSeq []string
}

type pathHeap []pathState

func (h pathHeap) Len() int            { return len(h) }
func (h pathHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h pathHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x interface{}) { *h = append(*h, x.(pathState)) }
func (h *pathHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// kShortestSimplePaths enumerates up to k loopless paths from source to dest
// in increasing order of cumulative edge cost, never traversing forbidEdge.
// Implemented as a priority-queue expansion over partial simple paths rather
// than a full Yen's-algorithm deviation search: for the reference network's
// scale (tens of edges) this terminates quickly and needs no spur-path
// bookkeeping.
func kShortestSimplePaths(snap graph.Snapshot, costs map[string]float64, source, dest, forbidEdge string, k int) []weightedPath {
	if _, ok := snap.Nodes[source]; !ok {
		return nil
	}
	if _, ok := snap.Nodes[dest]; !ok {
		return nil
	}

	pq := &pathHeap{{node: source, nodeSeq: []string{source}}}
	heap.Init(pq)

	var found []weightedPath
	for pq.Len() > 0 && len(found) < k {
		cur := heap.Pop(pq).(pathState)
		if cur.node == dest && len(cur.edgeSeq) > 0 {
			found = append(found, weightedPath{nodeIDs: cur.nodeSeq, edgeIDs: cur.edgeSeq, cost: cur.cost})
			continue
		}
		for _, next := range snap.Neighbors(cur.node) {
			edgeID := models.EdgeID(cur.node, next)
			if edgeID == forbidEdge {
				continue
			}
			if containsString(cur.nodeSeq, next) {
				continue // simple path: no repeated vertices
			}
			nodeSeq := append(append([]string{}, cur.nodeSeq...), next)
			edgeSeq := append(append([]string{}, cur.edgeSeq...), edgeID)
			heap.Push(pq, pathState{
				node: next, cost: cur.cost + costs[edgeID],
				nodeSeq: nodeSeq, edgeSeq: edgeSeq,
			})
		}
	}
	return found
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
