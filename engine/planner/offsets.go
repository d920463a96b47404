package planner

import (
	"time"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/models"
)

const (
	minOffset              = 0 * time.Second
	maxOffset              = 300 * time.Second
	defaultSlackNoEdge     = 20 * time.Second
	delaySlackFraction     = 0.3
)

// propagateOffsets walks one coordination group in member order, assigning
// the first member offset 0 and accumulating each subsequent member's
// offset from the free-flow time between consecutive members plus 30% of
// the current delay as slack (spec §4.5). The Executor rejects offsets
// outside [0, 300] s, so Planner clamps them to that range here.
func propagateOffsets(snap graph.Snapshot, group models.CoordinationGroup) map[string]time.Duration {
	offsets := make(map[string]time.Duration, len(group.Members))
	if len(group.Members) == 0 {
		return offsets
	}
	offsets[group.Members[0]] = 0

	running := time.Duration(0)
	for i := 1; i < len(group.Members); i++ {
		prev, cur := group.Members[i-1], group.Members[i]
		edgeID := models.EdgeID(prev, cur)
		e, ok := snap.Edges[edgeID]

		var segment time.Duration
		if ok {
			segment = e.FreeFlowTime + time.Duration(delaySlackFraction*e.Delay.Seconds()*float64(time.Second))
		} else {
			segment = defaultSlackNoEdge
		}
		running += segment
		offsets[cur] = clampOffset(running)
	}
	return offsets
}

func clampOffset(d time.Duration) time.Duration {
	if d < minOffset {
		return minOffset
	}
	if d > maxOffset {
		return maxOffset
	}
	return d
}
