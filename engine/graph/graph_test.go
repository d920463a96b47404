package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegislights/controller/engine/models"
)

func TestEnsureEdgeIdempotent(t *testing.T) {
	g := New()
	g.AddNode("A", models.NodeSignalised)
	g.AddNode("B", models.NodeSignalised)

	e1 := g.EnsureEdge("A", "B")
	e1.Capacity = 100 // mutating the returned copy must not affect the graph

	e2 := g.GetEdge("A", "B")
	require.NotNil(t, e2)
	assert.Zero(t, e2.Capacity, "EnsureEdge must not re-seed static fields on repeat calls")

	assert.Contains(t, g.GetNode("A").Outgoing, "AB")
	assert.Contains(t, g.GetNode("B").Incoming, "AB")
}

func TestAddEdgePreservesStaticOnReAdd(t *testing.T) {
	g := New()
	g.AddNode("A", models.NodeSignalised)
	g.AddNode("B", models.NodeSignalised)
	g.AddEdge(models.Edge{From: "A", To: "B", Capacity: 50, FreeFlowTime: 20 * time.Second})

	// Re-adding must not overwrite already-set static fields.
	g.AddEdge(models.Edge{From: "A", To: "B", Capacity: 999})

	e := g.GetEdge("A", "B")
	require.NotNil(t, e)
	assert.Equal(t, float64(50), e.Capacity)
}

func TestUpdateEdgeDynamicCreatesMissingEdge(t *testing.T) {
	g := New()
	g.AddNode("X", models.NodeVirtual)
	g.AddNode("Y", models.NodeVirtual)

	e := g.UpdateEdgeDynamic("X", "Y", DynamicUpdate{Queue: 12, Delay: 4 * time.Second, Cycle: 1})
	require.NotNil(t, e)
	assert.Equal(t, float64(12), e.Queue)
	assert.Equal(t, "XY", e.ID)
}

func TestApplyPlanRejectsVirtualNode(t *testing.T) {
	g := New()
	g.AddNode("1", models.NodeVirtual)

	err := g.ApplyPlan("1", "plan-a", 0, 60*time.Second)
	assert.ErrorIs(t, err, models.ErrVirtualIntersection)
}

func TestApplyPlanUnknownNode(t *testing.T) {
	g := New()
	err := g.ApplyPlan("ghost", "plan-a", 0, 60*time.Second)
	assert.ErrorIs(t, err, models.ErrUnknownIntersection)
}

func TestGetEdgeIDsStableOrder(t *testing.T) {
	g := New()
	for _, id := range []string{"A", "B", "C"} {
		g.AddNode(id, models.NodeSignalised)
	}
	g.EnsureEdge("C", "A")
	g.EnsureEdge("A", "B")
	g.EnsureEdge("B", "C")

	ids := g.GetEdgeIDs()
	assert.Equal(t, []string{"AB", "BC", "CA"}, ids)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	g := New()
	g.AddNode("A", models.NodeSignalised)
	g.AddNode("B", models.NodeSignalised)
	g.AddEdge(models.Edge{From: "A", To: "B", Capacity: 10})

	snap := g.Snapshot()
	g.SetEdgeCost("A", "B", 42)

	assert.Zero(t, snap.Edges["AB"].EdgeCost, "snapshot must not observe later mutations")
	live := g.GetEdge("A", "B")
	assert.Equal(t, float64(42), live.EdgeCost)
}

func TestSnapshotNeighborsAndPredecessors(t *testing.T) {
	g := New()
	for _, id := range []string{"A", "B", "C"} {
		g.AddNode(id, models.NodeSignalised)
	}
	g.EnsureEdge("A", "B")
	g.EnsureEdge("B", "C")

	snap := g.Snapshot()
	assert.Equal(t, []string{"C"}, snap.Neighbors("B"))
	assert.Equal(t, []string{"A"}, snap.Predecessors("B"))
}
