package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/monitor"
)

func TestEdgeCostMatchesFormula(t *testing.T) {
	e := models.Edge{Delay: 10 * time.Second, Queue: 4, SpillbackActive: true, IncidentActive: true}
	c := models.DefaultCostCoefficients()
	got := EdgeCost(e, c)
	want := c.A*10 + c.B*4 + c.C*models.SpillbackPenaltyMagnitude + c.D*models.IncidentPenaltyMagnitude
	assert.InDelta(t, want, got, 1e-9)
}

func TestEdgeCostRecomputeIsDeterministic(t *testing.T) {
	e := models.Edge{Delay: 5 * time.Second, Queue: 2}
	c := models.DefaultCostCoefficients()
	assert.Equal(t, EdgeCost(e, c), EdgeCost(e, c))
}

func buildLineGraph(t *testing.T) *graph.RuntimeGraph {
	t.Helper()
	g := graph.New()
	for _, id := range []string{"A", "B", "C", "D"} {
		g.AddNode(id, models.NodeSignalised)
	}
	g.AddEdge(models.Edge{From: "A", To: "B", Capacity: 100})
	g.AddEdge(models.Edge{From: "B", To: "C", Capacity: 100})
	g.AddEdge(models.Edge{From: "C", To: "D", Capacity: 100})
	g.AddEdge(models.Edge{From: "A", To: "D", Capacity: 100}) // bypass route
	return g
}

func TestHotspotsRequireAtLeastTwoPricedEdges(t *testing.T) {
	got := hotspots([]string{"AB"}, map[string]float64{"AB": 5}, graph.Snapshot{}, 0.7)
	assert.Empty(t, got)
}

func TestHotspotBypassNeverContainsHotspotEdge(t *testing.T) {
	g := buildLineGraph(t)
	g.UpdateEdgeDynamic("B", "C", graph.DynamicUpdate{Queue: 50, Delay: 30 * time.Second})
	snap := g.Snapshot()
	costs := recomputeCosts(g, snap, models.DefaultCostCoefficients())

	hot := []models.Hotspot{{EdgeFrom: "B", EdgeTo: "C", Cost: costs["BC"]}}
	bp := bypasses(snap, costs, hot, 3)
	for _, p := range bp {
		assert.NotContains(t, p.Path, "BC")
	}
}

func TestTrendRequiresThreeSamples(t *testing.T) {
	_, ok := trendFor("A", "B", []float64{1, 2}, 0.3)
	assert.False(t, ok)

	trend, ok := trendFor("A", "B", []float64{1, 2, 10, 20, 30}, 0.3)
	require.True(t, ok)
	assert.Equal(t, models.TrendIncreasing, trend.Direction)
}

func TestCoordinationGroupsRequireSizeAtLeastTwo(t *testing.T) {
	g := buildLineGraph(t)
	snap := g.Snapshot()
	groups := coordinationGroups(snap, []string{"A"}, 3)
	assert.Empty(t, groups)

	groups = coordinationGroups(snap, []string{"A", "B", "C"}, 3)
	require.NotEmpty(t, groups)
	assert.GreaterOrEqual(t, len(groups[0].Members), 2)
}

func TestRunPersistsDecisionRecord(t *testing.T) {
	g := buildLineGraph(t)
	kb := knowledge.NewMemoryStore()
	a := New(g, kb, Config{CoordinationEnabled: true})

	mr := monitor.Result{Cycle: 1}
	res := a.Run(context.Background(), 1, mr)

	assert.NotEmpty(t, res.EdgeCosts)
	require.Len(t, kb.Decisions(), 1)
	assert.Equal(t, "analyze", kb.Decisions()[0].Stage)
}

func TestIncidentsFromMonitorSeverity(t *testing.T) {
	mr := monitor.Result{Anomalies: []monitor.Anomaly{
		{Kind: monitor.AnomalyIncident, From: "A", To: "B", Delay: 20},
		{Kind: monitor.AnomalyIncident, From: "C", To: "D", Delay: 5},
	}}
	incidents := incidentsFromMonitor(mr)
	require.Len(t, incidents, 2)
	assert.Equal(t, "high", incidents[0].Severity)
	assert.Equal(t, "medium", incidents[1].Severity)
}
