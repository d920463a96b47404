package planner

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegislights/controller/engine/analyzer"
	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
)

func buildGraph(t *testing.T) *graph.RuntimeGraph {
	t.Helper()
	g := graph.New()
	for _, id := range []string{"A", "B", "C"} {
		g.AddNode(id, models.NodeSignalised)
	}
	g.AddEdge(models.Edge{From: "A", To: "B", FreeFlowTime: 20 * time.Second})
	g.AddEdge(models.Edge{From: "B", To: "C", FreeFlowTime: 25 * time.Second})
	return g
}

func testLibrary() *Library {
	return NewStaticLibrary([]models.PhaseLibraryEntry{
		{PlanID: "A-default", Intersection: "A", PhaseID: 1},
		{PlanID: "A-ns_priority", Intersection: "A", PhaseID: 0},
		{PlanID: "B-default", Intersection: "B", PhaseID: 1},
		{PlanID: "B-balanced", Intersection: "B", PhaseID: 0},
		{PlanID: "C-default", Intersection: "C", PhaseID: 1},
	})
}

func TestSelectionFallsBackToAllSignalisedWhenEmpty(t *testing.T) {
	g := buildGraph(t)
	kb := knowledge.NewMemoryStore()
	p := New(g, kb, testLibrary(), rand.New(rand.NewSource(1)), Config{})

	res, err := p.Run(context.Background(), 1, analyzer.Result{})
	require.NoError(t, err)
	assert.Len(t, res.Adaptations, 3)
}

func TestUnseenArmSelectedDeterministically(t *testing.T) {
	g := buildGraph(t)
	kb := knowledge.NewMemoryStore()
	p := New(g, kb, testLibrary(), rand.New(rand.NewSource(1)), Config{BanditAlgorithm: AlgorithmUCB})

	ar := analyzer.Result{Targets: analyzer.Targets{AffectedIntersections: []string{"A"}}}
	res, err := p.Run(context.Background(), 1, ar)
	require.NoError(t, err)
	require.Len(t, res.Adaptations, 1)
	assert.Equal(t, "A", res.Adaptations[0].Intersection)
}

func TestVirtualNodesNeverPlanned(t *testing.T) {
	g := graph.New()
	g.AddNode("A", models.NodeSignalised)
	g.AddNode("1", models.NodeVirtual)
	kb := knowledge.NewMemoryStore()
	lib := NewStaticLibrary([]models.PhaseLibraryEntry{{PlanID: "A-default", Intersection: "A"}})
	p := New(g, kb, lib, rand.New(rand.NewSource(1)), Config{})

	res, err := p.Run(context.Background(), 1, analyzer.Result{})
	require.NoError(t, err)
	for _, a := range res.Adaptations {
		assert.NotEqual(t, "1", a.Intersection)
	}
}

func TestIncidentModePrefersBalancedWhenAdjacent(t *testing.T) {
	g := buildGraph(t)
	kb := knowledge.NewMemoryStore()
	p := New(g, kb, testLibrary(), rand.New(rand.NewSource(1)), Config{IncidentModeEnabled: true})

	ar := analyzer.Result{
		Incidents: []models.Incident{{From: "B", To: "C", Severity: "high"}},
		Targets:   analyzer.Targets{AffectedIntersections: []string{"B"}},
	}
	res, err := p.Run(context.Background(), 1, ar)
	require.NoError(t, err)
	require.Len(t, res.Adaptations, 1)
	assert.Equal(t, "B-balanced", res.Adaptations[0].PlanID)
	assert.True(t, res.IsIncidentMode)
}

func TestCoordinationOffsetsFirstMemberZeroAndClamped(t *testing.T) {
	g := buildGraph(t)
	kb := knowledge.NewMemoryStore()
	p := New(g, kb, testLibrary(), rand.New(rand.NewSource(1)), Config{CoordinationEnabled: true})

	ar := analyzer.Result{
		Targets:            analyzer.Targets{AffectedIntersections: []string{"A", "B", "C"}},
		CoordinationGroups: []models.CoordinationGroup{{Representative: "A", Members: []string{"A", "B", "C"}}},
	}
	res, err := p.Run(context.Background(), 1, ar)
	require.NoError(t, err)

	offsetByIntersection := make(map[string]time.Duration)
	for _, a := range res.Adaptations {
		offsetByIntersection[a.Intersection] = a.Offset
	}
	assert.Equal(t, time.Duration(0), offsetByIntersection["A"])
	for _, off := range offsetByIntersection {
		assert.GreaterOrEqual(t, off, minOffset)
		assert.LessOrEqual(t, off, maxOffset)
	}
}

func TestBanditUCBFavorsHigherAverageReward(t *testing.T) {
	kb := knowledge.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kb.UpdateBanditStats(ctx, models.BanditArm{Intersection: "A", PlanID: "A-default", TimesSelected: 10, TotalReward: -50}))
	require.NoError(t, kb.UpdateBanditStats(ctx, models.BanditArm{Intersection: "A", PlanID: "A-ns_priority", TimesSelected: 10, TotalReward: -5}))

	armID, _, err := selectArm(ctx, kb, rand.New(rand.NewSource(1)), AlgorithmUCB, 0.2, "A", []string{"A-default", "A-ns_priority"})
	require.NoError(t, err)
	assert.Equal(t, "A-ns_priority", armID)
}

func TestUpdateArmIsMonotone(t *testing.T) {
	kb := knowledge.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, UpdateArm(ctx, kb, "A", "A-default", 10, 0))
	require.NoError(t, UpdateArm(ctx, kb, "A", "A-default", 20, 1))

	arm, err := kb.GetBanditStats(ctx, "A", "A-default")
	require.NoError(t, err)
	assert.Equal(t, int64(2), arm.TimesSelected)
}
