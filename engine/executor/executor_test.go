package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/planner"
	"github.com/aegislights/controller/engine/telemetry/logging"
)

type fakeClient struct {
	fail map[string]bool
}

func (f *fakeClient) ApplyPlan(_ context.Context, intersection string, _ int) (bool, error) {
	if f.fail[intersection] {
		return false, nil
	}
	return true, nil
}

func buildExecutorGraph(t *testing.T) *graph.RuntimeGraph {
	t.Helper()
	g := graph.New()
	g.AddNode("A", models.NodeSignalised)
	g.AddNode("1", models.NodeVirtual)
	g.AddEdge(models.Edge{From: "A", To: "1", Capacity: 10})
	return g
}

func testLib() *planner.Library {
	return planner.NewStaticLibrary([]models.PhaseLibraryEntry{{PlanID: "A-default", Intersection: "A", PhaseID: 1}})
}

func TestValidationRejectsUnknownPlan(t *testing.T) {
	g := buildExecutorGraph(t)
	kb := knowledge.NewMemoryStore()
	ex := New(g, kb, testLib(), &fakeClient{}, logging.New(nil), Config{})

	pr := planner.Result{Adaptations: []models.Adaptation{{Intersection: "A", PlanID: "ghost-plan"}}}
	_, err := ex.Run(context.Background(), 1, pr)
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestValidationRejectsVirtualIntersection(t *testing.T) {
	g := buildExecutorGraph(t)
	kb := knowledge.NewMemoryStore()
	lib := planner.NewStaticLibrary([]models.PhaseLibraryEntry{{PlanID: "1-default", Intersection: "1", PhaseID: 0}})
	ex := New(g, kb, lib, &fakeClient{}, logging.New(nil), Config{})

	pr := planner.Result{Adaptations: []models.Adaptation{{Intersection: "1", PlanID: "1-default"}}}
	_, err := ex.Run(context.Background(), 1, pr)
	require.Error(t, err)
}

func TestApplySucceedsAndUpdatesLKG(t *testing.T) {
	g := buildExecutorGraph(t)
	kb := knowledge.NewMemoryStore()
	ex := New(g, kb, testLib(), &fakeClient{}, logging.New(nil), Config{})

	pr := planner.Result{Adaptations: []models.Adaptation{{Intersection: "A", PlanID: "A-default", PhaseID: 1, Offset: 5 * time.Second}}}
	res, err := ex.Run(context.Background(), 1, pr)
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.True(t, res.Applied[0].Success)

	lkg, err := kb.GetLastKnownGood(context.Background(), "A")
	require.NoError(t, err)
	require.NotNil(t, lkg)
	assert.Equal(t, int64(1), lkg.Cycle)
}

func TestApplyFailureForOneContinuesBatch(t *testing.T) {
	g := graph.New()
	g.AddNode("A", models.NodeSignalised)
	g.AddNode("B", models.NodeSignalised)
	kb := knowledge.NewMemoryStore()
	lib := planner.NewStaticLibrary([]models.PhaseLibraryEntry{
		{PlanID: "A-default", Intersection: "A"},
		{PlanID: "B-default", Intersection: "B"},
	})
	ex := New(g, kb, lib, &fakeClient{fail: map[string]bool{"A": true}}, logging.New(nil), Config{})

	pr := planner.Result{Adaptations: []models.Adaptation{
		{Intersection: "A", PlanID: "A-default"},
		{Intersection: "B", PlanID: "B-default"},
	}}
	res, err := ex.Run(context.Background(), 1, pr)
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	assert.False(t, res.Applied[0].Success)
	assert.True(t, res.Applied[1].Success)
}

func TestRollbackTriggersAfterSustainedDegradation(t *testing.T) {
	mgr := newRollbackManager(3, 0.10)
	assert.False(t, mgr.observe(models.CycleMetrics{NetworkCost: 90})) // u=-90
	assert.False(t, mgr.observe(models.CycleMetrics{NetworkCost: 90}))
	assert.False(t, mgr.observe(models.CycleMetrics{NetworkCost: 90})) // window full, baseline = -90
	assert.True(t, mgr.observe(models.CycleMetrics{NetworkCost: 140})) // moving average drops well past the 10% band
}

func TestRollbackBaselineRisesOnImprovement(t *testing.T) {
	mgr := newRollbackManager(3, 0.10)
	mgr.observe(models.CycleMetrics{NetworkCost: 90})
	mgr.observe(models.CycleMetrics{NetworkCost: 90})
	mgr.observe(models.CycleMetrics{NetworkCost: 90}) // baseline = -90
	assert.False(t, mgr.observe(models.CycleMetrics{NetworkCost: 10}))
	assert.InDelta(t, -(90.0+90+10)/3, mgr.baseline, 1e-9)
}

func TestRollbackRestoresLastKnownGood(t *testing.T) {
	g := graph.New()
	g.AddNode("A", models.NodeSignalised)
	kb := knowledge.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kb.UpdateLastKnownGood(ctx, models.LastKnownGood{Intersection: "A", Cycle: 1, PlanID: "A-default", PhaseID: 1}))

	lib := planner.NewStaticLibrary([]models.PhaseLibraryEntry{{PlanID: "A-default", Intersection: "A", PhaseID: 1}})
	ex := New(g, kb, lib, &fakeClient{}, logging.New(nil), Config{EnableRollback: true, RollbackWindowSize: 1, PerformanceDegradationThreshold: 0.01})
	ex.rollback.baseline = -10
	ex.rollback.baselineEstablished = true
	ex.rollback.capacity = 1

	snap := g.Snapshot()
	rolledBack := ex.performRollback(ctx, 2, snap)
	assert.True(t, rolledBack)
	assert.Equal(t, "A-default", g.GetNode("A").CurrentPlanID)
}
