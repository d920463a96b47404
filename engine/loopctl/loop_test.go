package loopctl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegislights/controller/engine/analyzer"
	"github.com/aegislights/controller/engine/executor"
	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/monitor"
	"github.com/aegislights/controller/engine/planner"
	"github.com/aegislights/controller/engine/telemetry/logging"
)

type fakeSource struct {
	edge models.EdgeObservation
}

func (f *fakeSource) FetchSnapshot(context.Context) (models.NetworkSnapshot, error) {
	return models.NetworkSnapshot{Edges: []models.EdgeObservation{f.edge}}, nil
}

type fakeClient struct {
	calls int32
}

func (f *fakeClient) ApplyPlan(context.Context, string, int) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	return true, nil
}

type manualClock struct {
	slept int32
}

func (manualClock) Now() time.Time { return time.Unix(0, 0) }
func (c *manualClock) Sleep(time.Duration) { atomic.AddInt32(&c.slept, 1) }

func buildLoop(t *testing.T) (*Loop, *fakeClient, *manualClock) {
	t.Helper()
	g := graph.New()
	g.AddNode("A", models.NodeSignalised)
	g.AddNode("B", models.NodeSignalised)
	g.AddEdge(models.Edge{From: "A", To: "B", Capacity: 10})
	kb := knowledge.NewMemoryStore()
	log := logging.New(nil)

	src := &fakeSource{edge: models.EdgeObservation{From: "A", To: "B", Queue: 5, Delay: 2, Flow: 1}}
	m := monitor.New(g, kb, src, log, monitor.Config{})
	a := analyzer.New(g, kb, analyzer.Config{})
	lib := planner.NewStaticLibrary([]models.PhaseLibraryEntry{
		{PlanID: "A-default", Intersection: "A", PhaseID: 0},
		{PlanID: "B-default", Intersection: "B", PhaseID: 0},
	})
	p := planner.New(g, kb, lib, nil, planner.Config{})
	client := &fakeClient{}
	ex := executor.New(g, kb, lib, client, log, executor.Config{})

	clock := &manualClock{}
	loop := New(m, a, p, ex, kb, log, nil, Config{CyclePeriod: 10 * time.Millisecond, MaxDuration: 50 * time.Millisecond}).WithClock(clock)
	return loop, client, clock
}

func TestLoopRunsCyclesUntilMaxDuration(t *testing.T) {
	loop, client, clock := buildLoop(t)
	loop.Start(context.Background())
	time.Sleep(100 * time.Millisecond) // let MaxDuration (50ms) end the loop before Stop
	loop.Stop()

	m := loop.Metrics()
	require.GreaterOrEqual(t, m.TotalCycles, int64(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&client.calls), int32(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&clock.slept), int32(0))
}

func TestLoopStopsImmediatelyOnContextCancellation(t *testing.T) {
	loop, _, _ := buildLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop.Start(ctx)
	loop.Stop()

	m := loop.Metrics()
	assert.Equal(t, int64(0), m.TotalCycles)
}

func TestRunCycleUpdatesBanditArmAfterExecute(t *testing.T) {
	loop, _, _ := buildLoop(t)
	ctx := context.Background()
	result := loop.runCycle(ctx, 1)
	require.NoError(t, result.Err)
	require.NotEmpty(t, result.Planner.Adaptations)

	for _, a := range result.Planner.Adaptations {
		arm, err := loop.kb.GetBanditStats(ctx, a.Intersection, a.PlanID)
		require.NoError(t, err)
		require.NotNil(t, arm)
		assert.Equal(t, int64(1), arm.TimesSelected)
	}
}
