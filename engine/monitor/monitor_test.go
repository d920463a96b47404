package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/telemetry/logging"
)

type fakeSource struct {
	snapshots []models.NetworkSnapshot
	errs      []error
	calls     int
}

func (f *fakeSource) FetchSnapshot(context.Context) (models.NetworkSnapshot, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return models.NetworkSnapshot{}, f.errs[i]
	}
	return f.snapshots[i], nil
}

func newTestMonitor(t *testing.T, src SnapshotSource) (*Monitor, *graph.RuntimeGraph, *knowledge.MemoryStore) {
	t.Helper()
	g := graph.New()
	kb := knowledge.NewMemoryStore()
	m := New(g, kb, src, logging.New(nil), Config{RollingWindowSize: 3, CongestionThreshold: 20})
	return m, g, kb
}

func TestRunUpdatesGraphAndKnowledgeBase(t *testing.T) {
	src := &fakeSource{snapshots: []models.NetworkSnapshot{
		{Cycle: 1, Edges: []models.EdgeObservation{{From: "A", To: "B", Queue: 10, Delay: 5, Flow: 2}}},
	}}
	m, g, kb := newTestMonitor(t, src)

	result := m.Run(context.Background(), 1)
	require.Equal(t, []string{"AB"}, result.EdgesUpdated)

	e := g.GetEdge("A", "B")
	require.NotNil(t, e)
	assert.Equal(t, float64(10), e.Queue)

	rows, err := kb.GetGraphState(context.Background(), "A", "B")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(10), rows[0].Queue)
}

func TestRunOnFetchFailureDoesNotMutateGraph(t *testing.T) {
	src := &fakeSource{snapshots: []models.NetworkSnapshot{{}}, errs: []error{assertError{}}}
	m, g, _ := newTestMonitor(t, src)

	result := m.Run(context.Background(), 1)
	assert.Empty(t, result.EdgesUpdated)
	assert.Equal(t, 1, m.FailureCount())
	assert.Nil(t, g.GetEdge("A", "B"))
}

type assertError struct{}

func (assertError) Error() string { return "simulator unreachable" }

func TestAnomalyClassesDetected(t *testing.T) {
	src := &fakeSource{snapshots: []models.NetworkSnapshot{
		{Cycle: 1, Edges: []models.EdgeObservation{
			{From: "A", To: "B", Queue: 30, SpillbackActive: true},
			{From: "B", To: "C", IncidentActive: true, Delay: 20},
		}},
	}}
	m, _, _ := newTestMonitor(t, src)
	result := m.Run(context.Background(), 1)

	var kinds []AnomalyKind
	for _, a := range result.Anomalies {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, AnomalySpillback)
	assert.Contains(t, kinds, AnomalyIncident)
	assert.Contains(t, kinds, AnomalyHighCongestion)
}

func TestRollingWindowGatesSmoothingUntilTwoSamples(t *testing.T) {
	src := &fakeSource{snapshots: []models.NetworkSnapshot{
		{Cycle: 1, Edges: []models.EdgeObservation{{From: "A", To: "B", Queue: 10}}},
		{Cycle: 2, Edges: []models.EdgeObservation{{From: "A", To: "B", Queue: 20}}},
	}}
	m, _, _ := newTestMonitor(t, src)

	r1 := m.Run(context.Background(), 1)
	assert.Equal(t, float64(10), r1.Aggregates.SmoothedEdges["AB"].Queue)

	r2 := m.Run(context.Background(), 2)
	assert.Equal(t, float64(15), r2.Aggregates.SmoothedEdges["AB"].Queue)
}
