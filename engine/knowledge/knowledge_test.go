package knowledge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegislights/controller/engine/models"
)

func stores(t *testing.T) map[string]KnowledgeBase {
	t.Helper()
	sqlitePath := filepath.Join(t.TempDir(), "aegis.db")
	sq, err := Open(sqlitePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]KnowledgeBase{
		"sqlite": sq,
		"memory": NewMemoryStore(),
	}
}

func TestUpsertEdgePreservesStaticFieldsOnDynamicUpdate(t *testing.T) {
	for name, kb := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, kb.UpsertEdge(ctx, EdgeRow{From: "A", To: "B", Capacity: 100, FreeFlowTime: 30 * time.Second, Length: 200, Lanes: 2}))
			require.NoError(t, kb.UpsertEdge(ctx, EdgeRow{From: "A", To: "B", Queue: 5, Delay: 2 * time.Second}))

			rows, err := kb.GetGraphState(ctx, "A", "B")
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, float64(100), rows[0].Capacity)
			assert.Equal(t, 30*time.Second, rows[0].FreeFlowTime)
			assert.Equal(t, float64(5), rows[0].Queue)
		})
	}
}

func TestLastKnownGoodRoundTrip(t *testing.T) {
	for name, kb := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got, err := kb.GetLastKnownGood(ctx, "I1")
			require.NoError(t, err)
			assert.Nil(t, got)

			lkg := models.LastKnownGood{Intersection: "I1", Cycle: 4, PlanID: "plan-a", PhaseID: 1, Offset: 10 * time.Second, CycleLength: 90 * time.Second}
			require.NoError(t, kb.UpdateLastKnownGood(ctx, lkg))

			got, err = kb.GetLastKnownGood(ctx, "I1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, lkg, *got)
		})
	}
}

func TestBanditStatsAccumulate(t *testing.T) {
	for name, kb := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			arm := models.BanditArm{Intersection: "I1", PlanID: "plan-a", TimesSelected: 1, TotalReward: -5}
			require.NoError(t, kb.UpdateBanditStats(ctx, arm))

			got, err := kb.GetBanditStats(ctx, "I1", "plan-a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, int64(1), got.TimesSelected)

			got.TimesSelected++
			got.TotalReward += -2
			require.NoError(t, kb.UpdateBanditStats(ctx, *got))

			got2, err := kb.GetBanditStats(ctx, "I1", "plan-a")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got2.TimesSelected)
			assert.Equal(t, float64(-7), got2.TotalReward)
		})
	}
}

func TestCostCoefficientsDefaultThenOverride(t *testing.T) {
	for name, kb := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := kb.GetCostCoefficients(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.DefaultCostCoefficients(), c)

			override := models.CostCoefficients{A: 2, B: 1, C: 5, D: 15}
			require.NoError(t, kb.SetCostCoefficients(ctx, override))

			c, err = kb.GetCostCoefficients(ctx)
			require.NoError(t, err)
			assert.Equal(t, override, c)
		})
	}
}

func TestUnknownLastKnownGoodReturnsNilNotError(t *testing.T) {
	for name, kb := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := kb.GetLastKnownGood(context.Background(), "ghost")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestDecisionLoggingDoesNotFailOnEmptyContext(t *testing.T) {
	for name, kb := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := kb.LogDecision(context.Background(), DecisionRecord{
				Cycle: 1, Stage: "plan", Type: "select_arm", Reasoning: "ucb1",
			})
			assert.NoError(t, err)
		})
	}
}

func TestMemoryStoreRetainsDecisionsAndMetrics(t *testing.T) {
	kb := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kb.LogDecision(ctx, DecisionRecord{Cycle: 1, Stage: "analyze", Type: "hotspot"}))
	require.NoError(t, kb.InsertPerformanceMetrics(ctx, models.CycleMetrics{Cycle: 1, UtilityScore: -3}))

	assert.Len(t, kb.Decisions(), 1)
	assert.Len(t, kb.Metrics(), 1)
}
