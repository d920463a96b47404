// Package knowledge implements the Knowledge Base: the only abstraction
// that touches persistent storage (spec §4.2). It fronts a relational store
// with cache-aside reads for last-known-good and bandit arm state, and never
// lets a storage failure crash the control loop — every write is
// best-effort and every read degrades to null/empty on absence.
package knowledge

import (
	"context"
	"time"

	"github.com/aegislights/controller/engine/models"
)

// EdgeRow is the persisted form of an edge's dynamic state (graph_state table).
type EdgeRow struct {
	From, To        string
	Capacity        float64
	FreeFlowTime    time.Duration
	Length          float64
	Lanes           int
	Queue           float64
	Delay           time.Duration
	Flow            float64
	SpillbackActive bool
	IncidentActive  bool
	EdgeCost        float64
	Cycle           int64
}

// DecisionRecord is the structured per-stage reasoning payload persisted to
// adaptation_decisions (spec §4.2 log_decision), carried over verbatim from
// the shape the original monitor/analyze/plan/execute stages already used.
type DecisionRecord struct {
	Cycle     int64
	Stage     string // "monitor" | "analyze" | "plan" | "execute" | "rollback"
	Type      string
	Reasoning string
	Context   map[string]any
	Timestamp time.Time
}

// KnowledgeBase is the storage abstraction every MAPE stage reads and
// writes through. No stage is permitted to hold its own connection or cache
// outside this interface (spec §5: "external observers read through the
// Knowledge Base interface, not through private caches").
type KnowledgeBase interface {
	// GetGraphState returns a point-in-time read of persisted edge dynamic
	// state, optionally filtered by endpoint.
	GetGraphState(ctx context.Context, from, to string) ([]EdgeRow, error)

	// UpsertEdge writes through an edge's state, preserving static fields
	// already on the row when it exists.
	UpsertEdge(ctx context.Context, row EdgeRow) error

	// InsertSnapshot appends one observed (cycle, edge) sample.
	InsertSnapshot(ctx context.Context, cycle int64, ts time.Time, from, to string, queue float64, delay time.Duration, throughput float64, spillback, incident bool) error

	// GetLastKnownGood returns the cached/persisted LKG for an intersection,
	// or nil if none exists yet.
	GetLastKnownGood(ctx context.Context, intersection string) (*models.LastKnownGood, error)

	// UpdateLastKnownGood persists a new LKG record, invalidating the cache.
	UpdateLastKnownGood(ctx context.Context, lkg models.LastKnownGood) error

	// GetBanditStats returns the arm for (intersection, plan), or nil if
	// never pulled.
	GetBanditStats(ctx context.Context, intersection, plan string) (*models.BanditArm, error)

	// UpdateBanditStats persists updated arm counters.
	UpdateBanditStats(ctx context.Context, arm models.BanditArm) error

	// LogDecision appends a structured per-stage reasoning record.
	LogDecision(ctx context.Context, rec DecisionRecord) error

	// InsertPerformanceMetrics appends a per-cycle metrics rollup.
	InsertPerformanceMetrics(ctx context.Context, m models.CycleMetrics) error

	// GetCostCoefficients returns the currently configured (a,b,c,d) weights.
	GetCostCoefficients(ctx context.Context) (models.CostCoefficients, error)

	// SetCostCoefficients overrides the persisted coefficients (spec_full
	// §12.3 supplement; used by experiment harnesses and tests).
	SetCostCoefficients(ctx context.Context, c models.CostCoefficients) error

	// InsertSignalConfiguration appends one applied-plan row
	// (signal_configurations table).
	InsertSignalConfiguration(ctx context.Context, cycle int64, a models.Adaptation) error

	// InsertCycleLog appends a free-form per-cycle event (rollback, etc.).
	InsertCycleLog(ctx context.Context, cycle int64, event, detail string) error

	// Close releases any held resources.
	Close() error
}
