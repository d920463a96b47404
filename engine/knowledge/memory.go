package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/aegislights/controller/engine/models"
)

// MemoryStore is a hermetic, in-process KnowledgeBase used by tests and by
// standalone simulation runs that don't need durability across restarts. It
// implements the same cache-aside contract as SQLiteStore so stage code
// behaves identically against either backend.
type MemoryStore struct {
	mu sync.Mutex

	edges       map[string]EdgeRow // keyed by from+"\x00"+to
	lkg         map[string]models.LastKnownGood
	bandit      map[string]models.BanditArm
	decisions   []DecisionRecord
	metrics     []models.CycleMetrics
	signalCfgs  []signalCfgRow
	cycleLogs   []cycleLogRow
	coeffs      models.CostCoefficients
	coeffsIsSet bool
}

type signalCfgRow struct {
	Cycle int64
	models.Adaptation
}

type cycleLogRow struct {
	Cycle         int64
	Event, Detail string
}

// NewMemoryStore returns an empty in-memory KnowledgeBase.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		edges:  make(map[string]EdgeRow),
		lkg:    make(map[string]models.LastKnownGood),
		bandit: make(map[string]models.BanditArm),
		coeffs: models.DefaultCostCoefficients(),
	}
}

func edgeKey(from, to string) string { return from + "\x00" + to }

func (m *MemoryStore) GetGraphState(_ context.Context, from, to string) ([]EdgeRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from != "" && to != "" {
		if row, ok := m.edges[edgeKey(from, to)]; ok {
			return []EdgeRow{row}, nil
		}
		return nil, nil
	}
	var out []EdgeRow
	for _, row := range m.edges {
		if (from == "" || row.From == from) && (to == "" || row.To == to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertEdge(_ context.Context, row EdgeRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey(row.From, row.To)
	if existing, ok := m.edges[key]; ok {
		if row.Capacity == 0 {
			row.Capacity = existing.Capacity
		}
		if row.FreeFlowTime == 0 {
			row.FreeFlowTime = existing.FreeFlowTime
		}
		if row.Length == 0 {
			row.Length = existing.Length
		}
		if row.Lanes == 0 {
			row.Lanes = existing.Lanes
		}
	}
	m.edges[key] = row
	return nil
}

func (m *MemoryStore) InsertSnapshot(context.Context, int64, time.Time, string, string, float64, time.Duration, float64, bool, bool) error {
	return nil // snapshots are write-only telemetry; the in-memory store doesn't retain them
}

func (m *MemoryStore) GetLastKnownGood(_ context.Context, intersection string) (*models.LastKnownGood, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lkg, ok := m.lkg[intersection]
	if !ok {
		return nil, nil
	}
	out := lkg
	return &out, nil
}

func (m *MemoryStore) UpdateLastKnownGood(_ context.Context, lkg models.LastKnownGood) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lkg[lkg.Intersection] = lkg
	return nil
}

func (m *MemoryStore) GetBanditStats(_ context.Context, intersection, plan string) (*models.BanditArm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	arm, ok := m.bandit[banditKey(intersection, plan)]
	if !ok {
		return nil, nil
	}
	out := arm
	return &out, nil
}

func (m *MemoryStore) UpdateBanditStats(_ context.Context, arm models.BanditArm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bandit[banditKey(arm.Intersection, arm.PlanID)] = arm
	return nil
}

func (m *MemoryStore) LogDecision(_ context.Context, rec DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, rec)
	return nil
}

func (m *MemoryStore) InsertPerformanceMetrics(_ context.Context, cm models.CycleMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, cm)
	return nil
}

func (m *MemoryStore) GetCostCoefficients(context.Context) (models.CostCoefficients, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coeffs, nil
}

func (m *MemoryStore) SetCostCoefficients(_ context.Context, c models.CostCoefficients) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coeffs = c
	m.coeffsIsSet = true
	return nil
}

func (m *MemoryStore) InsertSignalConfiguration(_ context.Context, cycle int64, a models.Adaptation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalCfgs = append(m.signalCfgs, signalCfgRow{Cycle: cycle, Adaptation: a})
	return nil
}

func (m *MemoryStore) InsertCycleLog(_ context.Context, cycle int64, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycleLogs = append(m.cycleLogs, cycleLogRow{Cycle: cycle, Event: event, Detail: detail})
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Decisions returns every logged decision record, for test assertions.
func (m *MemoryStore) Decisions() []DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DecisionRecord, len(m.decisions))
	copy(out, m.decisions)
	return out
}

// Metrics returns every recorded per-cycle metrics rollup.
func (m *MemoryStore) Metrics() []models.CycleMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CycleMetrics, len(m.metrics))
	copy(out, m.metrics)
	return out
}

var _ KnowledgeBase = (*MemoryStore)(nil)
