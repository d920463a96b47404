package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"golang.org/x/sync/singleflight"

	"github.com/aegislights/controller/engine/models"
)

// schema bootstraps the eight append-mostly tables of spec §6. Full
// migration tooling is out of scope (spec §1); this is the minimal DDL the
// Knowledge Base needs to function against a fresh file.
const schema = `
CREATE TABLE IF NOT EXISTS simulation_snapshots (
	cycle_number INTEGER, ts INTEGER, from_node TEXT, to_node TEXT,
	queue REAL, delay_ns INTEGER, throughput REAL, spillback INTEGER, incident INTEGER
);
CREATE INDEX IF NOT EXISTS idx_snapshots_cycle ON simulation_snapshots(cycle_number);

CREATE TABLE IF NOT EXISTS graph_state (
	from_node TEXT, to_node TEXT, capacity REAL, free_flow_ns INTEGER, length REAL, lanes INTEGER,
	queue REAL, delay_ns INTEGER, flow REAL, spillback INTEGER, incident INTEGER, edge_cost REAL, cycle_number INTEGER,
	PRIMARY KEY (from_node, to_node)
);

CREATE TABLE IF NOT EXISTS signal_configurations (
	cycle_number INTEGER, intersection TEXT, plan_id TEXT, phase_id INTEGER, offset_ns INTEGER, cycle_length_ns INTEGER
);
CREATE INDEX IF NOT EXISTS idx_signalcfg_intersection ON signal_configurations(intersection);

CREATE TABLE IF NOT EXISTS phase_libraries (
	plan_id TEXT PRIMARY KEY, intersection TEXT, name TEXT, tags TEXT, cycle_length_ns INTEGER, phase_id INTEGER, timing_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_phaselib_intersection ON phase_libraries(intersection);

CREATE TABLE IF NOT EXISTS performance_metrics (
	cycle_number INTEGER, ts INTEGER, avg_delay_ns INTEGER, avg_queue REAL, network_cost REAL,
	total_spillbacks INTEGER, avg_trip_time_ns INTEGER, utility_score REAL
);
CREATE INDEX IF NOT EXISTS idx_perfmetrics_cycle ON performance_metrics(cycle_number);

CREATE TABLE IF NOT EXISTS adaptation_decisions (
	cycle_number INTEGER, stage TEXT, type TEXT, reasoning TEXT, context_json TEXT, ts INTEGER
);
CREATE INDEX IF NOT EXISTS idx_decisions_cycle ON adaptation_decisions(cycle_number);

CREATE TABLE IF NOT EXISTS bandit_state (
	intersection TEXT, plan_id TEXT, times_selected INTEGER, total_reward REAL,
	PRIMARY KEY (intersection, plan_id)
);
CREATE INDEX IF NOT EXISTS idx_bandit_intersection ON bandit_state(intersection);

CREATE TABLE IF NOT EXISTS cycle_logs (
	cycle_number INTEGER, event TEXT, detail TEXT, ts INTEGER
);
CREATE INDEX IF NOT EXISTS idx_cyclelogs_cycle ON cycle_logs(cycle_number);

CREATE TABLE IF NOT EXISTS last_known_good (
	intersection TEXT PRIMARY KEY, cycle_number INTEGER, plan_id TEXT, phase_id INTEGER, offset_ns INTEGER, cycle_length_ns INTEGER
);

CREATE TABLE IF NOT EXISTS cost_coefficients (
	id INTEGER PRIMARY KEY CHECK (id = 1), a REAL, b REAL, c REAL, d REAL
);
`

// SQLiteStore is the production KnowledgeBase backed by a pure-Go SQLite
// driver (modernc.org/sqlite, matching the pack's usage pattern in
// vanderheijden86-beadwork's datasource reader: WAL mode, database/sql, no
// cgo). Every write logs and returns on error rather than propagating a
// failure into the control loop (spec §4.2, §7).
type SQLiteStore struct {
	db *sql.DB

	lkgCache    *lruCache
	banditCache *lruCache
	coeffGroup  singleflight.Group

	logf func(format string, args ...any)
}

// Open creates (if needed) and opens a SQLite-backed Knowledge Base at path.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("knowledge: bootstrap schema: %w", err)
	}
	return &SQLiteStore{
		db:          db,
		lkgCache:    newLRUCache(256),
		banditCache: newLRUCache(1024),
		logf:        func(string, ...any) {},
	}, nil
}

// SetLogger installs a callback used to report best-effort write failures.
func (s *SQLiteStore) SetLogger(logf func(format string, args ...any)) {
	if logf != nil {
		s.logf = logf
	}
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetGraphState(ctx context.Context, from, to string) ([]EdgeRow, error) {
	query := `SELECT from_node, to_node, capacity, free_flow_ns, length, lanes, queue, delay_ns, flow, spillback, incident, edge_cost, cycle_number FROM graph_state`
	args := []any{}
	switch {
	case from != "" && to != "":
		query += ` WHERE from_node = ? AND to_node = ?`
		args = append(args, from, to)
	case from != "":
		query += ` WHERE from_node = ?`
		args = append(args, from)
	case to != "":
		query += ` WHERE to_node = ?`
		args = append(args, to)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil // reads degrade to empty on absence/failure
	}
	defer rows.Close()

	var out []EdgeRow
	for rows.Next() {
		var r EdgeRow
		var freeFlowNs, delayNs int64
		var spillback, incident int
		if err := rows.Scan(&r.From, &r.To, &r.Capacity, &freeFlowNs, &r.Length, &r.Lanes,
			&r.Queue, &delayNs, &r.Flow, &spillback, &incident, &r.EdgeCost, &r.Cycle); err != nil {
			continue
		}
		r.FreeFlowTime = time.Duration(freeFlowNs)
		r.Delay = time.Duration(delayNs)
		r.SpillbackActive = spillback != 0
		r.IncidentActive = incident != 0
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertEdge(ctx context.Context, row EdgeRow) error {
	existing, _ := s.GetGraphState(ctx, row.From, row.To)
	if len(existing) == 1 {
		// preserve static fields unless the caller explicitly set them
		if row.Capacity == 0 {
			row.Capacity = existing[0].Capacity
		}
		if row.FreeFlowTime == 0 {
			row.FreeFlowTime = existing[0].FreeFlowTime
		}
		if row.Length == 0 {
			row.Length = existing[0].Length
		}
		if row.Lanes == 0 {
			row.Lanes = existing[0].Lanes
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_state (from_node, to_node, capacity, free_flow_ns, length, lanes, queue, delay_ns, flow, spillback, incident, edge_cost, cycle_number)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(from_node, to_node) DO UPDATE SET
			capacity=excluded.capacity, free_flow_ns=excluded.free_flow_ns, length=excluded.length, lanes=excluded.lanes,
			queue=excluded.queue, delay_ns=excluded.delay_ns, flow=excluded.flow, spillback=excluded.spillback,
			incident=excluded.incident, edge_cost=excluded.edge_cost, cycle_number=excluded.cycle_number
	`, row.From, row.To, row.Capacity, int64(row.FreeFlowTime), row.Length, row.Lanes,
		row.Queue, int64(row.Delay), row.Flow, boolToInt(row.SpillbackActive), boolToInt(row.IncidentActive), row.EdgeCost, row.Cycle)
	if err != nil {
		s.logf("knowledge: upsert_edge %s->%s failed: %v", row.From, row.To, err)
		return nil
	}
	return nil
}

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, cycle int64, ts time.Time, from, to string, queue float64, delay time.Duration, throughput float64, spillback, incident bool) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO simulation_snapshots (cycle_number, ts, from_node, to_node, queue, delay_ns, throughput, spillback, incident) VALUES (?,?,?,?,?,?,?,?,?)`,
		cycle, ts.UnixNano(), from, to, queue, int64(delay), throughput, boolToInt(spillback), boolToInt(incident))
	if err != nil {
		s.logf("knowledge: insert_snapshot cycle=%d %s->%s failed: %v", cycle, from, to, err)
	}
	return nil
}

func (s *SQLiteStore) GetLastKnownGood(ctx context.Context, intersection string) (*models.LastKnownGood, error) {
	if v, ok := s.lkgCache.get(intersection); ok {
		lkg, _ := v.(*models.LastKnownGood)
		return lkg, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT intersection, cycle_number, plan_id, phase_id, offset_ns, cycle_length_ns FROM last_known_good WHERE intersection = ?`, intersection)
	var lkg models.LastKnownGood
	var offsetNs, cycleLenNs int64
	if err := row.Scan(&lkg.Intersection, &lkg.Cycle, &lkg.PlanID, &lkg.PhaseID, &offsetNs, &cycleLenNs); err != nil {
		s.lkgCache.set(intersection, (*models.LastKnownGood)(nil))
		return nil, nil
	}
	lkg.Offset = time.Duration(offsetNs)
	lkg.CycleLength = time.Duration(cycleLenNs)
	s.lkgCache.set(intersection, &lkg)
	return &lkg, nil
}

func (s *SQLiteStore) UpdateLastKnownGood(ctx context.Context, lkg models.LastKnownGood) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_known_good (intersection, cycle_number, plan_id, phase_id, offset_ns, cycle_length_ns)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(intersection) DO UPDATE SET
			cycle_number=excluded.cycle_number, plan_id=excluded.plan_id, phase_id=excluded.phase_id,
			offset_ns=excluded.offset_ns, cycle_length_ns=excluded.cycle_length_ns
	`, lkg.Intersection, lkg.Cycle, lkg.PlanID, lkg.PhaseID, int64(lkg.Offset), int64(lkg.CycleLength))
	if err != nil {
		s.logf("knowledge: update_last_known_good %s failed: %v", lkg.Intersection, err)
		return nil
	}
	s.lkgCache.invalidate(lkg.Intersection)
	return nil
}

func banditKey(intersection, plan string) string { return intersection + "\x00" + plan }

func (s *SQLiteStore) GetBanditStats(ctx context.Context, intersection, plan string) (*models.BanditArm, error) {
	key := banditKey(intersection, plan)
	if v, ok := s.banditCache.get(key); ok {
		arm, _ := v.(*models.BanditArm)
		return arm, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT intersection, plan_id, times_selected, total_reward FROM bandit_state WHERE intersection = ? AND plan_id = ?`, intersection, plan)
	var arm models.BanditArm
	if err := row.Scan(&arm.Intersection, &arm.PlanID, &arm.TimesSelected, &arm.TotalReward); err != nil {
		s.banditCache.set(key, (*models.BanditArm)(nil))
		return nil, nil
	}
	s.banditCache.set(key, &arm)
	return &arm, nil
}

func (s *SQLiteStore) UpdateBanditStats(ctx context.Context, arm models.BanditArm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bandit_state (intersection, plan_id, times_selected, total_reward)
		VALUES (?,?,?,?)
		ON CONFLICT(intersection, plan_id) DO UPDATE SET
			times_selected=excluded.times_selected, total_reward=excluded.total_reward
	`, arm.Intersection, arm.PlanID, arm.TimesSelected, arm.TotalReward)
	if err != nil {
		s.logf("knowledge: update_bandit_stats %s/%s failed: %v", arm.Intersection, arm.PlanID, err)
		return nil
	}
	s.banditCache.invalidate(banditKey(arm.Intersection, arm.PlanID))
	return nil
}

func (s *SQLiteStore) LogDecision(ctx context.Context, rec DecisionRecord) error {
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		ctxJSON = []byte("{}")
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO adaptation_decisions (cycle_number, stage, type, reasoning, context_json, ts) VALUES (?,?,?,?,?,?)`,
		rec.Cycle, rec.Stage, rec.Type, rec.Reasoning, string(ctxJSON), ts.UnixNano())
	if err != nil {
		s.logf("knowledge: log_decision cycle=%d stage=%s failed: %v", rec.Cycle, rec.Stage, err)
	}
	return nil
}

func (s *SQLiteStore) InsertPerformanceMetrics(ctx context.Context, m models.CycleMetrics) error {
	var tripNs int64 = -1
	if m.AvgTripTime != nil {
		tripNs = int64(*m.AvgTripTime)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO performance_metrics (cycle_number, ts, avg_delay_ns, avg_queue, network_cost, total_spillbacks, avg_trip_time_ns, utility_score) VALUES (?,?,?,?,?,?,?,?)`,
		m.Cycle, m.Timestamp.UnixNano(), int64(m.AvgDelay), m.AvgQueue, m.NetworkCost, m.TotalSpillbacks, tripNs, m.UtilityScore)
	if err != nil {
		s.logf("knowledge: insert_performance_metrics cycle=%d failed: %v", m.Cycle, err)
	}
	return nil
}

func (s *SQLiteStore) GetCostCoefficients(ctx context.Context) (models.CostCoefficients, error) {
	v, err, _ := s.coeffGroup.Do("coeff", func() (any, error) {
		row := s.db.QueryRowContext(ctx, `SELECT a, b, c, d FROM cost_coefficients WHERE id = 1`)
		var c models.CostCoefficients
		if scanErr := row.Scan(&c.A, &c.B, &c.C, &c.D); scanErr != nil {
			return models.DefaultCostCoefficients(), nil
		}
		return c, nil
	})
	if err != nil {
		return models.DefaultCostCoefficients(), nil
	}
	return v.(models.CostCoefficients), nil
}

func (s *SQLiteStore) SetCostCoefficients(ctx context.Context, c models.CostCoefficients) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_coefficients (id, a, b, c, d) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET a=excluded.a, b=excluded.b, c=excluded.c, d=excluded.d
	`, c.A, c.B, c.C, c.D)
	if err != nil {
		s.logf("knowledge: set_cost_coefficients failed: %v", err)
	}
	return nil
}

func (s *SQLiteStore) InsertSignalConfiguration(ctx context.Context, cycle int64, a models.Adaptation) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO signal_configurations (cycle_number, intersection, plan_id, phase_id, offset_ns, cycle_length_ns) VALUES (?,?,?,?,?,?)`,
		cycle, a.Intersection, a.PlanID, a.PhaseID, int64(a.Offset), int64(a.CycleLength))
	if err != nil {
		s.logf("knowledge: insert_signal_configuration cycle=%d %s failed: %v", cycle, a.Intersection, err)
	}
	return nil
}

func (s *SQLiteStore) InsertCycleLog(ctx context.Context, cycle int64, event, detail string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cycle_logs (cycle_number, event, detail, ts) VALUES (?,?,?,?)`,
		cycle, event, detail, time.Now().UnixNano())
	if err != nil {
		s.logf("knowledge: insert_cycle_log cycle=%d event=%s failed: %v", cycle, event, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ KnowledgeBase = (*SQLiteStore)(nil)
