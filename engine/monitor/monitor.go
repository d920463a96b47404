// Package monitor implements the Monitor stage: ingest a simulator snapshot,
// fold it into the Runtime Graph, smooth it through per-edge rolling
// windows, and scan for anomalies.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/telemetry/logging"
)

// SnapshotSource is the simulator-facing dependency Monitor pulls from. The
// concrete implementation (engine/simulator.Client) retries internally per
// spec §7; Monitor treats any returned error as "no snapshot this cycle".
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (models.NetworkSnapshot, error)
}

// Aggregates are the network-wide smoothed statistics computed over every
// edge's rolling window this cycle.
type Aggregates struct {
	SmoothedEdges map[string]EdgeAggregate
	AvgQueue      float64
	AvgDelay      float64
	MaxQueue      float64
	MaxDelay      float64
}

// EdgeAggregate is one edge's window-smoothed reading.
type EdgeAggregate struct {
	From, To string
	Queue    float64
	Delay    float64
	Flow     float64
}

// AnomalyKind distinguishes the three classes Monitor scans for.
type AnomalyKind string

const (
	AnomalySpillback      AnomalyKind = "spillback"
	AnomalyIncident       AnomalyKind = "incident"
	AnomalyHighCongestion AnomalyKind = "high_congestion"
)

// Anomaly is one flagged edge reading.
type Anomaly struct {
	Kind  AnomalyKind
	From  string
	To    string
	Queue float64
	Delay float64
}

// Result is the per-cycle Monitor output threaded into Analyzer.
type Result struct {
	Cycle        int64
	EdgesUpdated []string // edge ids touched this cycle
	Aggregates   Aggregates
	Anomalies    []Anomaly
}

// Monitor owns the per-edge rolling windows and the failure counter used to
// decide when the simulator is considered unreachable.
type Monitor struct {
	mu       sync.Mutex
	graph    *graph.RuntimeGraph
	kb       knowledge.KnowledgeBase
	source   SnapshotSource
	log      logging.Logger
	windows  map[string]*Rolling
	windowSz int

	congestionThreshold float64
	failureCount        int
}

// Config carries the Monitor-specific knobs (spec §6 config surface).
type Config struct {
	RollingWindowSize      int
	CongestionThreshold    float64 // queue length above which high_congestion fires
}

// New constructs a Monitor bound to a Runtime Graph, Knowledge Base, and
// simulator adapter.
func New(g *graph.RuntimeGraph, kb knowledge.KnowledgeBase, source SnapshotSource, log logging.Logger, cfg Config) *Monitor {
	if cfg.RollingWindowSize <= 0 {
		cfg.RollingWindowSize = 3
	}
	if cfg.CongestionThreshold <= 0 {
		cfg.CongestionThreshold = 50
	}
	return &Monitor{
		graph:               g,
		kb:                  kb,
		source:              source,
		log:                 log,
		windows:             make(map[string]*Rolling),
		windowSz:            cfg.RollingWindowSize,
		congestionThreshold: cfg.CongestionThreshold,
	}
}

// FailureCount returns the number of consecutive snapshot-fetch failures
// observed so far (reset on the next successful fetch).
func (m *Monitor) FailureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureCount
}

// Run executes one Monitor cycle.
func (m *Monitor) Run(ctx context.Context, cycle int64) Result {
	snap, err := m.source.FetchSnapshot(ctx)
	if err != nil {
		m.mu.Lock()
		m.failureCount++
		m.mu.Unlock()
		m.log.ErrorCtx(ctx, "monitor: snapshot fetch failed", "cycle", cycle, "err", err)
		return Result{Cycle: cycle}
	}
	m.mu.Lock()
	m.failureCount = 0
	m.mu.Unlock()

	result := Result{Cycle: cycle, Aggregates: Aggregates{SmoothedEdges: make(map[string]EdgeAggregate)}}

	var sumQueue, sumDelay float64
	var n int

	type nodeFlags struct {
		congested, spillback bool
	}
	flagsByNode := make(map[string]*nodeFlags)

	for _, obs := range snap.Edges {
		m.graph.AddNode(obs.From, models.NodeSignalised)
		m.graph.AddNode(obs.To, models.NodeSignalised)

		delayDur := time.Duration(obs.Delay * float64(time.Second))
		e := m.graph.UpdateEdgeDynamic(obs.From, obs.To, graph.DynamicUpdate{
			Queue:           obs.Queue,
			Delay:           delayDur,
			Flow:            obs.Flow,
			SpillbackActive: obs.SpillbackActive,
			IncidentActive:  obs.IncidentActive,
			Cycle:           cycle,
		})
		edgeID := models.EdgeID(obs.From, obs.To)
		result.EdgesUpdated = append(result.EdgesUpdated, edgeID)

		w := m.windowFor(edgeID)
		w.Push(obs.Queue, obs.Delay, obs.Flow)

		agg := EdgeAggregate{From: obs.From, To: obs.To, Queue: w.SmoothedQueue(), Delay: w.SmoothedDelay(), Flow: w.SmoothedFlow()}
		result.Aggregates.SmoothedEdges[edgeID] = agg

		sumQueue += agg.Queue
		sumDelay += agg.Delay
		n++
		if agg.Queue > result.Aggregates.MaxQueue {
			result.Aggregates.MaxQueue = agg.Queue
		}
		if agg.Delay > result.Aggregates.MaxDelay {
			result.Aggregates.MaxDelay = agg.Delay
		}

		if obs.SpillbackActive {
			result.Anomalies = append(result.Anomalies, Anomaly{Kind: AnomalySpillback, From: obs.From, To: obs.To, Queue: agg.Queue, Delay: agg.Delay})
		}
		if obs.IncidentActive {
			result.Anomalies = append(result.Anomalies, Anomaly{Kind: AnomalyIncident, From: obs.From, To: obs.To, Queue: agg.Queue, Delay: agg.Delay})
		}
		if agg.Queue > m.congestionThreshold {
			result.Anomalies = append(result.Anomalies, Anomaly{Kind: AnomalyHighCongestion, From: obs.From, To: obs.To, Queue: agg.Queue, Delay: agg.Delay})
		}

		nf, ok := flagsByNode[obs.To]
		if !ok {
			nf = &nodeFlags{}
			flagsByNode[obs.To] = nf
		}
		nf.congested = nf.congested || agg.Queue > m.congestionThreshold
		nf.spillback = nf.spillback || obs.SpillbackActive

		row := knowledge.EdgeRow{
			From: obs.From, To: obs.To,
			Queue: obs.Queue, Delay: delayDur, Flow: obs.Flow,
			SpillbackActive: obs.SpillbackActive, IncidentActive: obs.IncidentActive,
			EdgeCost: e.EdgeCost, Cycle: cycle,
		}
		if err := m.kb.UpsertEdge(ctx, row); err != nil {
			m.log.ErrorCtx(ctx, "monitor: upsert_edge failed", "edge", edgeID, "err", err)
		}
		if err := m.kb.InsertSnapshot(ctx, cycle, snap.Timestamp, obs.From, obs.To, obs.Queue, delayDur, obs.Flow, obs.SpillbackActive, obs.IncidentActive); err != nil {
			m.log.ErrorCtx(ctx, "monitor: insert_snapshot failed", "edge", edgeID, "err", err)
		}
	}

	if n > 0 {
		result.Aggregates.AvgQueue = sumQueue / float64(n)
		result.Aggregates.AvgDelay = sumDelay / float64(n)
	}

	// Recompute each node's derived congestion/spillback flags from its
	// incident (incoming) edges this cycle (spec §3: "recomputed each
	// cycle", "mutated only by Monitor").
	for id, nf := range flagsByNode {
		m.graph.SetNodeFlags(id, nf.congested, nf.spillback)
	}

	return result
}

func (m *Monitor) windowFor(edgeID string) *Rolling {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[edgeID]
	if !ok {
		w = NewRolling(m.windowSz)
		m.windows[edgeID] = w
	}
	return w
}
