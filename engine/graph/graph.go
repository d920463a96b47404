// Package graph implements the Runtime Graph: a concurrent directed
// multi-component graph of intersections and roads shared by every MAPE
// stage within one controller process.
package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/aegislights/controller/engine/models"
)

// RuntimeGraph is the single shared, mutation-serialized graph instance.
// Nodes and edges are stored in id-keyed maps (an arena, per spec §9) rather
// than linked by pointer, so a Snapshot is a cheap value copy with no shared
// mutable state.
type RuntimeGraph struct {
	mu    sync.RWMutex
	nodes map[string]*models.Node
	edges map[string]*models.Edge // keyed by models.EdgeID(from,to)
}

// New returns an empty Runtime Graph.
func New() *RuntimeGraph {
	return &RuntimeGraph{
		nodes: make(map[string]*models.Node),
		edges: make(map[string]*models.Edge),
	}
}

// AddNode registers a node, tagging its kind permanently. Re-adding an
// existing id is a no-op (kind never changes after creation).
func (g *RuntimeGraph) AddNode(id string, kind models.NodeKind) *models.Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &models.Node{ID: id, Kind: kind}
	g.nodes[id] = n
	return n
}

// AddEdge registers a directed edge with the given static attributes. It is
// idempotent: calling it again on an existing edge leaves static fields
// untouched and only backfills the incoming/outgoing sets.
func (g *RuntimeGraph) AddEdge(e models.Edge) *models.Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureEdgeLocked(e.From, e.To, &e)
}

// EnsureEdge idempotently creates an edge with zero dynamic/static defaults
// if it does not already exist, and returns a copy of it either way.
func (g *RuntimeGraph) EnsureEdge(from, to string) *models.Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureEdgeLocked(from, to, nil).Clone()
}

func (g *RuntimeGraph) ensureEdgeLocked(from, to string, seed *models.Edge) *models.Edge {
	id := models.EdgeID(from, to)
	e, ok := g.edges[id]
	if !ok {
		e = &models.Edge{}
		if seed != nil {
			*e = *seed
		}
		e.From, e.To, e.ID = from, to, id
		g.edges[id] = e
	}

	if fromNode, ok := g.nodes[from]; ok {
		fromNode.Outgoing = appendUnique(fromNode.Outgoing, id)
	}
	if toNode, ok := g.nodes[to]; ok {
		toNode.Incoming = appendUnique(toNode.Incoming, id)
	}
	return e
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// GetNode returns the node with the given id, or nil if absent.
func (g *RuntimeGraph) GetNode(id string) *models.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// GetEdge returns a copy of the edge (from,to), or nil if absent.
func (g *RuntimeGraph) GetEdge(from, to string) *models.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[models.EdgeID(from, to)]
	if !ok {
		return nil
	}
	return e.Clone()
}

// GetNeighbors returns the ids of nodes reachable via one outgoing edge.
func (g *RuntimeGraph) GetNeighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.Outgoing))
	for _, edgeID := range n.Outgoing {
		if e, ok := g.edges[edgeID]; ok {
			out = append(out, e.To)
		}
	}
	return out
}

// Predecessors returns the ids of nodes with an outgoing edge into id.
func (g *RuntimeGraph) Predecessors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.Incoming))
	for _, edgeID := range n.Incoming {
		if e, ok := g.edges[edgeID]; ok {
			out = append(out, e.From)
		}
	}
	return out
}

// DynamicUpdate carries the fields Monitor refreshes every cycle.
type DynamicUpdate struct {
	Queue           float64
	Delay           time.Duration
	Flow            float64
	SpillbackActive bool
	IncidentActive  bool
	Cycle           int64
}

// UpdateEdgeDynamic writes Monitor's latest observation onto an edge,
// creating it with zero static attributes first if necessary (spec §3: an
// edge is created on first observation if absent from the initial topology).
func (g *RuntimeGraph) UpdateEdgeDynamic(from, to string, u DynamicUpdate) *models.Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.ensureEdgeLocked(from, to, nil)
	e.Queue = u.Queue
	e.Delay = u.Delay
	e.Flow = u.Flow
	e.SpillbackActive = u.SpillbackActive
	e.IncidentActive = u.IncidentActive
	e.UpdatedCycle = u.Cycle
	return e
}

// SetEdgeCost writes the Analyzer-computed scalar cost back onto an edge.
func (g *RuntimeGraph) SetEdgeCost(from, to string, cost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.edges[models.EdgeID(from, to)]; ok {
		e.EdgeCost = cost
	}
}

// SetNodeFlags writes Monitor-derived congestion/spillback flags.
func (g *RuntimeGraph) SetNodeFlags(id string, congested, spillback bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.IsCongested = congested
		n.HasSpillback = spillback
	}
}

// ApplyPlan writes the Executor's accepted decision onto a node.
func (g *RuntimeGraph) ApplyPlan(id, planID string, offset, cycleLength time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return models.ErrUnknownIntersection
	}
	if !n.Signalised() {
		return models.ErrVirtualIntersection
	}
	n.CurrentPlanID = planID
	n.CurrentOffset = offset
	n.CycleLength = cycleLength
	return nil
}

// GetEdgeIDs returns every known edge id in a stable (sorted) order, so
// algorithms that iterate edges are deterministic across runs.
func (g *RuntimeGraph) GetEdgeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.edges))
	for id := range g.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeIDs returns every known node id in sorted order.
func (g *RuntimeGraph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot is a point-in-time, read-only copy of the whole graph, safe to
// hand to long-running algorithms (k-shortest paths) without holding the
// graph lock across their execution.
type Snapshot struct {
	Nodes map[string]models.Node
	Edges map[string]models.Edge
}

// Snapshot takes the read lock once and copies every node/edge by value.
func (g *RuntimeGraph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Snapshot{
		Nodes: make(map[string]models.Node, len(g.nodes)),
		Edges: make(map[string]models.Edge, len(g.edges)),
	}
	for id, n := range g.nodes {
		s.Nodes[id] = *n
	}
	for id, e := range g.edges {
		s.Edges[id] = *e
	}
	return s
}

// EdgeIDs returns a stable (sorted) ordering of edges present in the
// snapshot, mirroring RuntimeGraph.GetEdgeIDs for algorithms that only hold a
// Snapshot.
func (s Snapshot) EdgeIDs() []string {
	ids := make([]string, 0, len(s.Edges))
	for id := range s.Edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Neighbors returns the "to" endpoints of id's outgoing edges within the
// snapshot.
func (s Snapshot) Neighbors(id string) []string {
	n, ok := s.Nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.Outgoing))
	for _, edgeID := range n.Outgoing {
		if e, ok := s.Edges[edgeID]; ok {
			out = append(out, e.To)
		}
	}
	return out
}

// Predecessors returns the "from" endpoints of id's incoming edges within
// the snapshot.
func (s Snapshot) Predecessors(id string) []string {
	n, ok := s.Nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.Incoming))
	for _, edgeID := range n.Incoming {
		if e, ok := s.Edges[edgeID]; ok {
			out = append(out, e.From)
		}
	}
	return out
}
