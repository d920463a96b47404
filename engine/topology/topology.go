// Package topology loads the static intersection/road layout a Runtime
// Graph is seeded with at startup (spec §3: "Created at startup from the
// topology"). The reference network (spec §6) is five signalised
// intersections and eight virtual endpoints over 28 directed edges.
package topology

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/models"
)

// NodeSpec describes one intersection at load time.
type NodeSpec struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"` // "signalised" | "virtual"
}

// EdgeSpec describes one directed road's static attributes at load time.
type EdgeSpec struct {
	From            string  `yaml:"from"`
	To              string  `yaml:"to"`
	Capacity        float64 `yaml:"capacity"`
	FreeFlowSeconds float64 `yaml:"free_flow_seconds"`
	Length          float64 `yaml:"length"`
	Lanes           int     `yaml:"lanes"`
}

// Spec is the full static layout: nodes plus their directed roads.
type Spec struct {
	Nodes []NodeSpec `yaml:"nodes"`
	Edges []EdgeSpec `yaml:"edges"`
}

// LoadFile parses a topology YAML file of the Spec shape.
func LoadFile(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("topology: read file: %w", err)
	}
	var s Spec
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Spec{}, fmt.Errorf("topology: parse file: %w", err)
	}
	return s, nil
}

// Seed registers every node and edge of spec onto g. Idempotent: re-seeding
// an already-populated graph leaves existing nodes/edges untouched
// (RuntimeGraph.AddNode/AddEdge are themselves idempotent).
func Seed(g *graph.RuntimeGraph, spec Spec) {
	for _, n := range spec.Nodes {
		kind := models.NodeVirtual
		if n.Kind == "signalised" {
			kind = models.NodeSignalised
		}
		g.AddNode(n.ID, kind)
	}
	for _, e := range spec.Edges {
		g.AddEdge(models.Edge{
			From:         e.From,
			To:           e.To,
			Capacity:     e.Capacity,
			FreeFlowTime: time.Duration(e.FreeFlowSeconds * float64(time.Second)),
			Length:       e.Length,
			Lanes:        e.Lanes,
		})
	}
}

// Reference returns the five-intersection, eight-virtual-endpoint, 28-edge
// network the spec's end-to-end scenarios are expressed against (spec §6,
// grounded on the original's CITYFLOW_EDGES table: 12 signalised<->signalised
// edges plus 16 virtual in/out edges, 2 per virtual node).
func Reference() Spec {
	signalised := []string{"A", "B", "C", "D", "E"}
	virtual := []string{"1", "2", "3", "4", "5", "6", "7", "8"}

	nodes := make([]NodeSpec, 0, len(signalised)+len(virtual))
	for _, id := range signalised {
		nodes = append(nodes, NodeSpec{ID: id, Kind: "signalised"})
	}
	for _, id := range virtual {
		nodes = append(nodes, NodeSpec{ID: id, Kind: "virtual"})
	}

	// Signalised <-> signalised pairs, both directions (12 edges).
	corePairs := [][2]string{
		{"A", "B"}, {"A", "C"}, {"B", "C"}, {"B", "D"}, {"C", "E"}, {"D", "E"},
	}
	// Each signalised node's virtual endpoints, both directions (16 edges).
	virtualLinks := map[string][]string{
		"A": {"1", "2"},
		"B": {"3", "4"},
		"C": {"5", "6"},
		"D": {"7"},
		"E": {"8"},
	}

	edges := make([]EdgeSpec, 0, 28)
	for _, p := range corePairs {
		edges = append(edges,
			EdgeSpec{From: p[0], To: p[1], Capacity: 1800, FreeFlowSeconds: 20, Length: 300, Lanes: 2},
			EdgeSpec{From: p[1], To: p[0], Capacity: 1800, FreeFlowSeconds: 20, Length: 300, Lanes: 2},
		)
	}
	for node, endpoints := range virtualLinks {
		for _, v := range endpoints {
			edges = append(edges,
				EdgeSpec{From: node, To: v, Capacity: 900, FreeFlowSeconds: 10, Length: 150, Lanes: 1},
				EdgeSpec{From: v, To: node, Capacity: 900, FreeFlowSeconds: 10, Length: 150, Lanes: 1},
			)
		}
	}

	return Spec{Nodes: nodes, Edges: edges}
}
