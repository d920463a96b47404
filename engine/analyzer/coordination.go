package analyzer

import (
	"sort"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/models"
)

const defaultCoordinationCutoff = 3

// coordinationGroups clusters affected signalised intersections by hop
// distance on the undirected projection of the graph (spec §4.4). Only
// emitted when coordination is enabled and at least two intersections are
// affected; a group is kept only if its final size is ≥ 2.
func coordinationGroups(snap graph.Snapshot, affected []string, cutoff int) []models.CoordinationGroup {
	if cutoff <= 0 {
		cutoff = defaultCoordinationCutoff
	}
	signalised := make([]string, 0, len(affected))
	for _, id := range affected {
		if n, ok := snap.Nodes[id]; ok && n.Signalised() {
			signalised = append(signalised, id)
		}
	}
	sort.Strings(signalised)
	if len(signalised) < 2 {
		return nil
	}

	adjacency := undirectedAdjacency(snap)
	visited := make(map[string]bool, len(signalised))
	var groups []models.CoordinationGroup

	for _, seed := range signalised {
		if visited[seed] {
			continue
		}
		members := bfsWithinCutoff(adjacency, seed, cutoff, signalised)
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		for _, m := range members {
			visited[m] = true
		}
		groups = append(groups, models.CoordinationGroup{Representative: members[0], Members: members})
	}
	return groups
}

func undirectedAdjacency(snap graph.Snapshot) map[string][]string {
	adj := make(map[string][]string, len(snap.Nodes))
	for id := range snap.Nodes {
		for _, nb := range snap.Neighbors(id) {
			adj[id] = appendUniqueStr(adj[id], nb)
			adj[nb] = appendUniqueStr(adj[nb], id)
		}
	}
	return adj
}

func appendUniqueStr(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// bfsWithinCutoff returns every signalised-and-affected node reachable from
// seed within cutoff hops, seed included.
func bfsWithinCutoff(adj map[string][]string, seed string, cutoff int, affectedSet []string) []string {
	isAffected := make(map[string]bool, len(affectedSet))
	for _, a := range affectedSet {
		isAffected[a] = true
	}

	type frame struct {
		node string
		dist int
	}
	queue := []frame{{node: seed, dist: 0}}
	seen := map[string]bool{seed: true}
	var members []string
	if isAffected[seed] {
		members = append(members, seed)
	}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if f.dist >= cutoff {
			continue
		}
		for _, nb := range adj[f.node] {
			if seen[nb] {
				continue
			}
			seen[nb] = true
			if isAffected[nb] {
				members = append(members, nb)
			}
			queue = append(queue, frame{node: nb, dist: f.dist + 1})
		}
	}
	return members
}
