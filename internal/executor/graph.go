package executor

import (
	"fmt"
	"sort"

	"github.com/edgeflow/edgeflow/internal/workflow"
)

// edgesByTarget indexes non-back-edges by (target node, target port), in
// edge insertion order, and a separate full index by target node alone.
// Back-edges are deliberately excluded: the back-edge loop reads
// wf.Edges directly to find the edges feeding its next iteration.
type edgeIndex struct {
	byTarget     map[string][]workflow.Edge // target node id -> edges, insertion order
	byTargetPort map[string][]workflow.Edge // "nodeID\x00port" -> edges, insertion order
	bySource     map[string][]workflow.Edge // source node id -> edges, insertion order
}

func buildEdgeIndex(edges []workflow.Edge) edgeIndex {
	idx := edgeIndex{
		byTarget:     map[string][]workflow.Edge{},
		byTargetPort: map[string][]workflow.Edge{},
		bySource:     map[string][]workflow.Edge{},
	}
	for _, e := range edges {
		if e.IsBackEdge {
			continue
		}
		idx.byTarget[e.Target] = append(idx.byTarget[e.Target], e)
		key := e.Target + "\x00" + e.TargetPort
		idx.byTargetPort[key] = append(idx.byTargetPort[key], e)
		idx.bySource[e.Source] = append(idx.bySource[e.Source], e)
	}
	return idx
}

func (idx edgeIndex) portValues(nodeID, port string) []workflow.Edge {
	return idx.byTargetPort[nodeID+"\x00"+port]
}

// topoSort returns nodeIDs in a valid topological order over the edges
// connecting only nodes present in nodeIDs. Returns an error naming a
// participating node if the induced subgraph is cyclic.
func topoSort(nodeIDs []string, edges []workflow.Edge) ([]string, error) {
	inSet := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		inSet[id] = true
	}

	indegree := make(map[string]int, len(nodeIDs))
	adj := make(map[string][]string)
	for _, id := range nodeIDs {
		indegree[id] = 0
	}
	for _, e := range edges {
		if e.IsBackEdge || !inSet[e.Source] || !inSet[e.Target] {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		indegree[e.Target]++
	}

	// Deterministic ordering: always pick the lexicographically smallest
	// ready node id.
	ready := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		next := append([]string(nil), adj[n]...)
		sort.Strings(next)
		for _, m := range next {
			indegree[m]--
			if indegree[m] == 0 {
				ready = insertSorted(ready, m)
			}
		}
	}

	if len(order) != len(nodeIDs) {
		for _, id := range nodeIDs {
			if indegree[id] > 0 {
				return nil, fmt.Errorf("cyclic graph at node %s", id)
			}
		}
		return nil, fmt.Errorf("cyclic graph")
	}
	return order, nil
}

func insertSorted(sorted []string, v string) []string {
	i := sort.SearchStrings(sorted, v)
	sorted = append(sorted, "")
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = v
	return sorted
}

// forwardReachable returns every node reachable from the outputs of
// startID by following non-back-edges, stopping (not expanding past) any
// node in stop. startID and nodes in stop are never included in the
// result.
func forwardReachable(startID string, idx edgeIndex, stop map[string]bool) []string {
	seen := map[string]bool{startID: true}
	var order []string
	queue := []string{startID}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		next := append([]workflow.Edge(nil), idx.bySource[cur]...)
		sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
		for _, e := range next {
			if seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			if stop[e.Target] {
				continue
			}
			order = append(order, e.Target)
			queue = append(queue, e.Target)
		}
	}
	return order
}
