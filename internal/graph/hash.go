package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"taskweaver/internal/node"
)

// ComputeTaskDefHash hashes a planned sub-task's declarative definition.
// Identity is computed solely from content that defines the task,
// excluding anything runtime-assigned (task id, timestamps, status).
func ComputeTaskDefHash(goal string, taskType node.TaskType, nodeType node.NodeType, dependsOn []int) TaskDefHash {
	h := sha256.New()
	h.Write([]byte(goal))
	h.Write([]byte{0})
	h.Write([]byte(taskType))
	h.Write([]byte{0})
	h.Write([]byte(nodeType))
	h.Write([]byte{0})
	deps := append([]int(nil), dependsOn...)
	sort.Ints(deps)
	for _, d := range deps {
		h.Write([]byte(strconv.Itoa(d)))
		h.Write([]byte{','})
	}
	return TaskDefHash(hex.EncodeToString(h.Sum(nil)))
}

// ComputeHash returns the deterministic structural hash of a sub-graph:
// its nodes (by task id + status + def hash) and edges, in canonical
// (sorted) order. It intentionally excludes Result/AuxData/timestamps so
// the hash reflects graph shape and progress, not payload content.
func (g *Graph) ComputeHash(graphID string) (GraphHash, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sg, ok := g.subGraphs[graphID]
	if !ok {
		return "", fmt.Errorf("unknown graph: %q", graphID)
	}

	ids := append([]string(nil), sg.nodeIDs...)
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		n := sg.nodes[id]
		def := ComputeTaskDefHash(n.Goal, n.TaskType, n.NodeType, n.DependsOnIndices)
		fmt.Fprintf(&b, "N|%s|%s|%s|%d\n", id, n.Status, def, n.Layer)
	}

	edges := append([]Edge(nil), sg.edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	for _, e := range edges {
		fmt.Fprintf(&b, "E|%s|%s\n", e.From, e.To)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return GraphHash(hex.EncodeToString(sum[:])), nil
}
