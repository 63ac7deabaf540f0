// Package graph implements TaskGraph: a mapping from graph id to a DAG of
// TaskNodes plus a flat task_id index.
//
// A Graph holds many named sub-graphs. Edges express sibling ordering
// dependencies and live entirely within one sub-graph; parent/child
// relationships span sub-graphs via TaskNode.SubGraphID /
// TaskNode.ParentNodeID. Exactly one sub-graph is marked root.
//
// This is a mutable, incrementally-grown forest of DAGs — planners add
// sub-graphs as the orchestrator runs — so cycle checking happens per
// AddEdge call instead of once at construction.
package graph

import (
	"container/heap"
	"sort"
	"sync"

	"taskweaver/internal/apperrors"
	"taskweaver/internal/node"
)

type subGraph struct {
	id     string
	isRoot bool

	nodeIDs []string // insertion order, canonical for iteration
	nodes   map[string]*node.TaskNode

	edges    []Edge
	outgoing map[string][]string // sorted
	incoming map[string][]string // sorted
}

// Graph is the concurrency-safe container for all sub-graphs in a single
// execution. It is the only place sub-graph structure (nodes + edges) is
// mutated; TaskNode field mutation (status, result, ...) happens through
// internal/transition but nodes are only ever added here, never removed
// individually (only whole sub-graphs are discarded).
type Graph struct {
	mu sync.RWMutex

	subGraphs   map[string]*subGraph
	rootGraphID string
	index       map[string]*node.TaskNode // flat task_id -> node, across all sub-graphs

	version uint64
}

// New returns an empty Graph with no sub-graphs.
func New() *Graph {
	return &Graph{
		subGraphs: make(map[string]*subGraph),
		index:     make(map[string]*node.TaskNode),
	}
}

// Version returns a monotonically increasing counter bumped on every
// mutation, used by internal/scheduler to invalidate its readiness cache.
func (g *Graph) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// AddGraph registers a new, empty sub-graph. At most one sub-graph may be
// marked root; callers create exactly one root graph when initializing the
// orchestrator.
func (g *Graph) AddGraph(id string, isRoot bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == "" {
		return apperrors.NewCorruptGraphError("graph id is required")
	}
	if _, exists := g.subGraphs[id]; exists {
		return apperrors.NewCorruptGraphError("duplicate graph id: " + id)
	}
	if isRoot && g.rootGraphID != "" {
		return apperrors.NewCorruptGraphError("root graph already set: " + g.rootGraphID)
	}

	g.subGraphs[id] = &subGraph{
		id:       id,
		isRoot:   isRoot,
		nodes:    make(map[string]*node.TaskNode),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
	if isRoot {
		g.rootGraphID = id
	}
	g.version++
	return nil
}

// RootGraphID returns the id of the sub-graph marked root, or "" if none
// has been added yet.
func (g *Graph) RootGraphID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rootGraphID
}

// AddNode inserts n into the named sub-graph and the flat index.
//
// Enforces the invariant that a non-root node must reference an existing
// PLAN-type parent whose SubGraphID equals graphID. The very first node
// ever added to the root graph is exempt (it is the synthetic root task
// and has no parent).
func (g *Graph) AddNode(graphID string, n *node.TaskNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sg, ok := g.subGraphs[graphID]
	if !ok {
		return apperrors.NewMissingNodeError("unknown graph: " + graphID)
	}
	if n.TaskID == "" {
		return apperrors.NewMissingNodeError("task id is required")
	}
	if _, exists := g.index[n.TaskID]; exists {
		return apperrors.NewCorruptGraphError("duplicate task id: " + n.TaskID)
	}

	isFirstRootNode := sg.isRoot && len(g.index) == 0
	if !isFirstRootNode {
		if n.ParentNodeID == "" {
			return apperrors.NewMissingNodeError("non-root node requires a parent: " + n.TaskID)
		}
		parent, ok := g.index[n.ParentNodeID]
		if !ok {
			return apperrors.NewMissingNodeError("parent not found: " + n.ParentNodeID)
		}
		if parent.NodeType != node.NodePlan {
			return apperrors.NewCorruptGraphError("parent is not a PLAN node: " + n.ParentNodeID)
		}
		if parent.SubGraphID != graphID {
			return apperrors.NewCorruptGraphError("parent sub_graph_id mismatch for " + n.TaskID)
		}
		if n.Layer != parent.Layer+1 {
			return apperrors.NewCorruptGraphError("layer invariant violated for " + n.TaskID)
		}
	}

	sg.nodeIDs = append(sg.nodeIDs, n.TaskID)
	sg.nodes[n.TaskID] = n
	g.index[n.TaskID] = n
	g.version++
	return nil
}

// AddEdge records a sibling dependency From -> To within graphID (To may
// only run once From is DONE). Rejects self-loops, duplicates, endpoints
// outside graphID, and anything that would introduce a cycle, leaving the
// graph unchanged on rejection.
func (g *Graph) AddEdge(graphID, fromID, toID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sg, ok := g.subGraphs[graphID]
	if !ok {
		return apperrors.NewMissingNodeError("unknown graph: " + graphID)
	}
	if _, ok := sg.nodes[fromID]; !ok {
		return apperrors.NewMissingNodeError("edge references unknown task (from): " + fromID)
	}
	if _, ok := sg.nodes[toID]; !ok {
		return apperrors.NewMissingNodeError("edge references unknown task (to): " + toID)
	}
	if fromID == toID {
		return apperrors.NewCorruptGraphError("self-loop: " + fromID)
	}
	for _, e := range sg.edges {
		if e.From == fromID && e.To == toID {
			return apperrors.NewCorruptGraphError("duplicate edge: " + fromID + " -> " + toID)
		}
	}

	sg.outgoing[fromID] = insertSorted(sg.outgoing[fromID], toID)
	sg.incoming[toID] = insertSorted(sg.incoming[toID], fromID)
	sg.edges = append(sg.edges, Edge{From: fromID, To: toID})

	if hasCycle(sg) {
		// Roll back.
		sg.outgoing[fromID] = removeOne(sg.outgoing[fromID], toID)
		sg.incoming[toID] = removeOne(sg.incoming[toID], fromID)
		sg.edges = sg.edges[:len(sg.edges)-1]
		return apperrors.NewCycleError(fromID + " -> " + toID)
	}

	g.version++
	return nil
}

// GetNode looks up a node by task id across all sub-graphs.
func (g *Graph) GetNode(taskID string) (*node.TaskNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.index[taskID]
	return n, ok
}

// GetNodesInGraph returns the nodes of graphID in insertion order.
func (g *Graph) GetNodesInGraph(graphID string) []*node.TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sg, ok := g.subGraphs[graphID]
	if !ok {
		return nil
	}
	out := make([]*node.TaskNode, 0, len(sg.nodeIDs))
	for _, id := range sg.nodeIDs {
		out = append(out, sg.nodes[id])
	}
	return out
}

// AllNodes returns every node across every sub-graph. Order is undefined
// across sub-graphs but stable within one.
func (g *Graph) AllNodes() []*node.TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	graphIDs := make([]string, 0, len(g.subGraphs))
	for id := range g.subGraphs {
		graphIDs = append(graphIDs, id)
	}
	sort.Strings(graphIDs)

	out := make([]*node.TaskNode, 0, len(g.index))
	for _, gid := range graphIDs {
		sg := g.subGraphs[gid]
		for _, id := range sg.nodeIDs {
			out = append(out, sg.nodes[id])
		}
	}
	return out
}

// Predecessors returns the sorted list of task ids that must be DONE
// before taskID may become READY, per the graph's edge set.
func (g *Graph) Predecessors(graphID, taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sg, ok := g.subGraphs[graphID]
	if !ok {
		return nil
	}
	return append([]string(nil), sg.incoming[taskID]...)
}

// ContainerGraph scans every sub-graph for taskID and returns its
// containing graph id, or "" if not found. Mirrors ROMA's
// DeadlockDetector._find_container_graph.
func (g *Graph) ContainerGraph(taskID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, sg := range g.subGraphs {
		if _, ok := sg.nodes[taskID]; ok {
			return id
		}
	}
	return ""
}

// HasGraph reports whether graphID has been registered.
func (g *Graph) HasGraph(graphID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.subGraphs[graphID]
	return ok
}

// GraphIDs returns every registered sub-graph id, sorted, for callers (the
// checkpoint collaborator) that need to enumerate and serialize the whole
// forest rather than walk it from the root.
func (g *Graph) GraphIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.subGraphs))
	for id := range g.subGraphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRootGraph reports whether graphID is the sub-graph marked root.
func (g *Graph) IsRootGraph(graphID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sg, ok := g.subGraphs[graphID]
	return ok && sg.isRoot
}

// Edges returns graphID's edges in canonical (sorted) order.
func (g *Graph) Edges(graphID string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sg, ok := g.subGraphs[graphID]
	if !ok {
		return nil
	}
	edges := append([]Edge(nil), sg.edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// RemoveGraphAndDescendants discards graphID and, recursively, every
// sub-graph planted by a PLAN node within it (i.e. every node's
// SubGraphID). Used when a replan discards a stale plan.
func (g *Graph) RemoveGraphAndDescendants(graphID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(graphID)
}

func (g *Graph) removeLocked(graphID string) error {
	sg, ok := g.subGraphs[graphID]
	if !ok {
		return nil
	}

	// Recurse into descendant sub-graphs first (post-order), collecting
	// ids before mutating sg.nodes (removeLocked deletes from g.index).
	children := make([]string, 0)
	for _, id := range sg.nodeIDs {
		if n := sg.nodes[id]; n.SubGraphID != "" {
			children = append(children, n.SubGraphID)
		}
	}
	for _, cid := range children {
		if err := g.removeLocked(cid); err != nil {
			return err
		}
	}

	for _, id := range sg.nodeIDs {
		delete(g.index, id)
	}
	delete(g.subGraphs, graphID)
	if g.rootGraphID == graphID {
		g.rootGraphID = ""
	}
	g.version++
	return nil
}

// TopologicalOrder returns a deterministic topological ordering (via
// Kahn's algorithm, breaking ties by ascending task id) of every node in
// graphID. Isolated nodes (no edges) are naturally included in id order
// since they have indegree 0 throughout.
func (g *Graph) TopologicalOrder(graphID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sg, ok := g.subGraphs[graphID]
	if !ok {
		return nil
	}
	return topoOrder(sg)
}

func topoOrder(sg *subGraph) []string {
	indeg := make(map[string]int, len(sg.nodeIDs))
	for _, id := range sg.nodeIDs {
		indeg[id] = 0
	}
	for _, e := range sg.edges {
		indeg[e.To]++
	}

	ready := &stringMinHeap{}
	heap.Init(ready)
	for _, id := range sg.nodeIDs {
		if indeg[id] == 0 {
			heap.Push(ready, id)
		}
	}

	out := make([]string, 0, len(sg.nodeIDs))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		out = append(out, id)
		for _, dep := range sg.outgoing[id] {
			indeg[dep]--
			if indeg[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}
	return out
}

func hasCycle(sg *subGraph) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(sg.nodeIDs))

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range sg.outgoing[u] {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, id := range sg.nodeIDs {
		if color[id] == white {
			if dfs(id) {
				return true
			}
		}
	}
	return false
}

func insertSorted(xs []string, x string) []string {
	i := sort.SearchStrings(xs, x)
	xs = append(xs, "")
	copy(xs[i+1:], xs[i:])
	xs[i] = x
	return xs
}

func removeOne(xs []string, x string) []string {
	for i, v := range xs {
		if v == x {
			return append(xs[:i], xs[i+1:]...)
		}
	}
	return xs
}

type stringMinHeap []string

func (h stringMinHeap) Len() int            { return len(h) }
func (h stringMinHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h stringMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *stringMinHeap) Push(x any)         { *h = append(*h, x.(string)) }
func (h *stringMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
