// Package scheduler resolves which TaskNodes are executable right now and
// surfaces them to the orchestrator in a fair, deterministic order.
//
// Readiness computation over the graph is pure, but the Scheduler also owns
// the PENDING -> READY transition and a version-keyed cache, since the
// graph mutates at runtime as planners add children.
package scheduler

import (
	"sort"
	"time"

	"taskweaver/internal/graph"
	"taskweaver/internal/node"
	"taskweaver/internal/transition"
)

// parentAllowsExecutable is the guard on a node's parent status for the
// node itself to be considered for dispatch, distinct from
// ParentAllowsChildReady which gates PENDING -> READY.
func parentAllowsExecutable(s node.Status) bool {
	switch s {
	case node.StatusRunning, node.StatusPlanDone, node.StatusDone, node.StatusAggregating:
		return true
	default:
		return false
	}
}

// Scheduler tracks readiness over a graph.Graph, caching the executable set
// per graph version so repeated GetReadyNodes calls within one scheduler
// iteration don't re-walk dependency edges.
type Scheduler struct {
	g *graph.Graph
	t *transition.Manager

	cachedVersion uint64
	cachedReady   []*node.TaskNode
	cacheValid    bool
}

// New constructs a Scheduler bound to g. t drives the PENDING -> READY
// transitions UpdateNodeReadiness performs; it may be nil if the caller
// only intends to use GetReadyNodes for its own bookkeeping (tests).
func New(g *graph.Graph, t *transition.Manager) *Scheduler {
	return &Scheduler{g: g, t: t}
}

// dependencyIDs returns the union of n's two dependency-resolution sources:
// depends_on_indices resolved against the parent's planned_sub_task_ids,
// and graph predecessors within n's containing graph.
func dependencyIDs(g *graph.Graph, n *node.TaskNode) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	if n.ParentNodeID != "" {
		if parent, ok := g.GetNode(n.ParentNodeID); ok {
			for _, idx := range n.DependsOnIndices {
				if idx >= 0 && idx < len(parent.PlannedSubTaskIDs) {
					add(parent.PlannedSubTaskIDs[idx])
				}
			}
		}
	}

	graphID := g.ContainerGraph(n.TaskID)
	if graphID != "" {
		for _, id := range g.Predecessors(graphID, n.TaskID) {
			add(id)
		}
	}

	return ids
}

// dependenciesSatisfied reports whether every id in dependencyIDs(n)
// resolves to a DONE node.
func dependenciesSatisfied(g *graph.Graph, n *node.TaskNode) bool {
	for _, id := range dependencyIDs(g, n) {
		dep, ok := g.GetNode(id)
		if !ok || dep.Status != node.StatusDone {
			return false
		}
	}
	return true
}

// isExecutable reports whether n is currently a candidate for dispatch:
// READY or AGGREGATING, its parent in an allowing status, and every
// dependency DONE.
func isExecutable(g *graph.Graph, n *node.TaskNode) bool {
	if n.Status != node.StatusReady && n.Status != node.StatusAggregating {
		return false
	}
	if n.ParentNodeID != "" {
		parent, ok := g.GetNode(n.ParentNodeID)
		if !ok || !parentAllowsExecutable(parent.Status) {
			return false
		}
	}
	return dependenciesSatisfied(g, n)
}

// UpdateNodeReadiness scans every PENDING node and transitions it to READY
// wherever its parent is RUNNING/PLAN_DONE/DONE/AGGREGATING and every
// predecessor in the same graph is DONE. It returns the count of nodes
// transitioned and invalidates the readiness cache if any were.
func (s *Scheduler) UpdateNodeReadiness() int {
	count := 0
	for _, n := range s.g.AllNodes() {
		n.Lock()
		status := n.Status
		n.Unlock()
		if status != node.StatusPending {
			continue
		}

		parentOK := n.ParentNodeID == ""
		if !parentOK {
			if parent, ok := s.g.GetNode(n.ParentNodeID); ok {
				parentOK = node.ParentAllowsChildReady(parent.Status)
			}
		}
		if !parentOK || !dependenciesSatisfied(s.g, n) {
			continue
		}

		if s.t != nil {
			if err := s.t.Transition(n, node.StatusReady, "dependencies satisfied"); err != nil {
				continue
			}
		} else {
			n.Lock()
			n.Status = node.StatusReady
			n.Unlock()
		}
		count++
	}
	if count > 0 {
		s.invalidate()
	}
	return count
}

func (s *Scheduler) invalidate() { s.cacheValid = false }

// Invalidate forces the next GetReadyNodes call to recompute the
// executable set, even though the graph's structural Version() hasn't
// changed. Callers that transition a node's status directly (the
// processor dispatching a handler, the orchestrator forcing a PLAN_DONE ->
// AGGREGATING promotion) mutate readiness without adding or removing graph
// structure, so Version() alone cannot detect the change.
func (s *Scheduler) Invalidate() { s.invalidate() }

// GetReadyNodes returns up to max executable nodes (0 means unlimited)
// sorted by (layer ascending, timestamp_created ascending). Results are
// cached until the graph's version changes.
func (s *Scheduler) GetReadyNodes(max int) []*node.TaskNode {
	v := s.g.Version()
	if !s.cacheValid || v != s.cachedVersion {
		s.cachedReady = s.computeReady()
		s.cachedVersion = v
		s.cacheValid = true
	}

	if max <= 0 || max >= len(s.cachedReady) {
		out := make([]*node.TaskNode, len(s.cachedReady))
		copy(out, s.cachedReady)
		return out
	}
	out := make([]*node.TaskNode, max)
	copy(out, s.cachedReady[:max])
	return out
}

func (s *Scheduler) computeReady() []*node.TaskNode {
	var ready []*node.TaskNode
	for _, n := range s.g.AllNodes() {
		if isExecutable(s.g, n) {
			ready = append(ready, n)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Layer != ready[j].Layer {
			return ready[i].Layer < ready[j].Layer
		}
		return timestampBefore(ready[i].TimestampCreated, ready[j].TimestampCreated)
	})
	return ready
}

func timestampBefore(a, b time.Time) bool { return a.Before(b) }

// TopologicalOrder delegates to the graph's Kahn's-algorithm ordering for
// graphID, exposed here so callers that think in scheduler terms don't need
// to reach into internal/graph directly.
func (s *Scheduler) TopologicalOrder(graphID string) []string {
	return s.g.TopologicalOrder(graphID)
}
