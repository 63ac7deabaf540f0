// Package deadlock implements DeadlockDetector: five heuristics run
// periodically by the orchestrator to catch graphs that have stopped
// making progress.
//
// The circular-dependency pattern reuses a DFS white/gray/black cycle
// search; the other four patterns are graph-shape checks: parent/child
// sync faults, stuck aggregation, single-node hangs, and orphaned nodes.
package deadlock

import (
	"fmt"
	"sort"
	"time"

	"taskweaver/internal/graph"
	"taskweaver/internal/node"
)

// Pattern names one of the five fault categories the detector recognizes.
type Pattern string

const (
	PatternCircularDependency Pattern = "circular_dependency"
	PatternParentChildSync    Pattern = "parent_child_sync_fault"
	PatternStuckAggregation   Pattern = "stuck_aggregation"
	PatternSingleNodeHang     Pattern = "single_node_hang"
	PatternOrphanedNode       Pattern = "orphaned_node"
)

// Finding is one detector hit: {pattern, affected_nodes, reason,
// suggested_recovery}.
type Finding struct {
	Pattern           Pattern
	AffectedNodes     []string
	Reason            string
	SuggestedRecovery string
}

// Detector runs the five patterns against a graph.Graph.
type Detector struct {
	g                       *graph.Graph
	stuckAggregationThreshold float64
	singleNodeHangThreshold time.Duration
	now                     func() time.Time
}

// DefaultStuckAggregationThreshold is the initial value of the Detector's
// stuck-aggregation fraction. detectStuckAggregation does not consult it: a
// PLAN_DONE node is flagged only when none of its non-terminal children can
// progress, whatever fraction of them is DONE.
const DefaultStuckAggregationThreshold = 0.8

// DefaultSingleNodeHangThreshold is how long a single RUNNING node may
// run before it's considered hung.
const DefaultSingleNodeHangThreshold = 120 * time.Second

// New constructs a Detector over g with the default thresholds.
func New(g *graph.Graph) *Detector {
	return &Detector{
		g:                       g,
		stuckAggregationThreshold: DefaultStuckAggregationThreshold,
		singleNodeHangThreshold: DefaultSingleNodeHangThreshold,
		now:                     time.Now,
	}
}

// SetStuckAggregationThreshold overrides the stored stuck-aggregation
// fraction; the stuck-aggregation pattern does not read it.
func (d *Detector) SetStuckAggregationThreshold(f float64) { d.stuckAggregationThreshold = f }

// Run executes all five patterns and returns every finding, in a
// deterministic pattern order.
func (d *Detector) Run() []Finding {
	var findings []Finding
	findings = append(findings, d.detectCircularDependency()...)
	findings = append(findings, d.detectParentChildSync()...)
	findings = append(findings, d.detectStuckAggregation()...)
	findings = append(findings, d.detectSingleNodeHang()...)
	findings = append(findings, d.detectOrphanedNodes()...)
	return findings
}

const (
	white = 0
	gray  = 1
	black = 2
)

// detectCircularDependency DFS-walks parent edges and dependency
// (predecessor) edges together: a node's neighbors are its
// depends-on-resolved predecessor ids plus its parent id. A back-edge into
// a gray node is a cycle.
func (d *Detector) detectCircularDependency() []Finding {
	nodes := d.g.AllNodes()
	color := make(map[string]int, len(nodes))
	byID := make(map[string]*node.TaskNode, len(nodes))
	for _, n := range nodes {
		byID[n.TaskID] = n
		color[n.TaskID] = white
	}

	var findings []Finding
	var path []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)

		n := byID[id]
		neighbors := neighborsOf(d.g, n)
		for _, nb := range neighbors {
			switch color[nb] {
			case white:
				if visit(nb) {
					return true
				}
			case gray:
				cyclePath := append([]string(nil), path...)
				cyclePath = append(cyclePath, nb)
				findings = append(findings, Finding{
					Pattern:           PatternCircularDependency,
					AffectedNodes:     cyclePath,
					Reason:            fmt.Sprintf("back-edge %s -> %s in parent/dependency graph", id, nb),
					SuggestedRecovery: "fail highest-layer node in the cycle",
				})
				return true
			}
		}
		color[id] = black
		path = path[:len(path)-1]
		return false
	}

	ids := make([]string, 0, len(nodes))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				break
			}
		}
	}
	return findings
}

func neighborsOf(g *graph.Graph, n *node.TaskNode) []string {
	var out []string
	if n.ParentNodeID != "" {
		out = append(out, n.ParentNodeID)
	}
	graphID := g.ContainerGraph(n.TaskID)
	if graphID != "" {
		out = append(out, g.Predecessors(graphID, n.TaskID)...)
	}
	return out
}

// detectParentChildSync flags a RUNNING parent with a PENDING child whose
// containing graph cannot be found, or a PLAN_DONE parent whose sub-graph
// has no nodes.
func (d *Detector) detectParentChildSync() []Finding {
	var findings []Finding
	for _, n := range d.g.AllNodes() {
		if n.NodeType != node.NodePlan {
			continue
		}
		switch n.Status {
		case node.StatusRunning:
			for _, child := range d.g.AllNodes() {
				if child.ParentNodeID == n.TaskID && child.Status == node.StatusPending {
					if !d.g.HasGraph(n.SubGraphID) {
						findings = append(findings, Finding{
							Pattern:           PatternParentChildSync,
							AffectedNodes:     []string{n.TaskID, child.TaskID},
							Reason:            fmt.Sprintf("parent %s is RUNNING but its sub_graph_id %q does not exist", n.TaskID, n.SubGraphID),
							SuggestedRecovery: "repair parent's sub_graph_id, transition to PLAN_DONE",
						})
					}
				}
			}
		case node.StatusPlanDone:
			if n.SubGraphID == "" || len(d.g.GetNodesInGraph(n.SubGraphID)) == 0 {
				findings = append(findings, Finding{
					Pattern:           PatternParentChildSync,
					AffectedNodes:     []string{n.TaskID},
					Reason:            fmt.Sprintf("parent %s is PLAN_DONE with an empty sub-graph", n.TaskID),
					SuggestedRecovery: "repair parent's sub_graph_id, transition to PLAN_DONE",
				})
			}
		}
	}
	return findings
}

// detectStuckAggregation flags a PLAN_DONE node that cannot legitimately
// reach AGGREGATING: some child is not yet terminal, and every non-terminal
// child is blocked because a predecessor failed permanently, so its
// dependencies will never resolve and it will never transition to READY.
func (d *Detector) detectStuckAggregation() []Finding {
	var findings []Finding
	for _, n := range d.g.AllNodes() {
		if n.Status != node.StatusPlanDone || n.SubGraphID == "" {
			continue
		}
		children := d.g.GetNodesInGraph(n.SubGraphID)
		if len(children) == 0 {
			continue
		}

		allTerminal := true
		anyCanProgress := false
		for _, c := range children {
			if node.IsTerminal(c.Status) {
				continue
			}
			allTerminal = false
			if c.Status == node.StatusPending && canBecomeReady(d.g, c) {
				anyCanProgress = true
			} else if c.Status != node.StatusPending {
				// RUNNING/READY/etc. is still actively progressing.
				anyCanProgress = true
			}
		}
		if !allTerminal && !anyCanProgress {
			ids := make([]string, 0, len(children)+1)
			ids = append(ids, n.TaskID)
			for _, c := range children {
				ids = append(ids, c.TaskID)
			}
			findings = append(findings, Finding{
				Pattern:           PatternStuckAggregation,
				AffectedNodes:     ids,
				Reason:            fmt.Sprintf("%s's children cannot all reach a terminal status: a blocked predecessor prevents further progress", n.TaskID),
				SuggestedRecovery: "force AGGREGATING",
			})
		}
	}
	return findings
}

func canBecomeReady(g *graph.Graph, n *node.TaskNode) bool {
	if n.ParentNodeID == "" {
		return true
	}
	parent, ok := g.GetNode(n.ParentNodeID)
	if !ok || !node.ParentAllowsChildReady(parent.Status) {
		return false
	}
	graphID := g.ContainerGraph(n.TaskID)
	for _, depID := range g.Predecessors(graphID, n.TaskID) {
		dep, ok := g.GetNode(depID)
		if !ok || dep.Status != node.StatusDone {
			return false
		}
	}
	return true
}

// detectSingleNodeHang flags exactly one active RUNNING node that has been
// running for longer than the configured threshold.
func (d *Detector) detectSingleNodeHang() []Finding {
	var running []*node.TaskNode
	for _, n := range d.g.AllNodes() {
		if n.Status == node.StatusRunning {
			running = append(running, n)
		}
	}
	if len(running) != 1 {
		return nil
	}
	n := running[0]
	if d.now().Sub(n.TimestampUpdated) <= d.singleNodeHangThreshold {
		return nil
	}
	return []Finding{{
		Pattern:           PatternSingleNodeHang,
		AffectedNodes:     []string{n.TaskID},
		Reason:            fmt.Sprintf("%s has been the sole RUNNING node for over %s", n.TaskID, d.singleNodeHangThreshold),
		SuggestedRecovery: "force NEEDS_REPLAN",
	}}
}

// allowedParentStatusesForChild is the set of parent statuses under which
// a PENDING child is not considered orphaned.
func allowedParentStatusesForChild(s node.Status) bool {
	switch s {
	case node.StatusRunning, node.StatusPlanDone, node.StatusDone, node.StatusAggregating:
		return true
	default:
		return false
	}
}

// detectOrphanedNodes flags PENDING children whose parent is missing or in
// a status outside {RUNNING, PLAN_DONE, DONE, AGGREGATING}.
func (d *Detector) detectOrphanedNodes() []Finding {
	var findings []Finding
	for _, n := range d.g.AllNodes() {
		if n.Status != node.StatusPending || n.ParentNodeID == "" {
			continue
		}
		parent, ok := d.g.GetNode(n.ParentNodeID)
		if !ok {
			findings = append(findings, Finding{
				Pattern:           PatternOrphanedNode,
				AffectedNodes:     []string{n.TaskID},
				Reason:            fmt.Sprintf("%s's parent %s does not exist", n.TaskID, n.ParentNodeID),
				SuggestedRecovery: "if parent terminal, transition orphan to READY",
			})
			continue
		}
		if !allowedParentStatusesForChild(parent.Status) {
			findings = append(findings, Finding{
				Pattern:           PatternOrphanedNode,
				AffectedNodes:     []string{n.TaskID, parent.TaskID},
				Reason:            fmt.Sprintf("%s's parent %s is in status %s", n.TaskID, parent.TaskID, parent.Status),
				SuggestedRecovery: "if parent terminal, transition orphan to READY",
			})
		}
	}
	return findings
}
