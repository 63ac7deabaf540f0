package processor

import (
	"context"

	"taskweaver/internal/contextbuilder"
	"taskweaver/internal/hitl"
	"taskweaver/internal/node"
	"taskweaver/internal/registry"
)

// CanPromoteToAggregating reports whether a PLAN_DONE node's children are
// all terminal (DONE or FAILED) and at least AggregationDoneThreshold of
// them are DONE. Called by the orchestrator's bounded promotion pass, not
// by Process, since PLAN_DONE has no handler of its own.
func (p *Processor) CanPromoteToAggregating(n *node.TaskNode) bool {
	n.Lock()
	subGraphID := n.SubGraphID
	n.Unlock()
	if subGraphID == "" {
		return false
	}

	children := p.g.GetNodesInGraph(subGraphID)
	if len(children) == 0 {
		return false
	}

	done := 0
	for _, c := range children {
		if !node.IsTerminal(c.Status) {
			return false
		}
		if c.Status == node.StatusDone {
			done++
		}
	}
	return float64(done)/float64(len(children)) >= p.cfg.AggregationDoneThreshold
}

// handleAggregating implements the Aggregator path: gather children's
// results (or errors), build an aggregation context, call the aggregator
// adapter, and transition to DONE (or NEEDS_REPLAN on rejection).
func (p *Processor) handleAggregating(ctx context.Context, n *node.TaskNode) error {
	n.Lock()
	taskType := n.TaskType
	isRoot := n.ParentNodeID == ""
	n.Unlock()

	aggCtx, err := p.ctx.Build(contextbuilder.KindAggregation, n)
	if err != nil {
		return err
	}

	degraded := p.hasIncompleteChildren(n)

	a, err := p.reg.Resolve(registry.VerbAggregate, taskType, isRoot)
	if err != nil {
		return p.t.Transition(n, node.StatusFailed, err.Error())
	}

	aCtx, cancel := p.withTimeout(ctx)
	out, err := a.Process(aCtx, n, aggCtx)
	cancel()
	if err != nil {
		return p.handleAgentErr(n, err)
	}
	preserveAgentName(n, a.Name())

	if p.hitlSvc != nil {
		d, herr := p.hitlSvc.Review(ctx, hitl.CheckpointAggregationReview, n, aggCtx, nil)
		if herr != nil {
			return p.onHITLError(n, herr)
		}
		if d.Status == hitl.StatusRejected {
			return p.t.Transition(n, node.StatusNeedsReplan, "aggregation rejected at review")
		}
	}

	summary := summarize(out.Result)
	// Aggregations produced while some children never completed are
	// prefixed so downstream consumers can tell at a glance.
	if degraded {
		summary = "(degraded) " + summary
	}

	n.Lock()
	n.Result = out.Result
	n.OutputSummary = summary
	n.Unlock()
	return p.t.Transition(n, node.StatusDone, "aggregator returned")
}

func (p *Processor) hasIncompleteChildren(n *node.TaskNode) bool {
	n.Lock()
	subGraphID := n.SubGraphID
	n.Unlock()
	if subGraphID == "" {
		return false
	}
	for _, c := range p.g.GetNodesInGraph(subGraphID) {
		if c.Status != node.StatusDone {
			return true
		}
	}
	return false
}
