package processor

import (
	"context"
	"fmt"

	"taskweaver/internal/node"
	"taskweaver/internal/registry"
)

// DefaultMaxReplanAttempts mirrors TaskNode.ReplanAttempts's ceiling.
const DefaultMaxReplanAttempts = 3

// handleReplan implements the Replan path: past the attempt ceiling the
// node fails outright; otherwise its existing sub-graph is discarded and
// the PlanModifier adapter is invoked with
// {original_plan, user_or_system_instructions}: AuxData["original_plan"]
// is rebuilt from the discarded children and the replan reason, if any,
// becomes AuxData["modification_instructions"].
func (p *Processor) handleReplan(ctx context.Context, n *node.TaskNode) error {
	n.Lock()
	attempts := n.ReplanAttempts
	subGraphID := n.SubGraphID
	reason := n.ReplanReason
	n.Unlock()

	maxAttempts := p.cfg.MaxReplanAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReplanAttempts
	}
	if attempts >= maxAttempts {
		return p.t.Transition(n, node.StatusFailed, fmt.Sprintf("replan attempts exhausted (%d/%d): %s", attempts, maxAttempts, reason))
	}

	n.Lock()
	n.ReplanAttempts++
	previousPlan := append([]string(nil), n.PlannedSubTaskIDs...)
	if n.AuxData == nil {
		n.AuxData = make(map[string]any)
	}
	n.AuxData["previous_plan"] = previousPlan
	n.Unlock()

	originalPlan := &registry.PlanOutput{}
	for _, id := range previousPlan {
		if c, ok := p.g.GetNode(id); ok {
			originalPlan.SubTasks = append(originalPlan.SubTasks, registry.SubTaskSpec{
				Goal: c.Goal, TaskType: c.TaskType, NodeType: c.NodeType, DependsOnIndices: c.DependsOnIndices,
			})
		}
	}
	n.Lock()
	n.AuxData["original_plan"] = originalPlan
	if reason != "" {
		n.AuxData["modification_instructions"] = reason
	}
	n.Unlock()

	if subGraphID != "" {
		if err := p.g.RemoveGraphAndDescendants(subGraphID); err != nil {
			return err
		}
		n.Lock()
		n.SubGraphID = ""
		n.PlannedSubTaskIDs = nil
		n.Unlock()
	}

	if err := p.t.Transition(n, node.StatusRunning, "replanning"); err != nil {
		return err
	}

	return p.runPlanner(ctx, n, registry.VerbModifyPlan)
}
