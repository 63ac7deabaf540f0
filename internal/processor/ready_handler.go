package processor

import (
	"context"
	"fmt"

	"taskweaver/internal/contextbuilder"
	"taskweaver/internal/hitl"
	"taskweaver/internal/node"
	"taskweaver/internal/registry"
)

// handleReady implements the READY-node flow: atomize (unless forced
// EXECUTE by the planning-layer ceiling), then run either the Planner or
// Executor path.
func (p *Processor) handleReady(ctx context.Context, n *node.TaskNode) error {
	n.Lock()
	layer := n.Layer
	taskType := n.TaskType
	nodeType := n.NodeType
	isRoot := n.ParentNodeID == ""
	n.Unlock()

	// force_root_node_planning wins for the root node only; the depth
	// check governs every other node. A forced-planning root skips
	// atomization entirely.
	forceRootPlanning := isRoot && p.cfg.ForceRootNodePlanning

	forcedExecute := layer >= p.cfg.MaxPlanningLayer && !forceRootPlanning
	if forcedExecute {
		n.Lock()
		n.NodeType = node.NodeExecute
		n.Unlock()
		nodeType = node.NodeExecute
	}

	isAtomic := nodeType == node.NodeExecute && !forceRootPlanning
	if !forcedExecute && !forceRootPlanning {
		if a, err := p.reg.Resolve(registry.VerbAtomize, taskType, isRoot); err == nil {
			atomCtx, err := p.ctx.Build(contextbuilder.KindAtomization, n)
			if err != nil {
				return err
			}
			aCtx, cancel := p.withTimeout(ctx)
			out, err := a.Process(aCtx, n, atomCtx)
			cancel()
			if err != nil {
				return p.handleAgentErr(n, err)
			}
			preserveAgentName(n, a.Name())
			if out.Atomizer != nil {
				isAtomic = out.Atomizer.IsAtomic
			}
		}
		// No atomizer registered: fall back to the node's declared node_type.
	}

	// layer == maxPlanningLayer-1 would exceed the limit if it planned;
	// force executor path there too. Does not apply to a force-planned root.
	if !forceRootPlanning && layer >= p.cfg.MaxPlanningLayer-1 {
		isAtomic = true
	}

	if err := p.t.Transition(n, node.StatusRunning, "dispatched"); err != nil {
		return err
	}

	if isAtomic {
		return p.runExecutor(ctx, n)
	}
	return p.runPlanner(ctx, n, registry.VerbPlan)
}

// runExecutor implements the Executor path: build context, optional HITL
// before-execute, resolve the executor adapter, run it, and transition
// RUNNING -> DONE/FAILED/NEEDS_REPLAN.
func (p *Processor) runExecutor(ctx context.Context, n *node.TaskNode) error {
	n.Lock()
	taskType := n.TaskType
	isRoot := n.ParentNodeID == ""
	n.Unlock()

	execCtx, err := p.ctx.Build(contextbuilder.KindExecution, n)
	if err != nil {
		return err
	}

	if p.hitlSvc != nil {
		d, err := p.hitlSvc.Review(ctx, hitl.CheckpointBeforeExecution, n, execCtx, nil)
		if err != nil {
			return p.onHITLError(n, err)
		}
		if d.Status == hitl.StatusRejected {
			return p.t.Transition(n, node.StatusFailed, "rejected at BeforeExecution checkpoint")
		}
	}

	a, err := p.reg.Resolve(registry.VerbExecute, taskType, isRoot)
	if err != nil {
		return p.t.Transition(n, node.StatusFailed, err.Error())
	}

	aCtx, cancel := p.withTimeout(ctx)
	out, err := a.Process(aCtx, n, execCtx)
	cancel()
	if err != nil {
		return p.handleAgentErr(n, err)
	}
	preserveAgentName(n, a.Name())

	n.Lock()
	n.Result = out.Result
	n.OutputSummary = summarize(out.Result)
	n.Unlock()
	return p.t.Transition(n, node.StatusDone, "executor returned")
}

// runPlanner implements the Planner (or PlanModifier, for the replan path)
// flow: build context, call the adapter, and either fall back to executor
// (empty plan) or materialize a new sub-graph. A request_modification HITL
// decision routes the plan through the PlanModifier adapter and a second
// review round instead of being treated as approval; this repeats (bounded
// by MaxHITLModifyRounds) until the reviewer approves, rejects, or the bound
// is hit. ReplanAttempts is never touched here: an operator-requested
// modification is independent of the replan counter.
func (p *Processor) runPlanner(ctx context.Context, n *node.TaskNode, verb registry.ActionVerb) error {
	n.Lock()
	taskType := n.TaskType
	isRoot := n.ParentNodeID == ""
	n.Unlock()

	for round := 0; ; round++ {
		kind := contextbuilder.KindPlanning
		checkpoint := hitl.CheckpointPlanGeneration
		if verb == registry.VerbModifyPlan {
			kind = contextbuilder.KindModification
			checkpoint = hitl.CheckpointPlanModification
		}

		planCtx, err := p.ctx.Build(kind, n)
		if err != nil {
			return err
		}

		a, err := p.reg.Resolve(verb, taskType, isRoot)
		if err != nil {
			return p.t.Transition(n, node.StatusFailed, err.Error())
		}

		aCtx, cancel := p.withTimeout(ctx)
		out, err := a.Process(aCtx, n, planCtx)
		cancel()
		if err != nil {
			return p.handleAgentErr(n, err)
		}
		preserveAgentName(n, a.Name())

		if out.Plan == nil || len(out.Plan.SubTasks) == 0 {
			// Empty sub-task list: atomic after all. Re-run as executor
			// without re-transitioning RUNNING.
			return p.runExecutor(ctx, n)
		}

		if p.hitlSvc == nil {
			return p.materializeAndAdvance(n, out.Plan)
		}

		d, err := p.hitlSvc.Review(ctx, checkpoint, n, planCtx, map[string]any{"sub_task_count": len(out.Plan.SubTasks)})
		if err != nil {
			return p.onHITLError(n, err)
		}

		switch d.Status {
		case hitl.StatusRejected:
			return p.t.Transition(n, node.StatusFailed, fmt.Sprintf("plan rejected at %s", checkpoint))
		case hitl.StatusRequestModification:
			if round >= MaxHITLModifyRounds {
				return p.t.Transition(n, node.StatusFailed, fmt.Sprintf("plan modification exceeded %d rounds at %s", MaxHITLModifyRounds, checkpoint))
			}
			n.Lock()
			if n.AuxData == nil {
				n.AuxData = make(map[string]any)
			}
			if _, exists := n.AuxData["original_plan"]; !exists {
				n.AuxData["original_plan"] = out.Plan
			}
			n.AuxData["modification_instructions"] = d.ModificationInstructions
			n.Unlock()
			verb = registry.VerbModifyPlan
			continue
		default: // approved
			return p.materializeAndAdvance(n, out.Plan)
		}
	}
}

func (p *Processor) materializeAndAdvance(n *node.TaskNode, plan *registry.PlanOutput) error {
	if err := p.materializePlan(n, plan); err != nil {
		return err
	}
	return p.t.Transition(n, node.StatusPlanDone, "planner produced sub-tasks")
}

// materializePlan creates n's sub-graph, adds child nodes at
// layer+1, mirrors depends_on_indices as intra-graph edges, and
// immediately readies children with no dependencies.
func (p *Processor) materializePlan(n *node.TaskNode, plan *registry.PlanOutput) error {
	n.Lock()
	parentID := n.TaskID
	layer := n.Layer
	n.Unlock()

	subGraphID := parentID + ".sub"
	if err := p.g.AddGraph(subGraphID, false); err != nil {
		return err
	}

	n.Lock()
	n.SubGraphID = subGraphID
	n.Unlock()

	childIDs := make([]string, len(plan.SubTasks))
	for i, spec := range plan.SubTasks {
		childIDs[i] = p.childID(parentID)
		child := node.New(childIDs[i], spec.Goal, spec.TaskType, spec.NodeType, layer+1, parentID, p.now())
		child.DependsOnIndices = append([]int(nil), spec.DependsOnIndices...)
		if err := p.g.AddNode(subGraphID, child); err != nil {
			return err
		}
	}

	n.Lock()
	n.PlannedSubTaskIDs = childIDs
	n.Unlock()

	for i, spec := range plan.SubTasks {
		for _, depIdx := range spec.DependsOnIndices {
			if depIdx < 0 || depIdx >= len(childIDs) {
				continue
			}
			if err := p.g.AddEdge(subGraphID, childIDs[depIdx], childIDs[i]); err != nil {
				return err
			}
		}
	}

	for i, spec := range plan.SubTasks {
		if len(spec.DependsOnIndices) == 0 {
			child, ok := p.g.GetNode(childIDs[i])
			if ok {
				if err := p.t.Transition(child, node.StatusReady, "no dependencies"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Processor) onHITLError(n *node.TaskNode, err error) error {
	return p.t.Transition(n, node.StatusCancelled, fmt.Sprintf("hitl: %v", err))
}
