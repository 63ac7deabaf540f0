// Package example provides reference agent adapters exercised by the
// orchestrator's integration tests: thin wrappers around a pluggable
// "language model caller" that turn its raw text output into a
// registry.Output, repairing near-miss JSON the way a real LLM adapter
// must, via github.com/kaptinlin/jsonrepair.
package example

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"taskweaver/internal/node"
	"taskweaver/internal/registry"
)

// Caller is the seam to an actual LLM (or any text-completion backend).
// Reference adapters call it once per Process and parse its return value;
// production adapters live outside this module, which never depends on a
// concrete LLM SDK.
type Caller interface {
	Call(ctx context.Context, goal, context string) (string, error)
}

// CallerFunc adapts a plain function to Caller.
type CallerFunc func(ctx context.Context, goal, context string) (string, error)

func (f CallerFunc) Call(ctx context.Context, goal, context string) (string, error) {
	return f(ctx, goal, context)
}

// decodeRepaired unmarshals raw into v, repairing near-miss JSON on the
// first failure before giving up.
func decodeRepaired(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("decode and repair both failed: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode repaired JSON: %w", err)
	}
	return nil
}

// wireSubTask is the on-the-wire shape a planner/modifier Caller is
// expected to emit; it matches registry.SubTaskSpec's fields with JSON
// tags since registry.SubTaskSpec itself carries none (it is an internal
// struct, not a wire contract).
type wireSubTask struct {
	Goal             string        `json:"goal"`
	TaskType         node.TaskType `json:"task_type"`
	NodeType         node.NodeType `json:"node_type"`
	DependsOnIndices []int         `json:"depends_on_indices"`
}

type wirePlan struct {
	SubTasks []wireSubTask `json:"sub_tasks"`
}

type wireAtomizer struct {
	IsAtomic    bool   `json:"is_atomic"`
	UpdatedGoal string `json:"updated_goal"`
}

// PlannerAdapter calls its Caller and decodes a PlanOutput from the
// response, repairing near-miss JSON.
type PlannerAdapter struct {
	AdapterName string
	Caller      Caller
}

func (a *PlannerAdapter) Name() string { return a.AdapterName }

func (a *PlannerAdapter) Process(ctx context.Context, n *node.TaskNode, contextBundle string) (registry.Output, error) {
	n.Lock()
	goal := n.Goal
	n.Unlock()

	raw, err := a.Caller.Call(ctx, goal, contextBundle)
	if err != nil {
		return registry.Output{}, err
	}

	var wp wirePlan
	if err := decodeRepaired(raw, &wp); err != nil {
		// Undecodable plan: return empty rather than erroring, so the
		// caller falls back to treating the node as atomic instead of
		// failing it outright.
		return registry.Output{Plan: &registry.PlanOutput{}}, nil
	}

	subTasks := make([]registry.SubTaskSpec, len(wp.SubTasks))
	for i, st := range wp.SubTasks {
		subTasks[i] = registry.SubTaskSpec{
			Goal: st.Goal, TaskType: st.TaskType, NodeType: st.NodeType,
			DependsOnIndices: st.DependsOnIndices,
		}
	}
	return registry.Output{Plan: &registry.PlanOutput{SubTasks: subTasks}}, nil
}

// PlanModifierAdapter is PlannerAdapter's replan-path counterpart: it
// delegates to PlannerAdapter, so the Caller receives the node's goal and
// the modification context bundle, which renders AuxData["original_plan"]
// and AuxData["modification_instructions"]; aux_data.previous_plan is not
// passed to the Caller.
type PlanModifierAdapter struct {
	AdapterName string
	Caller      Caller
}

func (a *PlanModifierAdapter) Name() string { return a.AdapterName }

func (a *PlanModifierAdapter) Process(ctx context.Context, n *node.TaskNode, contextBundle string) (registry.Output, error) {
	return (&PlannerAdapter{AdapterName: a.AdapterName, Caller: a.Caller}).Process(ctx, n, contextBundle)
}

// AtomizerAdapter decodes an AtomizerOutput; the orchestrator reads only
// IsAtomic and ignores UpdatedGoal.
type AtomizerAdapter struct {
	AdapterName string
	Caller      Caller
}

func (a *AtomizerAdapter) Name() string { return a.AdapterName }

func (a *AtomizerAdapter) Process(ctx context.Context, n *node.TaskNode, contextBundle string) (registry.Output, error) {
	n.Lock()
	goal := n.Goal
	n.Unlock()

	raw, err := a.Caller.Call(ctx, goal, contextBundle)
	if err != nil {
		return registry.Output{}, err
	}

	var wa wireAtomizer
	if err := decodeRepaired(raw, &wa); err != nil {
		// Conservative default: treat an undecodable atomizer response as
		// "not atomic" so the planner path gets a chance instead of
		// silently forcing execution on malformed output.
		return registry.Output{Atomizer: &registry.AtomizerOutput{IsAtomic: false}}, nil
	}
	return registry.Output{Atomizer: &registry.AtomizerOutput{IsAtomic: wa.IsAtomic, UpdatedGoal: wa.UpdatedGoal}}, nil
}

// ExecutorAdapter calls its Caller and returns the raw text as the node's
// result, unparsed — executors produce opaque results.
type ExecutorAdapter struct {
	AdapterName string
	Caller      Caller
}

func (a *ExecutorAdapter) Name() string { return a.AdapterName }

func (a *ExecutorAdapter) Process(ctx context.Context, n *node.TaskNode, contextBundle string) (registry.Output, error) {
	n.Lock()
	goal := n.Goal
	n.Unlock()

	raw, err := a.Caller.Call(ctx, goal, contextBundle)
	if err != nil {
		return registry.Output{}, err
	}
	return registry.Output{Result: raw}, nil
}

// AggregatorAdapter combines its children's rendered context (already
// built into contextBundle by internal/contextbuilder) into one summary
// result via its Caller.
type AggregatorAdapter struct {
	AdapterName string
	Caller      Caller
}

func (a *AggregatorAdapter) Name() string { return a.AdapterName }

func (a *AggregatorAdapter) Process(ctx context.Context, n *node.TaskNode, contextBundle string) (registry.Output, error) {
	n.Lock()
	goal := n.Goal
	n.Unlock()

	raw, err := a.Caller.Call(ctx, goal, contextBundle)
	if err != nil {
		return registry.Output{}, err
	}
	return registry.Output{Result: raw}, nil
}
