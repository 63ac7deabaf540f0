package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/apperrors"
	"taskweaver/internal/hitl"
	"taskweaver/internal/node"
	"taskweaver/internal/orchestrator"
	"taskweaver/internal/registry"
)

type funcAdapter struct {
	name string
	fn   func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error)
}

func (f funcAdapter) Name() string { return f.name }
func (f funcAdapter) Process(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
	return f.fn(ctx, n, c)
}

func testConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxConcurrentNodes:            4,
		DeadlockCheckEveryNIterations: 3,
		IdleSleep:                     time.Millisecond,
		InactivityTimeout:             50 * time.Millisecond,
	}
}

// Scenario 1 (spec.md §8): leaf plan. Atomizer says is_atomic=true, executor
// returns "OK". One node, root DONE with result "OK", nodes_processed == 1.
func TestExecute_LeafPlan_RootDoneWithExecutorResult(t *testing.T) {
	bp := registry.Blueprint{
		DefaultAtomizerAdapterName: "atomizer",
		DefaultExecutorAdapterName: "executor",
	}
	reg := registry.New(bp)
	reg.Register(funcAdapter{"atomizer", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Atomizer: &registry.AtomizerOutput{IsAtomic: true}}, nil
	}})
	reg.Register(funcAdapter{"executor", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Result: "OK"}, nil
	}})

	o := orchestrator.New(reg, nil, nil, "summarize paper X", nil, testConfig(), nil)
	defer o.Close()

	res, err := o.Execute(context.Background(), "Summarize paper X", 100)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusSuccess, res.Status)
	assert.Equal(t, "OK", res.Result)
	assert.Equal(t, 1, res.Stats.NodesProcessed)
}

// Scenario 2 (spec.md §8): two-level plan. Planner yields [A(deps=[]),
// B(deps=[0])]; both children complete; root aggregates to DONE.
func TestExecute_TwoLevelPlan_AggregatesBothChildren(t *testing.T) {
	bp := registry.Blueprint{
		DefaultPlannerAdapterName:    "planner",
		DefaultExecutorAdapterName:   "executor",
		DefaultAggregatorAdapterName: "aggregator",
	}
	reg := registry.New(bp)
	reg.Register(funcAdapter{"planner", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Plan: &registry.PlanOutput{SubTasks: []registry.SubTaskSpec{
			{Goal: "task A", TaskType: node.TaskThink, NodeType: node.NodeExecute},
			{Goal: "task B", TaskType: node.TaskThink, NodeType: node.NodeExecute, DependsOnIndices: []int{0}},
		}}}, nil
	}})
	reg.Register(funcAdapter{"executor", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		n.Lock()
		goal := n.Goal
		n.Unlock()
		return registry.Output{Result: "done " + goal}, nil
	}})
	reg.Register(funcAdapter{"aggregator", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Result: "aggregated"}, nil
	}})

	o := orchestrator.New(reg, nil, nil, "objective", nil, testConfig(), nil)
	defer o.Close()

	res, err := o.Execute(context.Background(), "big goal needing two steps", 200)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusSuccess, res.Status)
	assert.Equal(t, "aggregated", res.Result)
	assert.GreaterOrEqual(t, res.Stats.NodesProcessed, 3) // root (plan) + A + B + root (aggregate)
}

// Scenario 3 (spec.md §8): dependency block. A fails permanently; B never
// becomes READY; the deadlock detector reports stuck aggregation and
// recovery forces the root to AGGREGATING with a degraded summary.
func TestExecute_DependencyBlock_DegradesAggregationAfterPermanentFailure(t *testing.T) {
	bp := registry.Blueprint{
		DefaultPlannerAdapterName:    "planner",
		DefaultExecutorAdapterName:   "executor",
		DefaultAggregatorAdapterName: "aggregator",
	}
	reg := registry.New(bp)
	reg.Register(funcAdapter{"planner", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Plan: &registry.PlanOutput{SubTasks: []registry.SubTaskSpec{
			{Goal: "task A", TaskType: node.TaskThink, NodeType: node.NodeExecute},
			{Goal: "task B", TaskType: node.TaskThink, NodeType: node.NodeExecute, DependsOnIndices: []int{0}},
		}}}, nil
	}})
	reg.Register(funcAdapter{"executor", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		n.Lock()
		goal := n.Goal
		n.Unlock()
		if goal == "task A" {
			return registry.Output{}, apperrors.NewNotFoundError("executor", "no adapter can service task A")
		}
		return registry.Output{Result: "done " + goal}, nil
	}})
	reg.Register(funcAdapter{"aggregator", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Result: "partial results gathered"}, nil
	}})

	cfg := testConfig()
	cfg.DeadlockCheckEveryNIterations = 2
	o := orchestrator.New(reg, nil, nil, "objective", nil, cfg, nil)
	defer o.Close()

	res, err := o.Execute(context.Background(), "goal with a doomed dependency", 500)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusSuccess, res.Status)
	assert.Equal(t, "partial results gathered", res.Result)
	assert.Equal(t, "(degraded) partial results gathered", res.Summary)
	assert.GreaterOrEqual(t, res.Stats.ErrorsRecovered, 1)
}

// Scenario 6 (spec.md §8): HITL modify loop. PlanGeneration returns
// request_modification with instructions "split B into B1+B2"; PlanModifier
// is invoked; PlanModification then approves; execution continues on the
// modifier's plan. root.replan_attempts stays 0 throughout since a
// user-requested modification is not a replan.
func TestExecute_HITLModifyLoop_PlanModifierRevisesThenApproves(t *testing.T) {
	bp := registry.Blueprint{
		DefaultPlannerAdapterName:      "planner",
		DefaultPlanModifierAdapterName: "modifier",
		DefaultExecutorAdapterName:     "executor",
		DefaultAggregatorAdapterName:   "aggregator",
	}
	reg := registry.New(bp)
	reg.Register(funcAdapter{"planner", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Plan: &registry.PlanOutput{SubTasks: []registry.SubTaskSpec{
			{Goal: "task B", TaskType: node.TaskThink, NodeType: node.NodeExecute},
		}}}, nil
	}})
	reg.Register(funcAdapter{"modifier", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Plan: &registry.PlanOutput{SubTasks: []registry.SubTaskSpec{
			{Goal: "task B1", TaskType: node.TaskThink, NodeType: node.NodeExecute},
			{Goal: "task B2", TaskType: node.TaskThink, NodeType: node.NodeExecute},
		}}}, nil
	}})
	reg.Register(funcAdapter{"executor", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		n.Lock()
		goal := n.Goal
		n.Unlock()
		return registry.Output{Result: "done " + goal}, nil
	}})
	reg.Register(funcAdapter{"aggregator", func(ctx context.Context, n *node.TaskNode, c string) (registry.Output, error) {
		return registry.Output{Result: "aggregated B1+B2"}, nil
	}})

	reviewer := &modifyThenApproveReviewer{}
	hitlSvc := hitl.New(reviewer, hitl.Config{})
	hitlSvc.Enable(hitl.CheckpointPlanGeneration, hitl.CheckpointPlanModification)

	o := orchestrator.New(reg, hitlSvc, nil, "objective", nil, testConfig(), nil)
	defer o.Close()

	res, err := o.Execute(context.Background(), "goal needing a split", 200)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusSuccess, res.Status)
	assert.Equal(t, "aggregated B1+B2", res.Result)
	assert.Equal(t, 2, reviewer.calls)
}

type modifyThenApproveReviewer struct{ calls int }

func (r *modifyThenApproveReviewer) RequestReview(ctx context.Context, checkpoint hitl.Checkpoint, nodeSummary string, data map[string]any) (hitl.Decision, error) {
	r.calls++
	if checkpoint == hitl.CheckpointPlanGeneration {
		return hitl.Decision{Status: hitl.StatusRequestModification, ModificationInstructions: "split B into B1+B2"}, nil
	}
	return hitl.Decision{Status: hitl.StatusApproved}, nil
}

func TestExecute_ZeroMaxStepsMakesNoProgress(t *testing.T) {
	reg := registry.New(registry.Blueprint{})
	o := orchestrator.New(reg, nil, nil, "objective", nil, testConfig(), nil)
	defer o.Close()

	res, err := o.Execute(context.Background(), "goal", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.StepsExecuted)
}
