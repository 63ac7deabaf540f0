package config

import (
	"taskweaver/internal/node"
	"taskweaver/internal/registry"
)

// ToRegistryBlueprint converts the on-disk BlueprintConfig into
// registry.Blueprint, translating task-type keys to node.TaskType.
func (b BlueprintConfig) ToRegistryBlueprint() registry.Blueprint {
	return registry.Blueprint{
		RootPlannerAdapterName:     b.RootPlanner,
		PlannerAdapterNames:        taskTypeMap(b.Planners),
		ExecutorAdapterNames:       taskTypeMap(b.Executors),
		AggregatorAdapterName:      b.DefaultAggregator,
		AtomizerAdapterName:        b.DefaultAtomizer,
		PlanModifierAdapterName:    b.DefaultPlanModifier,
		DefaultPlannerAdapterName:  b.DefaultPlanner,
		DefaultExecutorAdapterName: b.DefaultExecutor,
		DefaultAggregatorAdapterName:   b.DefaultAggregator,
		DefaultAtomizerAdapterName:     b.DefaultAtomizer,
		DefaultPlanModifierAdapterName: b.DefaultPlanModifier,
		DefaultNodeAgentNamePrefix:     b.AgentNamePrefix,
	}
}

func taskTypeMap(in map[string]string) map[node.TaskType]string {
	out := make(map[node.TaskType]string, len(in))
	for k, v := range in {
		out[node.TaskType(k)] = v
	}
	return out
}

// AdapterNames returns every distinct adapter name this blueprint
// references, by role: planner names (root/default/per-task-type),
// executor names (default/per-task-type), and the three singleton roles
// (aggregator, atomizer, plan modifier). A name appearing under more than
// one role (unusual, but not invalid) is returned once per role it plays.
func (b BlueprintConfig) AdapterNames() (planners, executors []string, aggregator, atomizer, modifier string) {
	plannerSeen := make(map[string]bool)
	for _, name := range append([]string{b.RootPlanner, b.DefaultPlanner}, mapValues(b.Planners)...) {
		if name != "" && !plannerSeen[name] {
			plannerSeen[name] = true
			planners = append(planners, name)
		}
	}

	executorSeen := make(map[string]bool)
	for _, name := range append([]string{b.DefaultExecutor}, mapValues(b.Executors)...) {
		if name != "" && !executorSeen[name] {
			executorSeen[name] = true
			executors = append(executors, name)
		}
	}

	return planners, executors, b.DefaultAggregator, b.DefaultAtomizer, b.DefaultPlanModifier
}

func mapValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
