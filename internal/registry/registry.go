// Package registry implements AgentRegistry and AgentBlueprint: the
// pluggable-adapter boundary between the orchestration core and the
// external agent layer.
//
// Adapters are dispatched by name through a narrow interface, resolved
// per (verb, task type) using a four-role, task-type-keyed selection order.
package registry

import (
	"context"
	"fmt"

	"taskweaver/internal/node"
)

// ActionVerb names the five operations an adapter may be registered for.
type ActionVerb string

const (
	VerbPlan       ActionVerb = "plan"
	VerbExecute    ActionVerb = "execute"
	VerbAggregate  ActionVerb = "aggregate"
	VerbAtomize    ActionVerb = "atomize"
	VerbModifyPlan ActionVerb = "modify_plan"
)

// PlanOutput is what a Planner or PlanModifier adapter returns: a sub-task
// breakdown of the goal it was handed. An empty SubTasks slice means "this
// goal is atomic after all".
type PlanOutput struct {
	SubTasks []SubTaskSpec
}

// SubTaskSpec is one planned child, before a task id has been assigned.
type SubTaskSpec struct {
	Goal             string
	TaskType         node.TaskType
	NodeType         node.NodeType
	DependsOnIndices []int
}

// AtomizerOutput is what an Atomizer adapter returns. The orchestrator uses
// only IsAtomic; UpdatedGoal is accepted but ignored, to preserve planner
// intent.
type AtomizerOutput struct {
	IsAtomic    bool
	UpdatedGoal string
}

// Output is the tagged union an adapter call resolves to: exactly one of
// Result, Plan, or Atomizer is set depending on which verb was invoked.
type Output struct {
	Result   any
	Plan     *PlanOutput
	Atomizer *AtomizerOutput
}

// Adapter is the external boundary with the LLM layer: process(node,
// context) -> {result | PlanOutput | AtomizerOutput | error}. contextBundle
// is the pre-rendered text from ContextBuilder.
type Adapter interface {
	Name() string
	Process(ctx context.Context, n *node.TaskNode, contextBundle string) (Output, error)
}

// Blueprint declares an execution profile's adapter wiring. Selection
// order for a given (verb, task type) is: task-specific -> default ->
// prefix-composed -> fallback.
type Blueprint struct {
	RootPlannerAdapterName string

	PlannerAdapterNames   map[node.TaskType]string
	ExecutorAdapterNames  map[node.TaskType]string
	AggregatorAdapterName string
	AtomizerAdapterName   string

	PlanModifierAdapterName string

	DefaultPlannerAdapterName      string
	DefaultExecutorAdapterName     string
	DefaultAggregatorAdapterName   string
	DefaultAtomizerAdapterName     string
	DefaultPlanModifierAdapterName string

	// DefaultNodeAgentNamePrefix, when set, composes a candidate adapter
	// name as "<prefix><Role>" (e.g. "<prefix>Planner", "<prefix>Executor")
	// before falling back further.
	DefaultNodeAgentNamePrefix string
}

// Registry resolves (verb, task type) or a bare name to a registered
// Adapter. It is read-only after initialization: Register calls are
// expected to complete before the orchestrator loop starts.
type Registry struct {
	byName    map[string]Adapter
	blueprint Blueprint
}

// New constructs an empty Registry for the given blueprint.
func New(blueprint Blueprint) *Registry {
	return &Registry{
		byName:    make(map[string]Adapter),
		blueprint: blueprint,
	}
}

// Register adds a by an a.Name() lookup key. Registering the same name
// twice overwrites the previous entry.
func (r *Registry) Register(a Adapter) {
	r.byName[a.Name()] = a
}

// Lookup resolves a by bare name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Resolve implements the selection order for (verb, task type):
// task-specific -> default -> prefix-composed -> fallback. isRoot selects
// RootPlannerAdapterName ahead of the per-type planner map when verb is
// plan and the node has no parent.
func (r *Registry) Resolve(verb ActionVerb, taskType node.TaskType, isRoot bool) (Adapter, error) {
	for _, name := range r.candidateNames(verb, taskType, isRoot) {
		if name == "" {
			continue
		}
		if a, ok := r.byName[name]; ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no adapter registered for verb=%s task_type=%s (tried: %v)", verb, taskType, r.candidateNames(verb, taskType, isRoot))
}

func (r *Registry) candidateNames(verb ActionVerb, taskType node.TaskType, isRoot bool) []string {
	b := r.blueprint
	var names []string

	switch verb {
	case VerbPlan:
		if isRoot && b.RootPlannerAdapterName != "" {
			names = append(names, b.RootPlannerAdapterName)
		}
		names = append(names, b.PlannerAdapterNames[taskType], b.DefaultPlannerAdapterName)
	case VerbExecute:
		names = append(names, b.ExecutorAdapterNames[taskType], b.DefaultExecutorAdapterName)
	case VerbAggregate:
		names = append(names, b.AggregatorAdapterName, b.DefaultAggregatorAdapterName)
	case VerbAtomize:
		names = append(names, b.AtomizerAdapterName, b.DefaultAtomizerAdapterName)
	case VerbModifyPlan:
		names = append(names, b.PlanModifierAdapterName, b.DefaultPlanModifierAdapterName)
	}

	if b.DefaultNodeAgentNamePrefix != "" {
		names = append(names, b.DefaultNodeAgentNamePrefix+roleSuffix(verb))
	}

	return names
}

// roleSuffix maps a verb to the capitalized role name used to compose a
// prefix-based adapter name, e.g. "<prefix>Planner".
func roleSuffix(verb ActionVerb) string {
	switch verb {
	case VerbPlan:
		return "Planner"
	case VerbExecute:
		return "Executor"
	case VerbAggregate:
		return "Aggregator"
	case VerbAtomize:
		return "Atomizer"
	case VerbModifyPlan:
		return "PlanModifier"
	default:
		return ""
	}
}
