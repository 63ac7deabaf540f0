package graph

// GraphHash is the deterministic structural identity of a sub-graph at a
// point in time, computed by Graph.ComputeHash; no other package in the
// module consults it.
//
// Recomputed on demand rather than cached at construction, since the
// graph mutates as planners add children at runtime.
type GraphHash string

func (h GraphHash) String() string { return string(h) }

// Edge is a sibling dependency: From must reach DONE before To may become
// READY. Both endpoints must live in the same sub-graph.
type Edge struct {
	From string
	To   string
}

// TaskDefHash identifies a planned sub-task's declarative definition
// (goal, task type, node type, and dependency indices), independent of its
// assigned task id. Graph.ComputeHash folds one per node into a
// sub-graph's GraphHash.
type TaskDefHash string

func (h TaskDefHash) String() string { return string(h) }
