// Package node defines TaskNode, the unit of work the orchestrator schedules.
//
// A TaskNode is created by the planner that produced it and mutated only by
// its current handler (see internal/processor); it is destroyed only when
// its enclosing graph is discarded.
package node

import (
	"sync"
	"time"
)

// TaskType classifies the kind of work a node performs.
type TaskType string

const (
	TaskSearch    TaskType = "SEARCH"
	TaskThink     TaskType = "THINK"
	TaskWrite     TaskType = "WRITE"
	TaskAggregate TaskType = "AGGREGATE"
)

// NodeType classifies the node's role in the plan/execute/aggregate cycle.
type NodeType string

const (
	NodePlan      NodeType = "PLAN"
	NodeExecute   NodeType = "EXECUTE"
	NodeAggregate NodeType = "AGGREGATE"
)

// Status is the node's position in the state machine.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusReady       Status = "READY"
	StatusRunning     Status = "RUNNING"
	StatusPlanDone    Status = "PLAN_DONE"
	StatusAggregating Status = "AGGREGATING"
	StatusNeedsReplan Status = "NEEDS_REPLAN"
	StatusDone        Status = "DONE"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

// IsTerminal reports whether s is one of the three terminal statuses.
func IsTerminal(s Status) bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParentAllowsChildReady is the set of parent statuses under which a child
// may transition PENDING -> READY.
func ParentAllowsChildReady(s Status) bool {
	switch s {
	case StatusRunning, StatusPlanDone, StatusDone, StatusAggregating:
		return true
	default:
		return false
	}
}

// DependsOnIndex is an index into the parent's PlannedSubTaskIDs, resolved
// to a task id lazily once the sibling list is known.
type DependsOnIndex int

// TaskNode is the unit of work scheduled by the orchestrator.
//
// TaskID is hierarchical, e.g. "root.1.2": the root node is "root" and a
// child's id is its parent's id with ".<n>" appended, where n is a
// per-parent counter: for a node's first plan it equals the child's
// 0-based index within PlannedSubTaskIDs, and it keeps counting across
// replans, so a replanned child's suffix can exceed its index.
type TaskNode struct {
	mu sync.Mutex

	TaskID string
	Goal   string

	TaskType TaskType
	NodeType NodeType
	Status   Status

	Layer int

	ParentNodeID string // empty for the root node
	SubGraphID   string // set once this node plans children

	PlannedSubTaskIDs []string
	DependsOnIndices  []int

	Result        any
	OutputSummary string
	Err           string

	ReplanAttempts int
	ReplanReason   string

	TimestampCreated   time.Time
	TimestampUpdated   time.Time
	TimestampCompleted time.Time

	AuxData map[string]any
}

// New constructs a TaskNode in PENDING status with AuxData initialized.
func New(taskID, goal string, taskType TaskType, nodeType NodeType, layer int, parentNodeID string, createdAt time.Time) *TaskNode {
	return &TaskNode{
		TaskID:           taskID,
		Goal:             goal,
		TaskType:         taskType,
		NodeType:         nodeType,
		Status:           StatusPending,
		Layer:            layer,
		ParentNodeID:     parentNodeID,
		DependsOnIndices: nil,
		TimestampCreated: createdAt,
		TimestampUpdated: createdAt,
		AuxData:          make(map[string]any),
	}
}

// Lock/Unlock expose the node's mutex so a single handler invocation can
// serialize concurrent reads/writes to node fields without a second
// map-based lock table: concurrent transitions on the same node must be
// rejected, and callers (transition.Manager, processor handlers) take
// this lock around a node's full read-modify-write cycle.
func (n *TaskNode) Lock()   { n.mu.Lock() }
func (n *TaskNode) Unlock() { n.mu.Unlock() }

// AgentName returns the adapter name recorded by the last handler to run,
// or "" if none has run yet.
func (n *TaskNode) AgentName() string {
	if v, ok := n.AuxData["agent_name"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SetAgentName records provenance of the adapter that produced the node's
// current result. Handlers are required to preserve the node's prior
// agent_name on exit even when they don't call an adapter themselves.
func (n *TaskNode) SetAgentName(name string) {
	if n.AuxData == nil {
		n.AuxData = make(map[string]any)
	}
	n.AuxData["agent_name"] = name
}

// Clone returns a deep-enough copy for snapshotting into the knowledge
// store or a checkpoint: AuxData is copied one level, PlannedSubTaskIDs and
// DependsOnIndices are copied slices. Result is copied by reference (it is
// an opaque payload).
func (n *TaskNode) Clone() *TaskNode {
	n.mu.Lock()
	defer n.mu.Unlock()

	cp := *n
	cp.mu = sync.Mutex{}

	if n.PlannedSubTaskIDs != nil {
		cp.PlannedSubTaskIDs = append([]string(nil), n.PlannedSubTaskIDs...)
	}
	if n.DependsOnIndices != nil {
		cp.DependsOnIndices = append([]int(nil), n.DependsOnIndices...)
	}
	if n.AuxData != nil {
		aux := make(map[string]any, len(n.AuxData))
		for k, v := range n.AuxData {
			aux[k] = v
		}
		cp.AuxData = aux
	}
	return &cp
}
