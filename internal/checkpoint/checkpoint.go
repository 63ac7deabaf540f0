// Package checkpoint implements the optional Checkpoint collaborator:
// create_checkpoint/load_checkpoint over a task graph, knowledge store, and
// arbitrary metadata, round-tripping every field a TaskNode carries.
//
// Writes go to a temporary file that is then renamed into place (no fsync
// of the file or its directory), built on github.com/spf13/afero so the
// same code round-trips against an in-memory filesystem in tests and a
// real one in production.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"taskweaver/internal/graph"
	"taskweaver/internal/knowledge"
	"taskweaver/internal/node"
)

// nodeSnapshot is TaskNode's durable wire shape; TaskNode itself is not
// directly json-tagged since its mutex must never be serialized.
type nodeSnapshot struct {
	TaskID             string         `json:"task_id"`
	Goal               string         `json:"goal"`
	TaskType           node.TaskType  `json:"task_type"`
	NodeType           node.NodeType  `json:"node_type"`
	Status             node.Status    `json:"status"`
	Layer              int            `json:"layer"`
	ParentNodeID       string         `json:"parent_node_id"`
	SubGraphID         string         `json:"sub_graph_id"`
	PlannedSubTaskIDs  []string       `json:"planned_sub_task_ids"`
	DependsOnIndices   []int          `json:"depends_on_indices"`
	Result             any            `json:"result"`
	OutputSummary      string         `json:"output_summary"`
	Err                string         `json:"error"`
	ReplanAttempts     int            `json:"replan_attempts"`
	ReplanReason       string         `json:"replan_reason"`
	TimestampCreated   time.Time      `json:"timestamp_created"`
	TimestampUpdated   time.Time      `json:"timestamp_updated"`
	TimestampCompleted time.Time      `json:"timestamp_completed"`
	AuxData            map[string]any `json:"aux_data"`
}

type subGraphSnapshot struct {
	ID      string   `json:"id"`
	IsRoot  bool     `json:"is_root"`
	NodeIDs []string `json:"node_ids"`
	Edges   []graph.Edge `json:"edges"`
}

// Snapshot is the full round-trippable wire shape: graph + knowledge store
// + caller metadata.
type Snapshot struct {
	ExecutionID string                  `json:"execution_id"`
	CreatedAt   time.Time               `json:"created_at"`
	Metadata    map[string]any          `json:"metadata"`
	SubGraphs   []subGraphSnapshot      `json:"sub_graphs"`
	Nodes       []nodeSnapshot          `json:"nodes"`
	Knowledge   []knowledge.Record      `json:"knowledge"`
}

// Store is the filesystem-backed Checkpoint collaborator.
type Store struct {
	fs      afero.Fs
	baseDir string
	now     func() time.Time
}

// New constructs a Store rooted at baseDir on fs. Passing afero.NewMemMapFs()
// is the idiomatic way to exercise this package in tests without touching
// disk.
func New(fs afero.Fs, baseDir string) *Store {
	return &Store{fs: fs, baseDir: baseDir, now: time.Now}
}

func snapshotNode(n *node.TaskNode) nodeSnapshot {
	n.Lock()
	defer n.Unlock()
	aux := make(map[string]any, len(n.AuxData))
	for k, v := range n.AuxData {
		aux[k] = v
	}
	return nodeSnapshot{
		TaskID: n.TaskID, Goal: n.Goal, TaskType: n.TaskType, NodeType: n.NodeType,
		Status: n.Status, Layer: n.Layer, ParentNodeID: n.ParentNodeID, SubGraphID: n.SubGraphID,
		PlannedSubTaskIDs:  append([]string(nil), n.PlannedSubTaskIDs...),
		DependsOnIndices:   append([]int(nil), n.DependsOnIndices...),
		Result:             n.Result, OutputSummary: n.OutputSummary, Err: n.Err,
		ReplanAttempts: n.ReplanAttempts, ReplanReason: n.ReplanReason,
		TimestampCreated: n.TimestampCreated, TimestampUpdated: n.TimestampUpdated, TimestampCompleted: n.TimestampCompleted,
		AuxData: aux,
	}
}

// Create serializes g, k, and metadata to <baseDir>/<executionID>.json and
// returns the path written.
func (s *Store) Create(executionID string, g *graph.Graph, k *knowledge.Store, metadata map[string]any) (string, error) {
	snap := Snapshot{
		ExecutionID: executionID,
		CreatedAt:   s.now(),
		Metadata:    metadata,
		Knowledge:   k.All(),
	}

	for _, gid := range g.GraphIDs() {
		nodes := g.GetNodesInGraph(gid)
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.TaskID
			snap.Nodes = append(snap.Nodes, snapshotNode(n))
		}
		snap.SubGraphs = append(snap.SubGraphs, subGraphSnapshot{
			ID: gid, IsRoot: g.IsRootGraph(gid), NodeIDs: ids, Edges: g.Edges(gid),
		})
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].TaskID < snap.Nodes[j].TaskID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.fs.MkdirAll(s.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}
	path := filepath.Join(s.baseDir, executionID+".json")
	if err := writeAtomic(s.fs, path, data); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	return path, nil
}

// Load reconstructs a graph.Graph and knowledge.Store from the snapshot at
// path, along with the caller metadata it was created with.
func (s *Store) Load(path string) (*graph.Graph, *knowledge.Store, map[string]any, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	g := graph.New()
	for _, sg := range snap.SubGraphs {
		if err := g.AddGraph(sg.ID, sg.IsRoot); err != nil {
			return nil, nil, nil, fmt.Errorf("restore sub-graph %s: %w", sg.ID, err)
		}
	}

	byID := make(map[string]nodeSnapshot, len(snap.Nodes))
	for _, ns := range snap.Nodes {
		byID[ns.TaskID] = ns
	}

	for _, sg := range snap.SubGraphs {
		for _, nid := range sg.NodeIDs {
			ns, ok := byID[nid]
			if !ok {
				return nil, nil, nil, fmt.Errorf("checkpoint references unknown node %s", nid)
			}
			n := node.New(ns.TaskID, ns.Goal, ns.TaskType, ns.NodeType, ns.Layer, ns.ParentNodeID, ns.TimestampCreated)
			n.Status = ns.Status
			n.SubGraphID = ns.SubGraphID
			n.PlannedSubTaskIDs = ns.PlannedSubTaskIDs
			n.DependsOnIndices = ns.DependsOnIndices
			n.Result = ns.Result
			n.OutputSummary = ns.OutputSummary
			n.Err = ns.Err
			n.ReplanAttempts = ns.ReplanAttempts
			n.ReplanReason = ns.ReplanReason
			n.TimestampUpdated = ns.TimestampUpdated
			n.TimestampCompleted = ns.TimestampCompleted
			n.AuxData = ns.AuxData
			if err := g.AddNode(sg.ID, n); err != nil {
				return nil, nil, nil, fmt.Errorf("restore node %s: %w", nid, err)
			}
		}
		for _, e := range sg.Edges {
			if err := g.AddEdge(sg.ID, e.From, e.To); err != nil {
				return nil, nil, nil, fmt.Errorf("restore edge %s->%s in %s: %w", e.From, e.To, sg.ID, err)
			}
		}
	}

	k := knowledge.New()
	for _, rec := range snap.Knowledge {
		if n, ok := g.GetNode(rec.TaskID); ok {
			k.Upsert(n)
		}
	}

	if err := g.CheckInvariants(); err != nil {
		return nil, nil, nil, fmt.Errorf("restored graph violates invariants: %w", err)
	}

	return g, k, snap.Metadata, nil
}

// writeAtomic writes data to a temp file in the same directory as path and
// renames it into place (fsync is not exposed by afero.Fs, so this is
// best-effort atomicity via rename rather than full fsync durability).
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}
