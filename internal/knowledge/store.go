// Package knowledge implements the KnowledgeStore: a queryable mirror of
// every TaskNode's durable-facing fields, created on first write and
// updated on every status or result change.
//
// A mutex-guarded in-memory index, read by internal/contextbuilder for
// dependency results and captured whole by internal/checkpoint;
// internal/batch writes through it to coalesce durable flushes.
package knowledge

import (
	"sort"
	"sync"
	"time"

	"taskweaver/internal/node"
)

// Record is the durable-facing projection of a TaskNode.
type Record struct {
	TaskID             string
	Goal               string
	Status             node.Status
	TaskType           node.TaskType
	Layer              int
	ParentNodeID       string
	PlannedSubTaskIDs  []string
	ResultOrSummary    any
	AuxData            map[string]any
	TimestampUpdated   time.Time
	TimestampCompleted time.Time
}

func recordOf(n *node.TaskNode) Record {
	n.Lock()
	defer n.Unlock()

	var resultOrSummary any = n.OutputSummary
	if resultOrSummary == "" && n.Result != nil {
		resultOrSummary = n.Result
	}

	aux := make(map[string]any, len(n.AuxData))
	for k, v := range n.AuxData {
		aux[k] = v
	}

	return Record{
		TaskID:             n.TaskID,
		Goal:               n.Goal,
		Status:             n.Status,
		TaskType:           n.TaskType,
		Layer:              n.Layer,
		ParentNodeID:       n.ParentNodeID,
		PlannedSubTaskIDs:  append([]string(nil), n.PlannedSubTaskIDs...),
		ResultOrSummary:    resultOrSummary,
		AuxData:            aux,
		TimestampUpdated:   n.TimestampUpdated,
		TimestampCompleted: n.TimestampCompleted,
	}
}

// Store is a concurrency-safe, task-id-keyed mirror of node state.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]Record)}
}

// Upsert records n's current state. Called on first write and on every
// status or result change; it is never deleted while the graph lives —
// RemoveGraph is the only deletion path.
func (s *Store) Upsert(n *node.TaskNode) {
	rec := recordOf(n)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TaskID] = rec
}

// Get returns the record for taskID, if any.
func (s *Store) Get(taskID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[taskID]
	return r, ok
}

// RemoveGraph deletes records for the given task ids. It is not called
// when internal/graph.Graph.RemoveGraphAndDescendants discards a
// sub-graph, so the records of the discarded nodes stay in the store.
func (s *Store) RemoveGraph(taskIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range taskIDs {
		delete(s.records, id)
	}
}

// Children returns the records whose ParentNodeID equals taskID, sorted by
// task id for determinism.
func (s *Store) Children(taskID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.ParentNodeID == taskID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// All returns every record, sorted by task id.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
