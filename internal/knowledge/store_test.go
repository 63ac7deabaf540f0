package knowledge_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/knowledge"
	"taskweaver/internal/node"
)

func TestUpsertAndGet(t *testing.T) {
	s := knowledge.New()
	n := node.New("root", "do the thing", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0))
	s.Upsert(n)

	rec, ok := s.Get("root")
	require.True(t, ok)
	assert.Equal(t, "do the thing", rec.Goal)
	assert.Equal(t, node.StatusPending, rec.Status)
}

func TestChildren_SortedByTaskID(t *testing.T) {
	s := knowledge.New()
	s.Upsert(node.New("root", "g", node.TaskThink, node.NodePlan, 0, "", time.Unix(0, 0)))
	s.Upsert(node.New("root.1", "g1", node.TaskThink, node.NodeExecute, 1, "root", time.Unix(0, 0)))
	s.Upsert(node.New("root.0", "g0", node.TaskThink, node.NodeExecute, 1, "root", time.Unix(0, 0)))

	children := s.Children("root")
	require.Len(t, children, 2)
	assert.Equal(t, "root.0", children[0].TaskID)
	assert.Equal(t, "root.1", children[1].TaskID)
}

func TestRemoveGraph_DeletesGivenIDs(t *testing.T) {
	s := knowledge.New()
	s.Upsert(node.New("a", "g", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0)))
	s.Upsert(node.New("b", "g", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0)))

	s.RemoveGraph([]string{"a"})

	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("b")
	assert.True(t, ok)
}
