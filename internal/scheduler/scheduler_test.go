package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/graph"
	"taskweaver/internal/node"
	"taskweaver/internal/scheduler"
	"taskweaver/internal/transition"
)

func mkNode(id, parent string, layer int, created time.Time) *node.TaskNode {
	return node.New(id, "goal:"+id, node.TaskThink, node.NodeExecute, layer, parent, created)
}

func TestUpdateNodeReadiness_PromotesPendingWithSatisfiedDependencies(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	root := mkNode("root", "", 0, time.Unix(0, 0))
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	root.Status = node.StatusRunning
	require.NoError(t, g.AddNode("root", root))
	require.NoError(t, g.AddGraph("sub", false))

	a := mkNode("sub.0", "root", 1, time.Unix(1, 0))
	b := mkNode("sub.1", "root", 1, time.Unix(2, 0))
	require.NoError(t, g.AddNode("sub", a))
	require.NoError(t, g.AddNode("sub", b))
	require.NoError(t, g.AddEdge("sub", "sub.0", "sub.1"))

	tm := transition.New(nil, nil)
	s := scheduler.New(g, tm)

	n := s.UpdateNodeReadiness()
	assert.Equal(t, 1, n, "only sub.0 has no pending predecessor")

	a2, _ := g.GetNode("sub.0")
	assert.Equal(t, node.StatusReady, a2.Status)
	b2, _ := g.GetNode("sub.1")
	assert.Equal(t, node.StatusPending, b2.Status, "sub.1 depends on sub.0 which is not yet DONE")
}

func TestGetReadyNodes_SortsByLayerThenCreation(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	root := mkNode("root", "", 0, time.Unix(0, 0))
	root.Status = node.StatusReady
	require.NoError(t, g.AddNode("root", root))
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	require.NoError(t, g.AddGraph("sub", false))

	late := mkNode("sub.1", "root", 1, time.Unix(5, 0))
	late.Status = node.StatusReady
	early := mkNode("sub.0", "root", 1, time.Unix(1, 0))
	early.Status = node.StatusReady
	require.NoError(t, g.AddNode("sub", late))
	require.NoError(t, g.AddNode("sub", early))

	root.Status = node.StatusPlanDone

	s := scheduler.New(g, nil)
	ready := s.GetReadyNodes(0)

	var ids []string
	for _, n := range ready {
		ids = append(ids, n.TaskID)
	}
	assert.Equal(t, []string{"sub.0", "sub.1"}, ids)
}

func TestGetReadyNodes_RespectsMaxAndCacheInvalidation(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	root := mkNode("root", "", 0, time.Unix(0, 0))
	root.Status = node.StatusPlanDone
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	require.NoError(t, g.AddNode("root", root))
	require.NoError(t, g.AddGraph("sub", false))

	a := mkNode("sub.0", "root", 1, time.Unix(1, 0))
	a.Status = node.StatusReady
	require.NoError(t, g.AddNode("sub", a))

	s := scheduler.New(g, nil)
	assert.Len(t, s.GetReadyNodes(0), 1)

	b := mkNode("sub.1", "root", 1, time.Unix(2, 0))
	b.Status = node.StatusReady
	require.NoError(t, g.AddNode("sub", b))

	ready := s.GetReadyNodes(0)
	assert.Len(t, ready, 2, "cache must invalidate after graph version changes")

	limited := s.GetReadyNodes(1)
	assert.Len(t, limited, 1)
}
