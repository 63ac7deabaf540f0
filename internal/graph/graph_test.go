package graph_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/graph"
	"taskweaver/internal/node"
)

func newNode(id, parent string, layer int) *node.TaskNode {
	return node.New(id, "goal:"+id, node.TaskThink, node.NodeExecute, layer, parent, time.Unix(0, 0))
}

func TestAddNode_RootRequiresNoParent(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	require.NoError(t, g.AddNode("root", newNode("root", "", 0)))

	n, ok := g.GetNode("root")
	require.True(t, ok)
	assert.Equal(t, "root", n.TaskID)
}

func TestAddNode_NonRootRequiresPlanParent(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	require.NoError(t, g.AddNode("root", newNode("root", "", 0)))

	child := newNode("root.0", "root", 1)
	err := g.AddNode("root", child)
	assert.Error(t, err, "parent root is not a PLAN node")

	root, _ := g.GetNode("root")
	root.NodeType = node.NodePlan
	root.SubGraphID = "root.sub"
	require.NoError(t, g.AddGraph("root.sub", false))
	require.NoError(t, g.AddNode("root.sub", child))
}

func TestAddEdge_RejectsCycle(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	require.NoError(t, g.AddNode("root", newNode("root", "", 0)))

	root, _ := g.GetNode("root")
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	require.NoError(t, g.AddGraph("sub", false))
	require.NoError(t, g.AddNode("sub", newNode("sub.0", "root", 1)))
	require.NoError(t, g.AddNode("sub", newNode("sub.1", "root", 1)))

	require.NoError(t, g.AddEdge("sub", "sub.0", "sub.1"))

	before := g.Version()
	err := g.AddEdge("sub", "sub.1", "sub.0")
	assert.Error(t, err)
	assert.Equal(t, before, g.Version(), "graph must be unchanged on rejection")
}

func TestAddEdge_RejectsSelfLoopAndDuplicate(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	require.NoError(t, g.AddNode("root", newNode("root", "", 0)))
	root, _ := g.GetNode("root")
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	require.NoError(t, g.AddGraph("sub", false))
	require.NoError(t, g.AddNode("sub", newNode("sub.0", "root", 1)))
	require.NoError(t, g.AddNode("sub", newNode("sub.1", "root", 1)))

	assert.Error(t, g.AddEdge("sub", "sub.0", "sub.0"))
	require.NoError(t, g.AddEdge("sub", "sub.0", "sub.1"))
	assert.Error(t, g.AddEdge("sub", "sub.0", "sub.1"))
}

func TestTopologicalOrder_IsolatedNodesAppendedInSortedOrder(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	require.NoError(t, g.AddNode("root", newNode("root", "", 0)))
	root, _ := g.GetNode("root")
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	require.NoError(t, g.AddGraph("sub", false))
	require.NoError(t, g.AddNode("sub", newNode("sub.2", "root", 1)))
	require.NoError(t, g.AddNode("sub", newNode("sub.0", "root", 1)))
	require.NoError(t, g.AddNode("sub", newNode("sub.1", "root", 1)))

	order := g.TopologicalOrder("sub")
	assert.Equal(t, []string{"sub.0", "sub.1", "sub.2"}, order)
}

func TestRemoveGraphAndDescendants_Cascades(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	require.NoError(t, g.AddNode("root", newNode("root", "", 0)))
	root, _ := g.GetNode("root")
	root.NodeType = node.NodePlan
	root.SubGraphID = "root.sub"
	require.NoError(t, g.AddGraph("root.sub", false))

	child := newNode("root.sub.0", "root", 1)
	child.NodeType = node.NodePlan
	child.SubGraphID = "root.sub.0.sub"
	require.NoError(t, g.AddNode("root.sub", child))
	require.NoError(t, g.AddGraph("root.sub.0.sub", false))
	require.NoError(t, g.AddNode("root.sub.0.sub", newNode("root.sub.0.sub.0", "root.sub.0", 2)))

	require.NoError(t, g.RemoveGraphAndDescendants("root.sub"))

	_, ok := g.GetNode("root.sub.0")
	assert.False(t, ok)
	_, ok = g.GetNode("root.sub.0.sub.0")
	assert.False(t, ok)
	assert.False(t, g.HasGraph("root.sub.0.sub"))

	_, ok = g.GetNode("root")
	assert.True(t, ok, "root graph survives removing a non-root sub-graph")
}

func TestComputeHash_DeterministicAcrossEquivalentGraphs(t *testing.T) {
	build := func() *graph.Graph {
		g := graph.New()
		_ = g.AddGraph("root", true)
		_ = g.AddNode("root", newNode("root", "", 0))
		root, _ := g.GetNode("root")
		root.NodeType = node.NodePlan
		root.SubGraphID = "sub"
		_ = g.AddGraph("sub", false)
		_ = g.AddNode("sub", newNode("sub.0", "root", 1))
		_ = g.AddNode("sub", newNode("sub.1", "root", 1))
		_ = g.AddEdge("sub", "sub.0", "sub.1")
		return g
	}

	h1, err := build().ComputeHash("sub")
	require.NoError(t, err)
	h2, err := build().ComputeHash("sub")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NotEmpty(t, h1.String())
}
