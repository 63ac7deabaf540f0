package deadlock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/deadlock"
	"taskweaver/internal/graph"
	"taskweaver/internal/node"
)

func mkNode(id, parent string, layer int) *node.TaskNode {
	return node.New(id, "goal:"+id, node.TaskThink, node.NodeExecute, layer, parent, time.Unix(0, 0))
}

func hasPattern(findings []deadlock.Finding, p deadlock.Pattern) bool {
	for _, f := range findings {
		if f.Pattern == p {
			return true
		}
	}
	return false
}

func TestDetectSingleNodeHang(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	n := mkNode("root", "", 0)
	n.Status = node.StatusRunning
	n.TimestampUpdated = time.Now().Add(-200 * time.Second)
	require.NoError(t, g.AddNode("root", n))

	d := deadlock.New(g)
	findings := d.Run()
	assert.True(t, hasPattern(findings, deadlock.PatternSingleNodeHang))
}

func TestDetectOrphanedNode_MissingParent(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	root := mkNode("root", "", 0)
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	require.NoError(t, g.AddNode("root", root))
	require.NoError(t, g.AddGraph("sub", false))

	child := mkNode("sub.0", "root", 1)
	require.NoError(t, g.AddNode("sub", child))
	child.ParentNodeID = "does-not-exist"

	d := deadlock.New(g)
	findings := d.Run()
	assert.True(t, hasPattern(findings, deadlock.PatternOrphanedNode))
}

func TestDetectStuckAggregation_AllPendingAndBlocked(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	root := mkNode("root", "", 0)
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	root.Status = node.StatusPlanDone
	require.NoError(t, g.AddNode("root", root))
	require.NoError(t, g.AddGraph("sub", false))

	a := mkNode("sub.0", "root", 1)
	a.ParentNodeID = "missing-parent-to-block-readiness"
	require.NoError(t, g.AddNode("sub", a))

	d := deadlock.New(g)
	findings := d.Run()
	assert.True(t, hasPattern(findings, deadlock.PatternStuckAggregation))
}

func TestDetectStuckAggregation_OneTerminalFailureBlocksDependentSibling(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	root := mkNode("root", "", 0)
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	root.Status = node.StatusPlanDone
	require.NoError(t, g.AddNode("root", root))
	require.NoError(t, g.AddGraph("sub", false))

	a := mkNode("sub.0", "root", 1)
	a.Status = node.StatusFailed
	require.NoError(t, g.AddNode("sub", a))

	b := mkNode("sub.1", "root", 1)
	b.DependsOnIndices = []int{0}
	require.NoError(t, g.AddNode("sub", b))
	require.NoError(t, g.AddEdge("sub", "sub.0", "sub.1"))

	d := deadlock.New(g)
	findings := d.Run()
	assert.True(t, hasPattern(findings, deadlock.PatternStuckAggregation))
}

func TestDetectParentChildSync_PlanDoneWithEmptySubGraph(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	root := mkNode("root", "", 0)
	root.NodeType = node.NodePlan
	root.SubGraphID = "sub"
	root.Status = node.StatusPlanDone
	require.NoError(t, g.AddNode("root", root))
	require.NoError(t, g.AddGraph("sub", false))

	d := deadlock.New(g)
	findings := d.Run()
	assert.True(t, hasPattern(findings, deadlock.PatternParentChildSync))
}

func TestRun_NoFindingsOnHealthyGraph(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	root := mkNode("root", "", 0)
	root.Status = node.StatusDone
	require.NoError(t, g.AddNode("root", root))

	d := deadlock.New(g)
	assert.Empty(t, d.Run())
}
