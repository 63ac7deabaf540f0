package recovery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/apperrors"
	"taskweaver/internal/deadlock"
	"taskweaver/internal/graph"
	"taskweaver/internal/node"
	"taskweaver/internal/recovery"
	"taskweaver/internal/transition"
)

func setup(t *testing.T) (*graph.Graph, *transition.Manager) {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddGraph("root", true))
	return g, transition.New(nil, nil)
}

func TestHandleAgentError_RetryableSchedulesRetryThenReady(t *testing.T) {
	g, tm := setup(t)
	n := node.New("root", "g", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0))
	require.NoError(t, g.AddNode("root", n))
	require.NoError(t, tm.Transition(n, node.StatusReady, ""))
	require.NoError(t, tm.Transition(n, node.StatusRunning, ""))

	rm := recovery.New(g, tm)
	err := rm.HandleAgentError(n, apperrors.NewTimeoutError("adapter1", "slow"))
	require.NoError(t, err)
	assert.Equal(t, node.StatusReady, n.Status)

	hist, _ := n.AuxData["retry_history"].([]map[string]any)
	require.Len(t, hist, 1)
	assert.Equal(t, "retry_scheduled", hist[0]["action"])
}

func TestHandleAgentError_ExhaustedRetriesFails(t *testing.T) {
	g, tm := setup(t)
	n := node.New("root", "g", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0))
	require.NoError(t, g.AddNode("root", n))
	require.NoError(t, tm.Transition(n, node.StatusReady, ""))
	require.NoError(t, tm.Transition(n, node.StatusRunning, ""))

	rm := recovery.New(g, tm)
	for i := 0; i < recovery.DefaultMaxRetryAttempts; i++ {
		require.NoError(t, rm.HandleAgentError(n, apperrors.NewTimeoutError("a", "slow")))
		if n.Status == node.StatusReady {
			require.NoError(t, tm.Transition(n, node.StatusRunning, "redispatched"))
		}
	}
	require.NoError(t, rm.HandleAgentError(n, apperrors.NewTimeoutError("a", "slow")))
	assert.Equal(t, node.StatusFailed, n.Status)
}

func TestHandleAgentError_NotFoundIsFatal(t *testing.T) {
	g, tm := setup(t)
	n := node.New("root", "g", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0))
	require.NoError(t, g.AddNode("root", n))
	require.NoError(t, tm.Transition(n, node.StatusReady, ""))
	require.NoError(t, tm.Transition(n, node.StatusRunning, ""))

	rm := recovery.New(g, tm)
	require.NoError(t, rm.HandleAgentError(n, apperrors.NewNotFoundError("a", "no such adapter")))
	assert.Equal(t, node.StatusFailed, n.Status)
}

func TestHandleStuckNode_WithinGraceForcesReplan(t *testing.T) {
	g, tm := setup(t)
	n := node.New("root", "g", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0))
	require.NoError(t, g.AddNode("root", n))
	require.NoError(t, tm.Transition(n, node.StatusReady, ""))
	require.NoError(t, tm.Transition(n, node.StatusRunning, ""))

	rm := recovery.New(g, tm)
	require.NoError(t, rm.HandleStuckNode(n, 2*time.Minute))
	assert.Equal(t, node.StatusNeedsReplan, n.Status)
}

func TestHandleStuckNode_BeyondGraceFails(t *testing.T) {
	g, tm := setup(t)
	n := node.New("root", "g", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0))
	require.NoError(t, g.AddNode("root", n))
	require.NoError(t, tm.Transition(n, node.StatusReady, ""))
	require.NoError(t, tm.Transition(n, node.StatusRunning, ""))

	rm := recovery.New(g, tm)
	require.NoError(t, rm.HandleStuckNode(n, 10*time.Minute))
	assert.Equal(t, node.StatusFailed, n.Status)
}

func TestHandleDeadlock_StuckAggregationForcesAggregating(t *testing.T) {
	g, tm := setup(t)
	root := node.New("root", "g", node.TaskThink, node.NodePlan, 0, "", time.Unix(0, 0))
	require.NoError(t, g.AddNode("root", root))
	require.NoError(t, tm.Transition(root, node.StatusReady, ""))
	require.NoError(t, tm.Transition(root, node.StatusRunning, ""))
	require.NoError(t, tm.Transition(root, node.StatusPlanDone, ""))

	rm := recovery.New(g, tm)
	require.NoError(t, rm.HandleDeadlock(deadlock.Finding{
		Pattern:       deadlock.PatternStuckAggregation,
		AffectedNodes: []string{"root"},
		Reason:        "test",
	}))
	assert.Equal(t, node.StatusAggregating, root.Status)
}

func TestHandleDeadlock_OrphanReadyOnlyWhenParentTerminal(t *testing.T) {
	g, tm := setup(t)
	parent := node.New("root", "g", node.TaskThink, node.NodePlan, 0, "", time.Unix(0, 0))
	require.NoError(t, g.AddNode("root", parent))
	require.NoError(t, tm.Transition(parent, node.StatusReady, ""))
	require.NoError(t, tm.Transition(parent, node.StatusRunning, ""))

	child := node.New("root.0", "g0", node.TaskThink, node.NodeExecute, 1, "root", time.Unix(0, 0))
	child.ParentNodeID = "root"
	require.NoError(t, g.AddGraph("sub", false))
	parent.SubGraphID = "sub"
	require.NoError(t, g.AddNode("sub", child))

	rm := recovery.New(g, tm)

	require.NoError(t, rm.HandleDeadlock(deadlock.Finding{
		Pattern:       deadlock.PatternOrphanedNode,
		AffectedNodes: []string{"root.0", "root"},
		Reason:        "parent not terminal yet",
	}))
	assert.Equal(t, node.StatusPending, child.Status, "parent is RUNNING, not terminal")

	require.NoError(t, tm.Transition(parent, node.StatusFailed, "give up"))
	require.NoError(t, rm.HandleDeadlock(deadlock.Finding{
		Pattern:       deadlock.PatternOrphanedNode,
		AffectedNodes: []string{"root.0", "root"},
		Reason:        "parent now terminal",
	}))
	assert.Equal(t, node.StatusReady, child.Status)
}
