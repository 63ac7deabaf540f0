package hitl_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/hitl"
	"taskweaver/internal/node"
)

func newTestNode() *node.TaskNode {
	return node.New("root", "goal", node.TaskThink, node.NodeExecute, 0, "", time.Unix(0, 0))
}

func TestReview_DisabledCheckpointAutoApproves(t *testing.T) {
	s := hitl.New(nil, hitl.Config{})
	d, err := s.Review(context.Background(), hitl.CheckpointBeforeExecution, newTestNode(), "ctx", nil)
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusApproved, d.Status)
}

type stubReviewer struct {
	decision Decision
	err      error
	received map[string]any
}

type Decision = hitl.Decision

func (s *stubReviewer) RequestReview(ctx context.Context, checkpoint hitl.Checkpoint, nodeSummary string, data map[string]any) (hitl.Decision, error) {
	s.received = data
	return s.decision, s.err
}

func TestReview_EnabledCheckpointCallsReviewerWithPayload(t *testing.T) {
	r := &stubReviewer{decision: Decision{Status: hitl.StatusApproved}}
	s := hitl.New(r, hitl.Config{})
	s.Enable(hitl.CheckpointPlanGeneration)

	d, err := s.Review(context.Background(), hitl.CheckpointPlanGeneration, newTestNode(), "summary text", map[string]any{"extra": 1})
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusApproved, d.Status)
	assert.Equal(t, "summary text", r.received["context_summary"])
	assert.Contains(t, r.received["node_summary"], "root")
	assert.Equal(t, 1, r.received["extra"])
}

func TestReview_AbortedSurfacesError(t *testing.T) {
	r := &stubReviewer{decision: Decision{Status: hitl.StatusAborted}}
	s := hitl.New(r, hitl.Config{})
	s.Enable(hitl.CheckpointRootGoalReview)

	_, err := s.Review(context.Background(), hitl.CheckpointRootGoalReview, newTestNode(), "", nil)
	assert.Error(t, err)
}

func TestReview_TimeoutWithAutoApprove(t *testing.T) {
	r := &stubReviewer{decision: Decision{Status: hitl.StatusTimeout}}
	s := hitl.New(r, hitl.Config{AutoApproveAfterTimeout: true})
	s.Enable(hitl.CheckpointAtomization)

	d, err := s.Review(context.Background(), hitl.CheckpointAtomization, newTestNode(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusApproved, d.Status)
}

func TestReview_TimeoutWithoutAutoApproveErrors(t *testing.T) {
	r := &stubReviewer{decision: Decision{Status: hitl.StatusTimeout}}
	s := hitl.New(r, hitl.Config{AutoApproveAfterTimeout: false})
	s.Enable(hitl.CheckpointAtomization)

	_, err := s.Review(context.Background(), hitl.CheckpointAtomization, newTestNode(), "", nil)
	assert.Error(t, err)
}
