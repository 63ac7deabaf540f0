// Package hitl implements HITLService: synchronous human review at
// configured checkpoints.
//
// Reviewer is a narrow interface the caller supplies and is invoked
// synchronously; the checkpoint enum and timeout/auto-approve policy are
// driven by Config's hitl_timeout_seconds / auto_approve_after_timeout
// and the six named checkpoints below.
package hitl

import (
	"context"
	"fmt"
	"time"

	"taskweaver/internal/apperrors"
	"taskweaver/internal/node"
)

// Checkpoint names one of the six points the orchestrator may pause at.
type Checkpoint string

const (
	CheckpointPlanGeneration  Checkpoint = "PlanGeneration"
	CheckpointPlanModification Checkpoint = "PlanModification"
	CheckpointAtomization     Checkpoint = "Atomization"
	CheckpointBeforeExecution Checkpoint = "BeforeExecution"
	CheckpointAggregationReview Checkpoint = "AggregationReview"
	CheckpointRootGoalReview  Checkpoint = "RootGoalReview"
)

// Status is the reviewer's verdict.
type Status string

const (
	StatusApproved            Status = "approved"
	StatusRequestModification Status = "request_modification"
	StatusRejected            Status = "rejected"
	StatusAborted             Status = "aborted"
	StatusTimeout             Status = "timeout"
)

// Decision is the callback's return value.
type Decision struct {
	Status                   Status
	ModificationInstructions string
}

// Reviewer is the external boundary a human-review UI implements.
// data carries checkpoint-specific payload (e.g. the proposed plan).
type Reviewer interface {
	RequestReview(ctx context.Context, checkpoint Checkpoint, nodeSummary string, data map[string]any) (Decision, error)
}

// Config tunes timeout behavior.
type Config struct {
	Timeout               time.Duration
	AutoApproveAfterTimeout bool
}

// DefaultTimeout is the hitl_timeout_seconds default (1200 s).
const DefaultTimeout = 1200 * time.Second

// Service drives HITL checkpoints, enforcing the configured timeout and
// auto-approve policy, and building the node_summary + context_summary
// payload every checkpoint receives.
type Service struct {
	reviewer Reviewer
	cfg      Config
	enabled  map[Checkpoint]bool
}

// New constructs a Service. reviewer may be nil, in which case Review
// always auto-approves immediately (HITL disabled).
func New(reviewer Reviewer, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Service{reviewer: reviewer, cfg: cfg, enabled: make(map[Checkpoint]bool)}
}

// Enable turns on review at the given checkpoint; checkpoints are
// otherwise skipped (treated as auto-approved) so enabling HITL is opt-in
// per checkpoint.
func (s *Service) Enable(checkpoints ...Checkpoint) {
	for _, c := range checkpoints {
		s.enabled[c] = true
	}
}

// Review requests human review for n at checkpoint, if enabled. contextSummary
// is the rendered ContextBuilder output (or a short excerpt of it); data carries
// any checkpoint-specific payload (e.g. the proposed PlanOutput).
func (s *Service) Review(ctx context.Context, checkpoint Checkpoint, n *node.TaskNode, contextSummary string, data map[string]any) (Decision, error) {
	if s.reviewer == nil || !s.enabled[checkpoint] {
		return Decision{Status: StatusApproved}, nil
	}

	payload := map[string]any{
		"node_summary":    nodeSummary(n),
		"context_summary": contextSummary,
	}
	for k, v := range data {
		payload[k] = v
	}

	reviewCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	decision, err := s.reviewer.RequestReview(reviewCtx, checkpoint, nodeSummary(n), payload)
	if err != nil {
		if reviewCtx.Err() != nil {
			return s.onTimeout(checkpoint)
		}
		return Decision{}, err
	}
	if decision.Status == StatusTimeout {
		return s.onTimeout(checkpoint)
	}
	if decision.Status == StatusAborted {
		return decision, apperrors.NewHITLAbortError(string(checkpoint), "reviewer aborted")
	}
	return decision, nil
}

func (s *Service) onTimeout(checkpoint Checkpoint) (Decision, error) {
	if s.cfg.AutoApproveAfterTimeout {
		return Decision{Status: StatusApproved}, nil
	}
	return Decision{Status: StatusTimeout}, apperrors.NewHITLTimeoutError(string(checkpoint), "review timed out")
}

func nodeSummary(n *node.TaskNode) string {
	n.Lock()
	defer n.Unlock()
	return fmt.Sprintf("%s [%s/%s/%s] layer=%d: %s", n.TaskID, n.TaskType, n.NodeType, n.Status, n.Layer, n.Goal)
}
