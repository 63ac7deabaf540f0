// Package recovery implements RecoveryManager: the ordered set of
// per-fault-class strategies that keep the orchestrator loop moving after
// an agent error, a stuck node, or a detected deadlock.
//
// Errors are classified and routed to one of four strategies — retry,
// replan, timeout recovery, and deadlock recovery — all of which funnel
// through internal/transition.Manager so every state change they make is
// still subject to the authoritative legal-transition table.
package recovery

import (
	"errors"
	"fmt"
	"time"

	"taskweaver/internal/apperrors"
	"taskweaver/internal/deadlock"
	"taskweaver/internal/graph"
	"taskweaver/internal/node"
	"taskweaver/internal/transition"
)

const (
	// DefaultMaxRetryAttempts bounds RetryStrategy.
	DefaultMaxRetryAttempts = 3
	// DefaultMaxReplanAttempts bounds ReplanStrategy and mirrors
	// TaskNode.ReplanAttempts's ceiling.
	DefaultMaxReplanAttempts = 3
	// timeoutForceReplanCeiling is the "stuck <= 5 min -> force
	// NEEDS_REPLAN" boundary; beyond it the node is failed outright.
	timeoutForceReplanCeiling = 5 * time.Minute
)

// Manager coordinates recovery for a single execution's graph.
type Manager struct {
	g                 *graph.Graph
	t                 *transition.Manager
	maxRetryAttempts  int
	maxReplanAttempts int
	now               func() time.Time

	// onRateLimit, if set, is invoked whenever retry() handles a
	// RateLimitError; the orchestrator uses this to halve its dynamic
	// concurrency.
	onRateLimit func()
}

// New constructs a Manager with the default attempt ceilings.
func New(g *graph.Graph, t *transition.Manager) *Manager {
	return &Manager{
		g:                 g,
		t:                 t,
		maxRetryAttempts:  DefaultMaxRetryAttempts,
		maxReplanAttempts: DefaultMaxReplanAttempts,
		now:               time.Now,
	}
}

// OnRateLimit registers fn to be called synchronously whenever retry()
// handles a RateLimitError. Callers expecting periodic RateLimit events
// (none, in single-agent tests) need not call this.
func (m *Manager) OnRateLimit(fn func()) { m.onRateLimit = fn }

// SetMaxRetryAttempts overrides RetryStrategy's attempt ceiling; n <= 0 is
// ignored.
func (m *Manager) SetMaxRetryAttempts(n int) {
	if n > 0 {
		m.maxRetryAttempts = n
	}
}

// SetMaxReplanAttempts overrides ReplanStrategy's attempt ceiling; n <= 0 is
// ignored. Callers should keep this in sync with processor.Config's
// MaxReplanAttempts so a node replanned by either path is bounded
// identically.
func (m *Manager) SetMaxReplanAttempts(n int) {
	if n > 0 {
		m.maxReplanAttempts = n
	}
}

// recordRetryHistory appends one idempotent record of a recovery action to
// aux_data.retry_history.
func recordRetryHistory(n *node.TaskNode, action, reason string, at time.Time) {
	n.Lock()
	defer n.Unlock()

	if n.AuxData == nil {
		n.AuxData = make(map[string]any)
	}
	hist, _ := n.AuxData["retry_history"].([]map[string]any)
	hist = append(hist, map[string]any{
		"action": action,
		"reason": reason,
		"at":     at,
	})
	n.AuxData["retry_history"] = hist
}

// HandleAgentError routes an adapter-surfaced error for n to the
// appropriate strategy: retry for transient errors, replan for execution
// errors, or an immediate FAILED transition for fatal ones
// (apperrors.ErrNotFound or an exhausted attempt ceiling).
func (m *Manager) HandleAgentError(n *node.TaskNode, err error) error {
	switch {
	case apperrors.IsRetryable(err):
		return m.retry(n, err)
	case apperrors.IsReplanEligible(err):
		return m.replan(n, err)
	default:
		return m.t.Transition(n, node.StatusFailed, fmt.Sprintf("fatal agent error: %v", err))
	}
}

// retry implements RetryStrategy: up to maxRetryAttempts, recorded in
// aux_data.retry_history. A RUNNING node is bounced through NEEDS_REPLAN ->
// READY at once so the scheduler re-dispatches it; the exponential backoff
// duration (1s, 2s, 4s, ...) is recorded in aux_data.retry_backoff, and no
// component waits for it before re-dispatching.
func (m *Manager) retry(n *node.TaskNode, cause error) error {
	if m.onRateLimit != nil {
		var ae *apperrors.AgentError
		if errors.As(cause, &ae) && ae.Kind == apperrors.ErrRateLimit {
			m.onRateLimit()
		}
	}

	n.Lock()
	attempts, _ := n.AuxData["retry_attempts"].(int)
	n.Unlock()

	if attempts >= m.maxRetryAttempts {
		recordRetryHistory(n, "retry_exhausted", cause.Error(), m.now())
		return m.t.Transition(n, node.StatusFailed, fmt.Sprintf("retry attempts exhausted: %v", cause))
	}

	backoff := time.Duration(1<<uint(attempts)) * time.Second
	n.Lock()
	n.AuxData["retry_attempts"] = attempts + 1
	n.AuxData["retry_backoff"] = backoff
	n.Unlock()
	recordRetryHistory(n, "retry_scheduled", cause.Error(), m.now())

	if err := m.t.Transition(n, node.StatusNeedsReplan, fmt.Sprintf("transient error, retry %d/%d: %v", attempts+1, m.maxRetryAttempts, cause)); err != nil {
		return err
	}
	return m.t.Transition(n, node.StatusReady, "retry backoff elapsed")
}

// replan implements ReplanStrategy for execution errors whose messages
// indicate a planning deficiency rather than a transient fault.
func (m *Manager) replan(n *node.TaskNode, cause error) error {
	n.Lock()
	attempts := n.ReplanAttempts
	n.Unlock()

	if attempts >= m.maxReplanAttempts {
		recordRetryHistory(n, "replan_exhausted", cause.Error(), m.now())
		return m.t.Transition(n, node.StatusFailed, fmt.Sprintf("replan attempts exhausted: %v", cause))
	}

	n.Lock()
	n.ReplanAttempts++
	n.ReplanReason = cause.Error()
	n.Unlock()
	recordRetryHistory(n, "replan_scheduled", cause.Error(), m.now())

	return m.t.Transition(n, node.StatusNeedsReplan, fmt.Sprintf("execution error indicates replan needed: %v", cause))
}

// HandleStuckNode implements TimeoutRecoveryStrategy: a node stuck in
// RUNNING for stuckFor is forced to NEEDS_REPLAN if within the 5-minute
// grace period, or FAILED beyond it.
func (m *Manager) HandleStuckNode(n *node.TaskNode, stuckFor time.Duration) error {
	recordRetryHistory(n, "timeout_recovery", fmt.Sprintf("stuck for %s", stuckFor), m.now())

	if stuckFor <= timeoutForceReplanCeiling {
		return m.t.Transition(n, node.StatusNeedsReplan, fmt.Sprintf("stuck %s, within grace period", stuckFor))
	}
	return m.t.Transition(n, node.StatusFailed, fmt.Sprintf("stuck %s, exceeded %s ceiling", stuckFor, timeoutForceReplanCeiling))
}

// HandleDeadlock implements DeadlockRecoveryStrategy: pattern-specific
// corrective actions.
func (m *Manager) HandleDeadlock(f deadlock.Finding) error {
	switch f.Pattern {
	case deadlock.PatternCircularDependency:
		return m.failHighestLayerNode(f.AffectedNodes, f.Reason)
	case deadlock.PatternParentChildSync:
		return m.repairParentSync(f.AffectedNodes, f.Reason)
	case deadlock.PatternStuckAggregation:
		return m.forceAggregating(f.AffectedNodes, f.Reason)
	case deadlock.PatternSingleNodeHang:
		return m.forceReplanForHang(f.AffectedNodes, f.Reason)
	case deadlock.PatternOrphanedNode:
		return m.readyOrphanIfParentTerminal(f.AffectedNodes, f.Reason)
	default:
		return fmt.Errorf("unknown deadlock pattern: %s", f.Pattern)
	}
}

func (m *Manager) failHighestLayerNode(ids []string, reason string) error {
	var victim *node.TaskNode
	for _, id := range ids {
		n, ok := m.g.GetNode(id)
		if !ok {
			continue
		}
		if victim == nil || n.Layer > victim.Layer {
			victim = n
		}
	}
	if victim == nil {
		return fmt.Errorf("deadlock recovery: no resolvable node among %v", ids)
	}
	recordRetryHistory(victim, "deadlock_cycle_break", reason, m.now())
	return m.t.Transition(victim, node.StatusFailed, "cycle broken: "+reason)
}

func (m *Manager) repairParentSync(ids []string, reason string) error {
	if len(ids) == 0 {
		return fmt.Errorf("deadlock recovery: sync fault with no affected node")
	}
	parent, ok := m.g.GetNode(ids[0])
	if !ok {
		return fmt.Errorf("deadlock recovery: parent %s not found", ids[0])
	}
	recordRetryHistory(parent, "deadlock_sync_repair", reason, m.now())
	if parent.Status == node.StatusRunning {
		return m.t.Transition(parent, node.StatusPlanDone, "sync fault repaired: "+reason)
	}
	return nil
}

func (m *Manager) forceAggregating(ids []string, reason string) error {
	if len(ids) == 0 {
		return fmt.Errorf("deadlock recovery: stuck aggregation with no affected node")
	}
	parent, ok := m.g.GetNode(ids[0])
	if !ok {
		return fmt.Errorf("deadlock recovery: parent %s not found", ids[0])
	}
	recordRetryHistory(parent, "deadlock_force_aggregating", reason, m.now())
	return m.t.Transition(parent, node.StatusAggregating, "stuck aggregation forced: "+reason)
}

func (m *Manager) forceReplanForHang(ids []string, reason string) error {
	if len(ids) == 0 {
		return fmt.Errorf("deadlock recovery: hang with no affected node")
	}
	n, ok := m.g.GetNode(ids[0])
	if !ok {
		return fmt.Errorf("deadlock recovery: node %s not found", ids[0])
	}
	recordRetryHistory(n, "deadlock_hang_replan", reason, m.now())
	return m.t.Transition(n, node.StatusNeedsReplan, "single-node hang forced replan: "+reason)
}

func (m *Manager) readyOrphanIfParentTerminal(ids []string, reason string) error {
	if len(ids) == 0 {
		return fmt.Errorf("deadlock recovery: orphan with no affected node")
	}
	orphan, ok := m.g.GetNode(ids[0])
	if !ok {
		return fmt.Errorf("deadlock recovery: orphan %s not found", ids[0])
	}
	if len(ids) > 1 {
		parent, ok := m.g.GetNode(ids[1])
		if ok && !node.IsTerminal(parent.Status) {
			return nil
		}
	}
	recordRetryHistory(orphan, "deadlock_orphan_ready", reason, m.now())
	return m.t.Transition(orphan, node.StatusReady, "orphan released: "+reason)
}
