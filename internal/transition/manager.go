// Package transition owns the single source of truth for legal TaskNode
// status transitions. Every status change in the system funnels through
// Manager.Transition, which validates the edge against a fixed table,
// applies side effects, runs hooks, and appends to the bounded transition
// history.
package transition

import (
	"fmt"
	"time"

	"taskweaver/internal/apperrors"
	"taskweaver/internal/node"
	"taskweaver/internal/trace"
)

// legalEdges enumerates every allowed (from, to) pair in the node state
// machine. Guard conditions beyond the from/to pair itself (e.g. "every predecessor
// DONE") are the caller's responsibility — typically internal/scheduler for
// PENDING->READY, or internal/processor's handlers for the rest — because
// evaluating them requires graph context the manager intentionally does not
// hold.
var legalEdges = map[node.Status]map[node.Status]bool{
	node.StatusPending: {
		node.StatusReady:     true,
		node.StatusFailed:    true,
		node.StatusCancelled: true,
	},
	node.StatusReady: {
		node.StatusRunning:   true,
		node.StatusFailed:    true,
		node.StatusCancelled: true,
	},
	node.StatusRunning: {
		node.StatusDone:        true,
		node.StatusPlanDone:    true,
		node.StatusNeedsReplan: true,
		node.StatusFailed:      true,
		node.StatusCancelled:   true,
	},
	node.StatusPlanDone: {
		node.StatusAggregating: true,
		node.StatusNeedsReplan: true,
	},
	node.StatusAggregating: {
		node.StatusDone:        true,
		node.StatusNeedsReplan: true,
	},
	node.StatusNeedsReplan: {
		node.StatusReady:   true,
		node.StatusRunning: true,
	},
	node.StatusDone: {
		node.StatusNeedsReplan: true,
	},
	node.StatusFailed: {
		node.StatusNeedsReplan: true,
	},
	node.StatusCancelled: {},
}

// IsLegal reports whether the (from, to) edge appears in the authoritative
// table.
func IsLegal(from, to node.Status) bool {
	return legalEdges[from][to]
}

// Hook observes a transition after the edge has been validated but, for
// pre-hooks, before the node's status is mutated.
type Hook func(n *node.TaskNode, from, to node.Status, reason string) error

// StateWriter persists the node's post-transition state to the durable
// knowledge store. internal/batch.Manager satisfies this interface; writes
// are expected to be coalesced there, not performed synchronously here.
type StateWriter interface {
	WriteNodeState(n *node.TaskNode) error
}

// Manager enforces the legal-transition table and drives the side effects,
// hooks, and bounded transition history that accompany every status change.
type Manager struct {
	writer    StateWriter
	recorder  *trace.Recorder
	preHooks  []Hook
	postHooks []Hook
	now       func() time.Time
}

// New constructs a Manager. writer may be nil (transitions are then not
// persisted, useful for unit tests of pure state-machine behavior);
// recorder may be nil (NopSink semantics — no history kept).
func New(writer StateWriter, recorder *trace.Recorder) *Manager {
	return &Manager{
		writer:   writer,
		recorder: recorder,
		now:      time.Now,
	}
}

// AddPreHook registers a hook run after validation but before mutation; a
// non-nil error aborts the transition before any state changes.
func (m *Manager) AddPreHook(h Hook) { m.preHooks = append(m.preHooks, h) }

// AddPostHook registers a hook run after mutation, side effects, and the
// durable write have all succeeded. A post-hook error is returned to the
// caller but does not roll back the already-applied transition.
func (m *Manager) AddPostHook(h Hook) { m.postHooks = append(m.postHooks, h) }

// Transition moves n from its current status to to, enforcing the
// legal-transition table, applying side effects, writing through
// StateWriter, and appending to the bounded transition history. The node must not be locked by the
// caller; Transition takes n's own lock for the duration of the mutation.
func (m *Manager) Transition(n *node.TaskNode, to node.Status, reason string) error {
	n.Lock()
	from := n.Status
	n.Unlock()

	if !IsLegal(from, to) {
		return apperrors.NewInvalidStateError(n.TaskID, fmt.Sprintf("illegal transition %s -> %s (%s)", from, to, reason))
	}

	for _, h := range m.preHooks {
		if err := h(n, from, to, reason); err != nil {
			return fmt.Errorf("pre-hook rejected transition %s -> %s: %w", from, to, err)
		}
	}

	n.Lock()
	n.Status = to
	n.TimestampUpdated = m.now()
	applySideEffects(n, from, to, m.now())
	n.Unlock()

	if m.writer != nil {
		if err := m.writer.WriteNodeState(n); err != nil {
			return fmt.Errorf("persisting transition %s -> %s for %s: %w", from, to, n.TaskID, err)
		}
	}

	trace.SafeRecord(m.recorder, trace.Event{
		Kind:      trace.EventTransition,
		TaskID:    n.TaskID,
		From:      string(from),
		To:        string(to),
		Reason:    reason,
		Timestamp: m.now(),
	})

	for _, h := range m.postHooks {
		if err := h(n, from, to, reason); err != nil {
			return fmt.Errorf("post-hook error after transition %s -> %s: %w", from, to, err)
		}
	}

	return nil
}

// applySideEffects mutates fields that every transition into a given
// status must update: clearing retry counters on DONE, stamping
// timestamp_completed on terminal states. Caller holds n's lock.
func applySideEffects(n *node.TaskNode, from, to node.Status, now time.Time) {
	if node.IsTerminal(to) {
		n.TimestampCompleted = now
	}
	if to == node.StatusDone {
		n.ReplanAttempts = 0
		n.ReplanReason = ""
		delete(n.AuxData, "retry_history")
	}
	if to == node.StatusReady && from == node.StatusNeedsReplan {
		// re-entering the ready pool after a replan; error is stale.
		n.Err = ""
	}
}

// Reject records a rejected-transition event without mutating the node, for
// callers (e.g. the scheduler guard check) that want the attempt visible in
// the bounded history even though Transition itself was never called.
func (m *Manager) Reject(n *node.TaskNode, attemptedTo node.Status, reason string) {
	n.Lock()
	from := n.Status
	n.Unlock()

	trace.SafeRecord(m.recorder, trace.Event{
		Kind:      trace.EventRejected,
		TaskID:    n.TaskID,
		From:      string(from),
		To:        string(attemptedTo),
		Reason:    reason,
		Timestamp: m.now(),
	})
}

// History returns n's bounded transition history, oldest first, or nil if
// no recorder is configured.
func (m *Manager) History(taskID string) []trace.Event {
	if m.recorder == nil {
		return nil
	}
	return m.recorder.History(taskID)
}
