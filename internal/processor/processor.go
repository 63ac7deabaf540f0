// Package processor implements NodeProcessor: per-node dispatch that picks
// a handler by the node's current status, invokes the resolved agent
// adapter, and drives the resulting state transition.
//
// Each handler resolves a runner, calls it, and maps the outcome to a
// state transition, threading ContextBuilder, HITLService, and
// RecoveryManager through as needed.
package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskweaver/internal/contextbuilder"
	"taskweaver/internal/graph"
	"taskweaver/internal/hitl"
	"taskweaver/internal/node"
	"taskweaver/internal/recovery"
	"taskweaver/internal/registry"
	"taskweaver/internal/transition"
)

// DefaultMaxPlanningLayer is the layer at or beyond which a node is forced
// to EXECUTE rather than considered for planning.
const DefaultMaxPlanningLayer = 5

// Config tunes processor behavior.
type Config struct {
	MaxPlanningLayer int
	// AggregationDoneThreshold is the minimum DONE fraction of a PLAN_DONE
	// node's children required before promoting to AGGREGATING.
	AggregationDoneThreshold float64
	// NodeExecutionTimeout bounds a single adapter call. Zero is replaced
	// with DefaultNodeExecutionTimeout.
	NodeExecutionTimeout time.Duration
	// ForceRootNodePlanning: when set, the root node always takes the
	// Planner path regardless of the MaxPlanningLayer depth check, which
	// still governs every other node.
	ForceRootNodePlanning bool
	// MaxReplanAttempts bounds TaskNode.ReplanAttempts. Zero is replaced
	// with DefaultMaxReplanAttempts.
	MaxReplanAttempts int
}

// DefaultNodeExecutionTimeout is the default bound on a single adapter call.
const DefaultNodeExecutionTimeout = 2400 * time.Second

// MaxHITLModifyRounds bounds how many times a reviewer may return
// request_modification for the same node before the processor gives up and
// fails the node; this is independent of MaxReplanAttempts since an
// operator-requested modification is not a replan (ReplanAttempts is left
// untouched).
const MaxHITLModifyRounds = 5

// DefaultAggregationDoneThreshold has the same value as
// internal/deadlock.DefaultStuckAggregationThreshold but is a separate
// setting: it gates PLAN_DONE -> AGGREGATING promotion, while the deadlock
// detector's stuck-aggregation check consults neither value.
const DefaultAggregationDoneThreshold = 0.8

// Processor wires together every collaborator a handler needs.
type Processor struct {
	g        *graph.Graph
	t        *transition.Manager
	reg      *registry.Registry
	ctx      *contextbuilder.Builder
	hitlSvc  *hitl.Service
	recovery *recovery.Manager
	cfg      Config
	now      func() time.Time

	seq map[string]int // next child index per parent task id
}

// New constructs a Processor. cfg's zero values are replaced with defaults.
func New(g *graph.Graph, t *transition.Manager, reg *registry.Registry, cb *contextbuilder.Builder, hitlSvc *hitl.Service, rec *recovery.Manager, cfg Config) *Processor {
	if cfg.MaxPlanningLayer <= 0 {
		cfg.MaxPlanningLayer = DefaultMaxPlanningLayer
	}
	if cfg.AggregationDoneThreshold <= 0 {
		cfg.AggregationDoneThreshold = DefaultAggregationDoneThreshold
	}
	if cfg.NodeExecutionTimeout <= 0 {
		cfg.NodeExecutionTimeout = DefaultNodeExecutionTimeout
	}
	if cfg.MaxReplanAttempts <= 0 {
		cfg.MaxReplanAttempts = DefaultMaxReplanAttempts
	}
	return &Processor{
		g: g, t: t, reg: reg, ctx: cb, hitlSvc: hitlSvc, recovery: rec, cfg: cfg,
		now: time.Now,
		seq: make(map[string]int),
	}
}

// Process dispatches n to the handler matching its current status: READY
// -> ReadyHandler, AGGREGATING -> AggregateHandler, NEEDS_REPLAN ->
// ReplanHandler; PLAN_DONE has no handler of its own, it is advanced by
// the orchestrator's promotion pass.
func (p *Processor) Process(ctx context.Context, n *node.TaskNode) error {
	n.Lock()
	status := n.Status
	n.Unlock()

	switch status {
	case node.StatusReady:
		return p.handleReady(ctx, n)
	case node.StatusAggregating:
		return p.handleAggregating(ctx, n)
	case node.StatusNeedsReplan:
		return p.handleReplan(ctx, n)
	default:
		return fmt.Errorf("processor: no handler for status %s", status)
	}
}

// withTimeout bounds a single adapter call by NodeExecutionTimeout.
// Callers must call the returned cancel func.
func (p *Processor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.NodeExecutionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.NodeExecutionTimeout)
}

// MaxOutputSummaryLen bounds the short text TaskNode.OutputSummary carries,
// distinct from the full, untruncated Result payload.
const MaxOutputSummaryLen = 280

// summarize derives a short, single-line text summary from an adapter's
// result, for TaskNode.OutputSummary and the ancestor-goal one-liners
// ContextBuilder renders for descendants.
func summarize(result any) string {
	s := fmt.Sprintf("%v", result)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > MaxOutputSummaryLen {
		return s[:MaxOutputSummaryLen] + "..."
	}
	return s
}

func (p *Processor) childID(parentID string) string {
	idx := p.seq[parentID]
	p.seq[parentID] = idx + 1
	return fmt.Sprintf("%s.%d", parentID, idx)
}

// preserveAgentName is the exit hook every handler runs to preserve the
// node's prior agent_name on exit, even when the handler itself didn't
// call an adapter.
func preserveAgentName(n *node.TaskNode, adapterName string) {
	if adapterName != "" {
		n.SetAgentName(adapterName)
	}
}

// handleAgentErr routes an adapter failure through RecoveryManager and
// reports whether the processor should treat this invocation as handled
// (recovered or terminally failed) versus propagate a hard error.
func (p *Processor) handleAgentErr(n *node.TaskNode, err error) error {
	if p.recovery == nil {
		return p.t.Transition(n, node.StatusFailed, err.Error())
	}
	return p.recovery.HandleAgentError(n, err)
}
