// Package orchestrator implements ExecutionOrchestrator: the top-level
// loop that owns the concurrency budget and drives a graph from a single
// root goal to completion.
//
// A continuously-ticking driver loop (initialize graph, scheduler tick,
// dispatch, drain) that also runs the deadlock detector and recovery
// manager on a cadence, dispatching concurrently through a bounded worker
// pool via golang.org/x/sync/errgroup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"taskweaver/internal/apperrors"
	"taskweaver/internal/batch"
	"taskweaver/internal/checkpoint"
	"taskweaver/internal/contextbuilder"
	"taskweaver/internal/deadlock"
	"taskweaver/internal/graph"
	"taskweaver/internal/hitl"
	"taskweaver/internal/knowledge"
	"taskweaver/internal/node"
	"taskweaver/internal/processor"
	"taskweaver/internal/recovery"
	"taskweaver/internal/registry"
	"taskweaver/internal/scheduler"
	"taskweaver/internal/transition"
)

// Status is the top-level outcome reported in the persisted result
// envelope.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Stats are the execution envelope's counters.
type Stats struct {
	StepsExecuted   int `json:"steps_executed"`
	NodesProcessed  int `json:"nodes_processed"`
	ErrorsRecovered int `json:"errors_recovered"`
	CheckpointsCreated int `json:"checkpoints_created"`
}

// Result is the persisted result envelope returned by Execute.
type Result struct {
	ExecutionID string `json:"execution_id"`
	Status      Status `json:"status"`
	Stats       Stats  `json:"stats"`
	Result      any    `json:"result,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Config tunes the orchestrator loop. Zero values are replaced with
// defaults by New.
type Config struct {
	MaxConcurrentNodes int
	// DeadlockCheckEveryNIterations is the cadence at which DeadlockDetector
	// runs.
	DeadlockCheckEveryNIterations int
	// IdleSleep is how long the loop sleeps after a tick that produced no
	// work.
	IdleSleep time.Duration
	// InactivityTimeout terminates the loop once no activity (no
	// transitions, no dispatches) has occurred for this long and no node is
	// RUNNING.
	InactivityTimeout time.Duration
	// MaxPlanDoneRetries bounds the PLAN_DONE -> AGGREGATING promotion
	// pass within a single tick.
	MaxPlanDoneRetries int
	// NodeExecutionTimeout bounds each adapter call; it is forwarded to
	// processor.Config. The deadlock detector keeps its own single-node-hang
	// threshold (deadlock.DefaultSingleNodeHangThreshold).
	NodeExecutionTimeout time.Duration
	// BatchSize/BatchTimeout tune the internal BatchedStateManager.
	BatchSize    int
	BatchTimeout time.Duration
	// MaxPlanningLayer, AggregationDoneThreshold, ForceRootNodePlanning, and
	// MaxReplanAttempts are forwarded to the NodeProcessor; StuckAggregationThreshold
	// is forwarded to the DeadlockDetector.
	MaxPlanningLayer           int
	AggregationDoneThreshold   float64
	ForceRootNodePlanning      bool
	MaxReplanAttempts          int
	MaxRetryAttempts           int
	StuckAggregationThreshold  float64
}

const (
	DefaultMaxConcurrentNodes            = 8
	DefaultDeadlockCheckEveryNIterations = 50
	DefaultIdleSleep                     = 150 * time.Millisecond
	DefaultInactivityTimeout             = 60 * time.Second
	DefaultMaxPlanDoneRetries            = 5
	DefaultNodeExecutionTimeout          = 2400 * time.Second
)

func (c *Config) setDefaults() {
	if c.MaxConcurrentNodes <= 0 {
		c.MaxConcurrentNodes = DefaultMaxConcurrentNodes
	}
	if c.DeadlockCheckEveryNIterations <= 0 {
		c.DeadlockCheckEveryNIterations = DefaultDeadlockCheckEveryNIterations
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = DefaultIdleSleep
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.MaxPlanDoneRetries <= 0 {
		c.MaxPlanDoneRetries = DefaultMaxPlanDoneRetries
	}
	if c.NodeExecutionTimeout <= 0 {
		c.NodeExecutionTimeout = DefaultNodeExecutionTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = batch.DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = batch.DefaultBatchTimeout
	}
}

var (
	nodesProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskweaver_orchestrator_nodes_processed_total",
		Help: "Nodes dispatched to a handler across all executions.",
	})
	recoveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskweaver_orchestrator_recoveries_total",
		Help: "RecoveryManager invocations triggered by a positive deadlock detection.",
	})
	currentConcurrencyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskweaver_orchestrator_current_concurrency",
		Help: "Current dynamic dispatch concurrency ceiling.",
	})
)

func init() {
	// No /metrics endpoint is owned here; these counters are exposed
	// against the default registry for whatever HTTP surface the binary
	// embedding this package chooses to expose.
	prometheus.MustRegister(nodesProcessedTotal, recoveriesTotal, currentConcurrencyGauge)
}

// Orchestrator wires every collaborator needed to drive a graph to
// completion into one executable loop.
type Orchestrator struct {
	g    *graph.Graph
	t    *transition.Manager
	sched *scheduler.Scheduler
	proc *processor.Processor
	det  *deadlock.Detector
	rec  *recovery.Manager
	reg  *registry.Registry
	k    *knowledge.Store
	bm   *batch.Manager
	cp   *checkpoint.Store

	cfg    Config
	logger *slog.Logger

	mu                sync.Mutex
	currentConcurrency int
	floorConcurrency   int
	ceilingConcurrency  int
	lastRateLimitAt     time.Time
	lastAdjustAt        time.Time
	recentNodeDurations []time.Duration

	stats Stats
}

// New constructs an Orchestrator. reg must already be populated with every
// adapter its blueprint can resolve to. cp may be nil to disable
// checkpointing; hitlSvc may be nil to auto-approve every checkpoint.
func New(reg *registry.Registry, hitlSvc *hitl.Service, cp *checkpoint.Store, objective string, summarizer contextbuilder.Summarizer, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	g := graph.New()
	k := knowledge.New()
	bm := batch.New(k, cfg.BatchSize, cfg.BatchTimeout)
	tm := transition.New(bm, nil)
	sched := scheduler.New(g, tm)
	rec := recovery.New(g, tm)
	if cfg.MaxReplanAttempts > 0 {
		rec.SetMaxReplanAttempts(cfg.MaxReplanAttempts)
	}
	if cfg.MaxRetryAttempts > 0 {
		rec.SetMaxRetryAttempts(cfg.MaxRetryAttempts)
	}
	cb := contextbuilder.New(g, k, objective, summarizer)
	proc := processor.New(g, tm, reg, cb, hitlSvc, rec, processor.Config{
		NodeExecutionTimeout:     cfg.NodeExecutionTimeout,
		MaxPlanningLayer:         cfg.MaxPlanningLayer,
		AggregationDoneThreshold: cfg.AggregationDoneThreshold,
		ForceRootNodePlanning:    cfg.ForceRootNodePlanning,
		MaxReplanAttempts:        cfg.MaxReplanAttempts,
	})
	det := deadlock.New(g)
	if cfg.StuckAggregationThreshold > 0 {
		det.SetStuckAggregationThreshold(cfg.StuckAggregationThreshold)
	}

	o := &Orchestrator{
		g: g, t: tm, sched: sched, proc: proc, det: det, rec: rec, reg: reg, k: k, bm: bm, cp: cp,
		cfg: cfg, logger: logger,
		currentConcurrency: cfg.MaxConcurrentNodes,
		floorConcurrency:   maxInt(1, cfg.MaxConcurrentNodes/4),
		ceilingConcurrency:  cfg.MaxConcurrentNodes,
	}
	rec.OnRateLimit(o.onRateLimit)
	return o
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (o *Orchestrator) onRateLimit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastRateLimitAt = time.Now()
	o.currentConcurrency = maxInt(o.floorConcurrency, o.currentConcurrency/2)
	currentConcurrencyGauge.Set(float64(o.currentConcurrency))
}

// maybeIncreaseConcurrency implements the other half of the
// dynamic-concurrency rule: +1 once no rate-limit has occurred in the last
// 60s (or ever). The sub-second average-node-time check also requires that
// quiet period, so it never raises concurrency on its own.
func (o *Orchestrator) maybeIncreaseConcurrency(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.currentConcurrency >= o.ceilingConcurrency {
		return
	}
	quiet := o.lastRateLimitAt.IsZero() || now.Sub(o.lastRateLimitAt) >= 60*time.Second
	fastEnough := o.averageNodeDuration() < time.Second && quiet
	if !quiet && !fastEnough {
		return
	}
	if now.Sub(o.lastAdjustAt) < time.Second {
		return
	}
	o.currentConcurrency++
	o.lastAdjustAt = now
	currentConcurrencyGauge.Set(float64(o.currentConcurrency))
}

func (o *Orchestrator) averageNodeDuration() time.Duration {
	if len(o.recentNodeDurations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range o.recentNodeDurations {
		sum += d
	}
	return sum / time.Duration(len(o.recentNodeDurations))
}

func (o *Orchestrator) recordNodeDuration(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recentNodeDurations = append(o.recentNodeDurations, d)
	if len(o.recentNodeDurations) > 32 {
		o.recentNodeDurations = o.recentNodeDurations[len(o.recentNodeDurations)-32:]
	}
}

func (o *Orchestrator) concurrency() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentConcurrency
}

// Execute runs the orchestration loop to completion (root node terminal),
// max_steps exhaustion, or a fatal abort, and returns the persisted result
// envelope.
func (o *Orchestrator) Execute(ctx context.Context, rootGoal string, maxSteps int) (Result, error) {
	executionID := uuid.NewString()

	root := node.New("root", rootGoal, node.TaskThink, node.NodePlan, 0, "", time.Now())
	if err := o.g.AddGraph("root", true); err != nil {
		return o.fail(executionID, err)
	}
	if err := o.g.AddNode("root", root); err != nil {
		return o.fail(executionID, err)
	}
	if err := o.t.Transition(root, node.StatusReady, "root goal initialized"); err != nil {
		return o.fail(executionID, err)
	}

	lastActivity := time.Now()

	for step := 0; step < maxSteps; step++ {
		o.stats.StepsExecuted++

		activity := false

		if o.sched.UpdateNodeReadiness() > 0 {
			activity = true
		}

		for i := 0; i < o.cfg.MaxPlanDoneRetries; i++ {
			promoted := o.promotePlanDone()
			if promoted == 0 {
				break
			}
			activity = true
		}
		o.sched.Invalidate()

		ready := o.sched.GetReadyNodes(o.concurrency())
		if len(ready) > 0 {
			activity = true
			if err := o.dispatch(ctx, ready); err != nil {
				return o.fail(executionID, err)
			}
			o.sched.Invalidate()
		}

		if step > 0 && step%o.cfg.DeadlockCheckEveryNIterations == 0 {
			if err := o.runDeadlockPass(); err != nil {
				return o.fail(executionID, err)
			}
		}

		o.maybeIncreaseConcurrency(time.Now())

		rootStatus := o.rootStatus(root)
		if node.IsTerminal(rootStatus) {
			return o.finish(executionID, root)
		}

		if activity {
			lastActivity = time.Now()
		} else {
			if time.Since(lastActivity) >= o.cfg.InactivityTimeout && !o.anyRunning() {
				o.logger.Warn("orchestrator idle timeout, no running nodes", "execution_id", executionID)
				return o.finish(executionID, root)
			}
			select {
			case <-ctx.Done():
				return o.fail(executionID, ctx.Err())
			case <-time.After(o.cfg.IdleSleep):
			}
		}
	}

	return o.finish(executionID, root)
}

func (o *Orchestrator) rootStatus(root *node.TaskNode) node.Status {
	root.Lock()
	defer root.Unlock()
	return root.Status
}

func (o *Orchestrator) anyRunning() bool {
	for _, n := range o.g.AllNodes() {
		n.Lock()
		s := n.Status
		n.Unlock()
		if s == node.StatusRunning {
			return true
		}
	}
	return false
}

// promotePlanDone promotes qualifying PLAN_DONE nodes to AGGREGATING.
// Returns the count promoted this pass.
func (o *Orchestrator) promotePlanDone() int {
	count := 0
	for _, n := range o.g.AllNodes() {
		n.Lock()
		status := n.Status
		n.Unlock()
		if status != node.StatusPlanDone {
			continue
		}
		if !o.proc.CanPromoteToAggregating(n) {
			continue
		}
		if err := o.t.Transition(n, node.StatusAggregating, "all children terminal, threshold met"); err != nil {
			continue
		}
		count++
	}
	return count
}

// dispatch runs nodes' Process concurrently, bounded by current
// concurrency, via an errgroup.
func (o *Orchestrator) dispatch(ctx context.Context, ready []*node.TaskNode) error {
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(maxInt(1, o.concurrency()))

	for _, n := range ready {
		n := n
		grp.Go(func() error {
			start := time.Now()
			err := o.proc.Process(gctx, n)
			o.recordNodeDuration(time.Since(start))

			o.mu.Lock()
			o.stats.NodesProcessed++
			o.mu.Unlock()
			nodesProcessedTotal.Inc()

			if err != nil {
				var ge *apperrors.GraphError
				if errors.As(err, &ge) {
					return err
				}
				o.logger.Warn("processor error handled at node level", "task_id", n.TaskID, "error", err)
			}
			return nil
		})
	}
	return grp.Wait()
}

// runDeadlockPass runs the detector and, on any finding, invokes the
// recovery manager; a recovery failure aborts the loop.
func (o *Orchestrator) runDeadlockPass() error {
	findings := o.det.Run()
	for _, f := range findings {
		o.logger.Warn("deadlock detected", "pattern", f.Pattern, "nodes", f.AffectedNodes, "reason", f.Reason)
		if err := o.rec.HandleDeadlock(f); err != nil {
			return fmt.Errorf("recovery failed for %s: %w", f.Pattern, err)
		}
		o.mu.Lock()
		o.stats.ErrorsRecovered++
		o.mu.Unlock()
		recoveriesTotal.Inc()
	}
	return nil
}

func (o *Orchestrator) finish(executionID string, root *node.TaskNode) (Result, error) {
	o.bm.Flush()

	root.Lock()
	status := root.Status
	result := root.Result
	summary := root.OutputSummary
	errMsg := root.Err
	root.Unlock()

	res := Result{
		ExecutionID: executionID,
		Stats:       o.stats,
		Result:      result,
		Summary:     summary,
	}
	if status == node.StatusDone {
		res.Status = StatusSuccess
	} else {
		res.Status = StatusFailed
		if errMsg == "" {
			errMsg = fmt.Sprintf("root ended in status %s", status)
		}
		res.Error = errMsg
	}

	if o.cp != nil {
		if _, err := o.cp.Create(executionID, o.g, o.k, map[string]any{"status": string(res.Status)}); err == nil {
			o.stats.CheckpointsCreated++
			res.Stats.CheckpointsCreated = o.stats.CheckpointsCreated
		}
	}

	return res, nil
}

func (o *Orchestrator) fail(executionID string, err error) (Result, error) {
	o.bm.Flush()
	return Result{
		ExecutionID: executionID,
		Status:      StatusFailed,
		Stats:       o.stats,
		Error:       err.Error(),
	}, err
}

// Close releases the orchestrator's batched-write goroutine.
func (o *Orchestrator) Close() { o.bm.Close() }
