// Package apperrors defines the error taxonomy shared across the
// orchestration core: configuration, agent, task, graph, and HITL errors.
//
// Each class follows a sentinel-kind + wrapping-struct shape so callers
// can branch with errors.Is/As instead of string matching.
package apperrors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinels for errors.Is matching.
var (
	ErrTimeout       = errors.New("agent timeout")
	ErrRateLimit     = errors.New("agent rate limited")
	ErrExecution     = errors.New("agent execution error")
	ErrNotFound      = errors.New("agent adapter not found")
	ErrInvalidState  = errors.New("invalid state transition")
	ErrDependency    = errors.New("dependency violation")
	ErrTaskTimeout   = errors.New("task execution timeout")
	ErrGraphCycle    = errors.New("cycle detected")
	ErrMissingNode   = errors.New("missing node")
	ErrCorruptGraph  = errors.New("corrupted sub-graph reference")
	ErrHITLTimeout   = errors.New("hitl review timeout")
	ErrHITLAbort     = errors.New("hitl review aborted")
	ErrConfiguration = errors.New("configuration error")
)

// AgentError wraps the four agent-adapter error kinds.
//
// TimeoutError, RateLimitError, and ExecutionError are retryable;
// ExecutionError is additionally replan-eligible. NotFoundError is fatal
// for the node.
type AgentError struct {
	Kind    error
	AdapterName string
	Msg     string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.AdapterName != "" {
		return fmt.Sprintf("%s (adapter=%s): %s", e.Kind, e.AdapterName, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *AgentError) Unwrap() error { return e.Kind }

func NewTimeoutError(adapter, msg string) *AgentError {
	return &AgentError{Kind: ErrTimeout, AdapterName: adapter, Msg: msg}
}

func NewRateLimitError(adapter, msg string) *AgentError {
	return &AgentError{Kind: ErrRateLimit, AdapterName: adapter, Msg: msg}
}

func NewExecutionError(adapter, msg string) *AgentError {
	return &AgentError{Kind: ErrExecution, AdapterName: adapter, Msg: msg}
}

func NewNotFoundError(adapter, msg string) *AgentError {
	return &AgentError{Kind: ErrNotFound, AdapterName: adapter, Msg: msg}
}

// IsRetryable reports whether the agent error class is retryable
// (timeout, rate limit, or execution error).
func IsRetryable(err error) bool {
	var ae *AgentError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == ErrTimeout || ae.Kind == ErrRateLimit || ae.Kind == ErrExecution
}

// IsReplanEligible reports whether the agent error indicates a planning
// deficiency rather than a transient fault.
func IsReplanEligible(err error) bool {
	var ae *AgentError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == ErrExecution
}

// TaskError covers invalid-state-transition, dependency-violation, and
// node-level timeout failures.
type TaskError struct {
	Kind   error
	TaskID string
	Msg    string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %s: %s", e.TaskID, e.Kind, e.Msg)
}

func (e *TaskError) Unwrap() error { return e.Kind }

func NewInvalidStateError(taskID, msg string) *TaskError {
	return &TaskError{Kind: ErrInvalidState, TaskID: taskID, Msg: msg}
}

func NewDependencyError(taskID, msg string) *TaskError {
	return &TaskError{Kind: ErrDependency, TaskID: taskID, Msg: msg}
}

func NewTaskTimeoutError(taskID, msg string) *TaskError {
	return &TaskError{Kind: ErrTaskTimeout, TaskID: taskID, Msg: msg}
}

// GraphError covers cycle, missing-node, and corrupted-sub-graph-reference
// failures. These escalate to the DeadlockDetector.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func NewCycleError(msg string) *GraphError     { return &GraphError{Kind: ErrGraphCycle, Msg: msg} }
func NewMissingNodeError(msg string) *GraphError { return &GraphError{Kind: ErrMissingNode, Msg: msg} }
func NewCorruptGraphError(msg string) *GraphError {
	return &GraphError{Kind: ErrCorruptGraph, Msg: msg}
}

// HITLError covers review timeout (configurable auto-approve) and abort
// (node transitions to CANCELLED).
type HITLError struct {
	Kind        error
	Checkpoint  string
	Msg         string
}

func (e *HITLError) Error() string {
	return fmt.Sprintf("hitl %s (%s): %s", e.Kind, e.Checkpoint, e.Msg)
}

func (e *HITLError) Unwrap() error { return e.Kind }

func NewHITLTimeoutError(checkpoint, msg string) *HITLError {
	return &HITLError{Kind: ErrHITLTimeout, Checkpoint: checkpoint, Msg: msg}
}

func NewHITLAbortError(checkpoint, msg string) *HITLError {
	return &HITLError{Kind: ErrHITLAbort, Checkpoint: checkpoint, Msg: msg}
}

// ConfigurationError is fatal at startup. It captures a stack via
// github.com/pkg/errors so operators get a trace pointing at the
// misconfiguration site, matching how divinesense and opentofu wrap their
// own fatal startup paths.
type ConfigurationError struct {
	Msg   string
	Cause error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError wraps cause with a stack trace via pkg/errors.
func NewConfigurationError(msg string, cause error) error {
	return pkgerrors.WithStack(&ConfigurationError{Msg: msg, Cause: cause})
}
