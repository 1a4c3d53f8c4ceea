// Package coreerr defines the tagged error values used throughout the core,
// generalizing internal/llm's unified Error interface (HTTP-status-keyed)
// into the orchestrator's own error kinds (§7 of the spec).
package coreerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the disposition table in spec.md §7.
type Kind string

const (
	KindBackendProcess   Kind = "backend_process"
	KindBackendExecution Kind = "backend_execution"
	KindBackendTimeout   Kind = "backend_timeout"
	KindStateConcurrency Kind = "state_concurrency"
	KindGuardrail        Kind = "guardrail"
	KindGateFailure      Kind = "gate_failure"
	KindLeaseConflict    Kind = "lease_conflict"
	KindToolPolicy       Kind = "tool_policy"
	KindVCSUnavailable   Kind = "vcs_unavailable"
)

// Error is the common interface satisfied by every core error value.
type Error interface {
	error
	Kind() Kind
	Retryable() bool
}

type base struct {
	kind      Kind
	message   string
	retryable bool
	wrapped   error
}

func (e *base) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *base) Kind() Kind      { return e.kind }
func (e *base) Retryable() bool { return e.retryable }
func (e *base) Unwrap() error   { return e.wrapped }

func newErr(kind Kind, retryable bool, msg string, wrapped error) Error {
	return &base{kind: kind, message: msg, retryable: retryable, wrapped: wrapped}
}

// BackendProcess: subprocess could not launch or its stdout pipe was unavailable.
// Non-retriable at the dispatcher; triggers immediate failover.
func BackendProcess(msg string, err error) Error {
	return newErr(KindBackendProcess, false, msg, err)
}

// BackendExecution: non-zero exit, or a parse failure at the transport layer.
// Retriable, consuming the attempt's retry budget.
func BackendExecution(msg string, err error) Error {
	return newErr(KindBackendExecution, true, msg, err)
}

// BackendTimeout: the per-call wall clock was exceeded. Retriable.
func BackendTimeout(msg string) Error {
	return newErr(KindBackendTimeout, true, msg, nil)
}

// StateConcurrency: optimistic-CAS mismatch during State.Update. Retried
// transparently up to the configured cap; surfaced once exhausted.
func StateConcurrency(msg string) Error {
	return newErr(KindStateConcurrency, true, msg, nil)
}

// Guardrail: a forbidden path or file-count ceiling was tripped pre-commit.
// Not retriable; the caller must restore the prior worktree state.
func Guardrail(msg string) Error {
	return newErr(KindGuardrail, false, msg, nil)
}

// GateFailure: a quality gate rejected a task's output.
func GateFailure(msg string) Error {
	return newErr(KindGateFailure, false, msg, nil)
}

// LeaseConflict: another non-expired lease is held by a different run.
func LeaseConflict(msg string) Error {
	return newErr(KindLeaseConflict, false, msg, nil)
}

// ToolPolicy: a specialist was asked to use a tool outside its fixed allow-list.
func ToolPolicy(msg string) Error {
	return newErr(KindToolPolicy, false, msg, nil)
}

// VCSUnavailable: an operation (reject, rollback, notes/branch backing) that
// requires a VCS was invoked without one.
func VCSUnavailable(msg string) Error {
	return newErr(KindVCSUnavailable, false, msg, nil)
}

// IsRetryable reports whether err, if a core Error, is retriable. Non-core
// errors are treated as non-retriable.
func IsRetryable(err error) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) a core Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e Error
	if errors.As(err, &e) {
		return e.Kind(), true
	}
	return "", false
}
