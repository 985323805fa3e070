package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by registries, stores and the scheduler. Callers
// should match them with errors.Is.
var (
	// ErrServiceNotFound indicates an unknown MCP service name.
	ErrServiceNotFound = errors.New("service not found")
	// ErrServiceNotConnected indicates a call against a service that is not
	// in the connected state.
	ErrServiceNotConnected = errors.New("service not connected")
	// ErrPeerNotFound indicates an unknown A2A peer name.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrPeerNotConnected indicates a call against a peer that is not in the
	// connected state.
	ErrPeerNotConnected = errors.New("peer not connected")
	// ErrProtocolNotSupported is returned for peer protocols (grpc,
	// message-queue) that are declared but not implemented.
	ErrProtocolNotSupported = errors.New("protocol not supported")
	// ErrToolNotFound indicates the named tool is not exposed by the service.
	ErrToolNotFound = errors.New("tool not found")
	// ErrNoRoute indicates no target, including fallbacks, can satisfy a
	// request.
	ErrNoRoute = errors.New("no route to any target")
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrDuplicateTaskID indicates a submission reusing an id that still has
	// a live record in the queued, running or completed sets.
	ErrDuplicateTaskID = errors.New("duplicate task id")
	// ErrSchedulerStopped indicates a submission after shutdown began.
	ErrSchedulerStopped = errors.New("scheduler stopped")
	// ErrCheckpointNotFound indicates no stored checkpoint for the task.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrRequestTimeout indicates a correlated request expired before its
	// response arrived.
	ErrRequestTimeout = errors.New("request timeout")
)

// TargetError wraps a failure attributable to a specific target, preserving
// the target identity for error-budget accounting at the registries.
type TargetError struct {
	Target string
	Type   TargetType
	Err    error
}

// Error implements the error interface.
func (e *TargetError) Error() string {
	return fmt.Sprintf("%s target %s: %v", e.Type, e.Target, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *TargetError) Unwrap() error { return e.Err }

// NewTargetError wraps err with target identity.
func NewTargetError(targetType TargetType, target string, err error) *TargetError {
	return &TargetError{Target: target, Type: targetType, Err: err}
}
