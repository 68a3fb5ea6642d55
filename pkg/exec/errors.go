package exec

import (
	"errors"
	"fmt"
)

var (
	// ErrCausalityViolation indicates a past-time request while causality
	// enforcement is enabled.
	ErrCausalityViolation = errors.New("causality violation: requested time is before current virtual time")

	// ErrEventKeyUnknown indicates a rescind referenced a key the
	// executive has never seen. Join does not return it: unknown keys
	// count as already fired.
	ErrEventKeyUnknown = errors.New("event key unknown")

	// ErrDetachableMisuse indicates Detach, Suspend, SuspendFor,
	// SuspendUntil or Join was called outside the running detachable
	// fiber. Resume is called from other events and never returns it.
	ErrDetachableMisuse = errors.New("operation only valid on a detachable fiber")

	// ErrRollbackImpossible indicates a rollback was requested against an
	// executive with no retained past events, or (by the CoExecutor)
	// below the earliest current time across the cohort.
	ErrRollbackImpossible = errors.New("rollback impossible")

	// ErrNotRunning indicates an operation that requires a running
	// executive was invoked in another state.
	ErrNotRunning = errors.New("executive is not running")
)

// HandlerError wraps a panic that escaped a user event handler.
type HandlerError struct {
	Key Key
	Val any
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for event %d failed: %v", e.Key, e.Val)
}
