package coroloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrCycle is injected into the root coroutine when the wait graph
	// contains a dependency cycle and nothing else can make progress.
	ErrCycle = errors.New("coroloop: cycle detected in coroutine wait graph")

	// ErrWaitReused is raised when a wait handle from Event.Wait or
	// Event.WaitTimeout is awaited more than once.
	ErrWaitReused = errors.New("coroloop: wait handle awaited more than once; make a new Wait call instead")

	// ErrNotInCoroutine is returned by Yielder methods invoked outside the
	// coroutine body they were created for.
	ErrNotInCoroutine = errors.New("coroloop: yielder used outside its coroutine body")
)

// CancelledError is injected into a coroutine (or recorded as a thread task's
// result) when it is cancelled due to a failure elsewhere in the loop.
//
// Cause is the upstream error. Every cancellation injected by the loop
// carries the origin failure directly as its Cause; it is not chained through
// the CancelledErrors of the units the failure propagated through. Matching
// the origin through the chain works with [errors.Is] and [errors.As].
type CancelledError struct {
	Cause error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return "coroutine cancelled"
	}
	return fmt.Sprintf("coroutine cancelled due to: %v", e.Cause)
}

// Unwrap returns the upstream cause for use with [errors.Is] and [errors.As].
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Is implements matching so that any two CancelledError values compare equal
// under [errors.Is], regardless of cause.
func (e *CancelledError) Is(target error) bool {
	var c *CancelledError
	return errors.As(target, &c)
}

// BadYieldError is raised when a coroutine awaits an object that is not a
// recognized classification: nil, *Coro, []*Coro, []any of awaitables, a
// *WaitHandle, or a *ThreadTask.
type BadYieldError struct {
	Value any
}

// Error implements the error interface.
func (e *BadYieldError) Error() string {
	return fmt.Sprintf("coroloop: invalid await of %T (%v); must be nil, a *Coro, a list of awaitables, a *WaitHandle, or a *ThreadTask", e.Value, e.Value)
}

// PanicError wraps a panic recovered from a coroutine body or a function
// dispatched via RunInThread.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("coroloop: goroutine panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// If the panic value is not an error (e.g. a string), returns nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError carries the origin error plus every sibling error observed
// while unwinding the loop. It is returned by [Loop.Run] under
// [DeliverGroup], and under the default [DeliverSingle] when cleanup itself
// produced additional distinct errors.
type AggregateError struct {
	Message string
	// Errors contains all observed errors. The first entry is always the
	// origin; later entries are errors that occurred whilst cancelling the
	// other units.
	Errors []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("coroloop: %d errors occurred running the loop", len(e.Errors))
}

// Origin returns the first error, which is the original failure.
// Returns nil if Errors is empty.
func (e *AggregateError) Origin() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Unwrap returns the errors slice for multi-error unwrapping (Go 1.20+).
// This enables [errors.Is] and [errors.As] to check against all contained
// errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}
