package observe

import (
	"errors"
	"fmt"
)

// ErrClosed matches every error returned because a node was used after close.
//
//	if _, err := obs.Value(); errors.Is(err, observe.ErrClosed) { ... }
var ErrClosed = errors.New("observe: used after close")

// CloseReason explains why a node was closed.
type CloseReason struct {
	// Explanation is a short human readable description.
	Explanation string

	// Cause is the error that triggered the close, if any.
	Cause error
}

// Reason is shorthand for a CloseReason without a cause.
func Reason(explanation string) CloseReason {
	return CloseReason{Explanation: explanation}
}

// String returns the explanation followed by the cause, if present.
func (r CloseReason) String() string {
	if r.Cause != nil {
		return r.Explanation + ": " + r.Cause.Error()
	}
	return r.Explanation
}

// UsedAfterCloseError is returned by any read, write or subscription on a
// closed node. It carries the reason recorded by the first Close.
type UsedAfterCloseError struct {
	Node   string
	Reason CloseReason
}

// Error implements the error interface.
func (e *UsedAfterCloseError) Error() string {
	return fmt.Sprintf("observe: %s used after close (%s)", e.Node, e.Reason)
}

// Is reports whether target is ErrClosed.
func (e *UsedAfterCloseError) Is(target error) bool {
	return target == ErrClosed
}

// Unwrap returns the cause of the original close.
func (e *UsedAfterCloseError) Unwrap() error {
	return e.Reason.Cause
}

// DerivationError reports a mapper, getter or setter that failed while
// computing a derived value. The affected node is closed with it as cause.
type DerivationError struct {
	Node string
	Err  error
}

// Error implements the error interface.
func (e *DerivationError) Error() string {
	return fmt.Sprintf("observe: derivation of %s failed: %v", e.Node, e.Err)
}

// Unwrap returns the underlying failure.
func (e *DerivationError) Unwrap() error {
	return e.Err
}

// ListenerError reports a listener or close handler that panicked. It is
// delivered to the runtime's ErrorSink and never returned to a writer.
type ListenerError struct {
	Node   string
	Handle Handle
	Err    error
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("observe: listener %s on %s failed: %v", e.Handle, e.Node, e.Err)
}

// Unwrap returns the underlying failure.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a recovered panic value that was not itself an error.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// panicToError converts a recovered value into an error.
func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &PanicError{Value: r}
}
