package observe

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// ErrorSink receives failures that must not reach the writer: panicking
// listeners, panicking close handlers and failed adapter side effects.
type ErrorSink func(err error)

// Runtime holds the collaborators shared by every node created against it.
// Nodes keep a single pointer to their runtime; derived nodes inherit the
// runtime of their source.
type Runtime struct {
	logger  *slog.Logger
	sink    ErrorSink
	handles HandleSource
	metrics *Metrics
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

// WithErrorSink sets the sink for listener failures.
// The default sink logs at error level.
func WithErrorSink(sink ErrorSink) RuntimeOption {
	return func(rt *Runtime) {
		rt.sink = sink
	}
}

// WithHandleSource sets the handle generator.
func WithHandleSource(src HandleSource) RuntimeOption {
	return func(rt *Runtime) {
		rt.handles = src
	}
}

// WithMetrics sets the Prometheus collectors. Nil disables metrics.
func WithMetrics(m *Metrics) RuntimeOption {
	return func(rt *Runtime) {
		rt.metrics = m
	}
}

// NewRuntime creates a Runtime. Without options it logs through
// slog.Default, issues crypto-random handles and records no metrics.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	rt.logger = rt.logger.With("component", "observe")
	if rt.handles == nil {
		rt.handles = cryptoHandles{}
	}
	return rt
}

var defaultRuntime = sync.OnceValue(func() *Runtime {
	return NewRuntime()
})

// DefaultRuntime returns the runtime used by nodes created without WithRuntime.
func DefaultRuntime() *Runtime {
	return defaultRuntime()
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// Metrics returns the runtime collectors, possibly nil.
func (rt *Runtime) Metrics() *Metrics {
	return rt.metrics
}

// Report delivers err to the error sink.
func (rt *Runtime) Report(err error) {
	if err == nil {
		return
	}
	if rt.sink != nil {
		rt.sink(err)
		return
	}
	rt.logger.Error("callback failed", "error", err)
}

func (rt *Runtime) newHandle() Handle {
	return rt.handles.NewHandle()
}

func (rt *Runtime) listenerFailed(err *ListenerError) {
	rt.metrics.listenerFailed()
	rt.Report(err)
}

func (rt *Runtime) derivationFailed(err *DerivationError) {
	rt.metrics.derivationFailed()
	rt.logger.Warn("derived value closed", "node", err.Node, "error", err.Err)
}

// doubleClosed logs both close call sites so the second closer can be found.
func (rt *Runtime) doubleClosed(node string, first, second []uintptr, original, ignored CloseReason) {
	rt.metrics.doubleClosed()
	if !rt.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	rt.logger.Debug("close called on closed node",
		"node", node,
		"reason", original.String(),
		"ignored_reason", ignored.String(),
		"first_closer", formatCallers(first),
		"second_closer", formatCallers(second),
	)
}

const maxCallerDepth = 16

// callers records the stack above the function calling it.
func callers() []uintptr {
	pcs := make([]uintptr, maxCallerDepth)
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

func formatCallers(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if b.Len() > 0 {
			b.WriteString(" <- ")
		}
		b.WriteString(frame.Function)
		b.WriteString(" ")
		b.WriteString(frame.File)
		b.WriteString(":")
		b.WriteString(strconv.Itoa(frame.Line))
		if !more {
			break
		}
	}
	return b.String()
}

func writeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
