package observe

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
)

// sinkRecorder collects errors delivered to a runtime's ErrorSink.
type sinkRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *sinkRecorder) sink(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *sinkRecorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newTestRuntime(t *testing.T) (*Runtime, *sinkRecorder) {
	t.Helper()
	rec := &sinkRecorder{}
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRuntime(WithLogger(logger), WithErrorSink(rec.sink)), rec
}

func mustValue[T any](t *testing.T, r Readable[T]) T {
	t.Helper()
	v, err := r.Value()
	if err != nil {
		t.Fatalf("unexpected error reading value: %v", err)
	}
	return v
}

func listenerCount[T any](o *Observable[T]) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners)
}

func closeHandlerCount[T any](o *Observable[T]) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.closers)
}
