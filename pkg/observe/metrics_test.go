package observe

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newMetricsRuntime(t *testing.T) (*Runtime, *Metrics) {
	t.Helper()
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	rt := NewRuntime(WithMetrics(m), WithErrorSink(func(error) {}))
	return rt, m
}

func TestMetricsNodeLifecycle(t *testing.T) {
	rt, m := newMetricsRuntime(t)

	src := NewMutable(1, WithRuntime(rt))
	d, _ := Map(src, func(n int) int { return n + 1 })

	if got := testutil.ToFloat64(m.nodesCreated.WithLabelValues("mutable")); got != 1 {
		t.Errorf("expected 1 mutable created, got %v", got)
	}
	if got := testutil.ToFloat64(m.nodesCreated.WithLabelValues("map")); got != 1 {
		t.Errorf("expected 1 map created, got %v", got)
	}
	if got := testutil.ToFloat64(m.openNodes); got != 2 {
		t.Errorf("expected 2 open nodes, got %v", got)
	}

	src.Close(Reason("done"))
	if !d.Closed() {
		t.Fatal("derived node should close")
	}
	if got := testutil.ToFloat64(m.openNodes); got != 0 {
		t.Errorf("expected 0 open nodes, got %v", got)
	}
	if got := testutil.ToFloat64(m.nodesClosed); got != 2 {
		t.Errorf("expected 2 closed, got %v", got)
	}
}

func TestMetricsNotificationsAndFailures(t *testing.T) {
	rt, m := newMetricsRuntime(t)

	src := NewMutable(1, WithRuntime(rt))
	_, _ = src.AddListener(func(_, _ int) {})
	_, _ = src.AddListener(func(_, _ int) { panic("bad listener") })
	_, _ = Map(src, func(n int) int { return 10 / (n - 2) })

	_ = src.Set(2)

	if got := testutil.ToFloat64(m.notifications); got != 3 {
		t.Errorf("expected 3 listener invocations, got %v", got)
	}
	if got := testutil.ToFloat64(m.listenerFailures); got != 1 {
		t.Errorf("expected 1 listener failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.derivationFailures); got != 1 {
		t.Errorf("expected 1 derivation failure, got %v", got)
	}
}

func TestMetricsSessionWrites(t *testing.T) {
	_, m := newMetricsRuntime(t)
	m.SessionOpened()
	m.SessionWrite(nil)
	m.SessionWrite(&UsedAfterCloseError{Node: "x"})
	m.SessionWrite(errors.New("decode"))
	m.SessionClosed()

	for status, want := range map[string]float64{"ok": 1, "closed": 1, "error": 1} {
		if got := testutil.ToFloat64(m.sessionWrites.WithLabelValues(status)); got != want {
			t.Errorf("%s: expected %v, got %v", status, want, got)
		}
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 0 {
		t.Errorf("expected no active sessions, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.nodeCreated("mutable")
	m.notified(3)
	m.SessionWrite(nil)
	m.SessionOpened()
}

func TestDoubleCloseLogsBothCallers(t *testing.T) {
	var logs bytes.Buffer
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	rt := NewRuntime(
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMetrics(m),
	)
	node := NewMutable(0, WithRuntime(rt), WithName("twice"))

	closeFirst(node)
	closeSecond(node)

	out := logs.String()
	for _, want := range []string{"close called on closed node", "node=twice", "closeFirst", "closeSecond", "ignored_reason=second"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if got := testutil.ToFloat64(m.doubleCloses); got != 1 {
		t.Errorf("expected 1 double close, got %v", got)
	}
}

//go:noinline
func closeFirst(n *Mutable[int]) { n.Close(Reason("first")) }

//go:noinline
func closeSecond(n *Mutable[int]) { n.Close(Reason("second")) }
