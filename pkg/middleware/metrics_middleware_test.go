package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func newMetricsRouter(m *Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chi.URLParam(r, "id")))
	})
	r.Get("/fail", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	r.Get("/empty", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func TestMetricsMiddleware_RecordsByRoutePattern(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	r := newMetricsRouter(m)

	for _, path := range []string{"/items/1", "/items/2", "/fail", "/empty", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := metricCounterValue(t, m.requests.WithLabelValues("/items/{id}", "GET", "200")); got != 2 {
		t.Fatalf("requests_total(/items/{id})=%v, want 2", got)
	}
	if got := metricCounterValue(t, m.requests.WithLabelValues("/fail", "GET", "500")); got != 1 {
		t.Fatalf("requests_total(/fail)=%v, want 1", got)
	}
	// Nothing written means an implicit 200.
	if got := metricCounterValue(t, m.requests.WithLabelValues("/empty", "GET", "200")); got != 1 {
		t.Fatalf("requests_total(/empty)=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.requests.WithLabelValues("unmatched", "GET", "404")); got != 1 {
		t.Fatalf("requests_total(unmatched)=%v, want 1", got)
	}
	if got := metricHistogramCount(t, m.duration.WithLabelValues("/items/{id}")); got != 2 {
		t.Fatalf("request_duration_seconds count=%v, want 2", got)
	}
	if got := metricGaugeValue(t, m.inFlight); got != 0 {
		t.Fatalf("requests_in_flight=%v, want 0", got)
	}
}

func TestMetricsMiddleware_InFlightDuringRequest(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	var during float64
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = metricGaugeValue(t, m.inFlight)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if during != 1 {
		t.Fatalf("requests_in_flight during request=%v, want 1", during)
	}
	if got := metricGaugeValue(t, m.inFlight); got != 0 {
		t.Fatalf("requests_in_flight after request=%v, want 0", got)
	}
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	client, server := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestMetricsMiddleware_CountsUpgrades(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("Hijack() error: %v", err)
			return
		}
		_ = conn.Close()
	})

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(rec, req)

	if !rec.hijacked {
		t.Fatal("expected the connection to be hijacked")
	}
	if got := metricCounterValue(t, m.upgrades.WithLabelValues("/ws")); got != 1 {
		t.Fatalf("upgrades_total=%v, want 1", got)
	}
	if got := metricHistogramCount(t, m.duration.WithLabelValues("/ws")); got != 0 {
		t.Fatalf("request_duration_seconds count=%v, want 0 for upgrades", got)
	}
}

func TestNewMetrics_CustomNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(
		WithRegistry(reg),
		WithNamespace("app"),
		WithSubsystem("web"),
		WithConstLabels(prometheus.Labels{"instance": "a"}),
		WithBuckets([]float64{0.1, 1}),
	)
	m.requests.WithLabelValues("/", "GET", "200").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "app_web_requests_total" {
			continue
		}
		found = true
		labels := f.GetMetric()[0].GetLabel()
		var instance string
		for _, l := range labels {
			if l.GetName() == "instance" {
				instance = l.GetValue()
			}
		}
		if instance != "a" {
			t.Fatalf("instance label=%q, want %q", instance, "a")
		}
	}
	if !found {
		t.Fatal("expected app_web_requests_total to be registered")
	}
}
