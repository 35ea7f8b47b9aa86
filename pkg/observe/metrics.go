package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors of a Runtime.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "observe").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// FanoutBuckets are the histogram buckets for listeners per notification pass.
	FanoutBuckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures Metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithFanoutBuckets sets the fan-out histogram buckets.
func WithFanoutBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.FanoutBuckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:     "observe",
		FanoutBuckets: []float64{0, 1, 2, 4, 8, 16, 64, 256},
		Registry:      prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for nodes and sessions.
// A nil *Metrics records nothing.
type Metrics struct {
	nodesCreated       *prometheus.CounterVec
	nodesClosed        prometheus.Counter
	openNodes          prometheus.Gauge
	notifications      prometheus.Counter
	fanout             prometheus.Histogram
	listenerFailures   prometheus.Counter
	derivationFailures prometheus.Counter
	doubleCloses       prometheus.Counter
	activeSessions     prometheus.Gauge
	sessionWrites      *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
//
// Metrics collected:
//   - observe_nodes_created_total: nodes created by kind (mutable, map, property, combine)
//   - observe_nodes_closed_total: nodes closed
//   - observe_open_nodes: nodes currently open
//   - observe_notifications_total: listener invocations
//   - observe_notification_fanout: listeners per notification pass
//   - observe_listener_failures_total: listeners or close handlers that panicked
//   - observe_derivation_failures_total: mappers that failed and closed their node
//   - observe_double_closes_total: Close calls on already closed nodes
//   - observe_active_sessions: sessions currently bound
//   - observe_session_writes_total: remote writes by status
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		nodesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "nodes_created_total",
			Help:        "Total number of observable nodes created",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		nodesClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "nodes_closed_total",
			Help:        "Total number of observable nodes closed",
			ConstLabels: config.ConstLabels,
		}),

		openNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "open_nodes",
			Help:        "Number of observable nodes currently open",
			ConstLabels: config.ConstLabels,
		}),

		notifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notifications_total",
			Help:        "Total number of listener invocations",
			ConstLabels: config.ConstLabels,
		}),

		fanout: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notification_fanout",
			Help:        "Listeners invoked per notification pass",
			ConstLabels: config.ConstLabels,
			Buckets:     config.FanoutBuckets,
		}),

		listenerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "listener_failures_total",
			Help:        "Total number of listeners or close handlers that panicked",
			ConstLabels: config.ConstLabels,
		}),

		derivationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "derivation_failures_total",
			Help:        "Total number of derived nodes closed by a failing mapper",
			ConstLabels: config.ConstLabels,
		}),

		doubleCloses: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "double_closes_total",
			Help:        "Total number of Close calls on already closed nodes",
			ConstLabels: config.ConstLabels,
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of sessions with bound observables",
			ConstLabels: config.ConstLabels,
		}),

		sessionWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_writes_total",
			Help:        "Total number of remote writes by status",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),
	}
}

func (m *Metrics) nodeCreated(kind string) {
	if m == nil {
		return
	}
	m.nodesCreated.WithLabelValues(kind).Inc()
	m.openNodes.Inc()
}

func (m *Metrics) nodeClosed() {
	if m == nil {
		return
	}
	m.nodesClosed.Inc()
	m.openNodes.Dec()
}

func (m *Metrics) notified(listeners int) {
	if m == nil {
		return
	}
	m.notifications.Add(float64(listeners))
	m.fanout.Observe(float64(listeners))
}

func (m *Metrics) listenerFailed() {
	if m == nil {
		return
	}
	m.listenerFailures.Inc()
}

func (m *Metrics) derivationFailed() {
	if m == nil {
		return
	}
	m.derivationFailures.Inc()
}

func (m *Metrics) doubleClosed() {
	if m == nil {
		return
	}
	m.doubleCloses.Inc()
}

// SessionOpened records a session becoming active.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed records a session being torn down.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// SessionWrite records a remote write. Status is "ok" when err is nil,
// "closed" when err matches ErrClosed and "error" otherwise.
func (m *Metrics) SessionWrite(err error) {
	if m == nil {
		return
	}
	m.sessionWrites.WithLabelValues(writeStatus(err)).Inc()
}
