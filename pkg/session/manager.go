package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/observe/pkg/observe"
)

// Manager tracks the open sessions of a server.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	stopped  bool

	config ManagerConfig
	rt     *observe.Runtime
	tracer trace.Tracer
	logger *slog.Logger

	// newID generates session IDs; overrideable for tests.
	newID func() string
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// MaxSessions is the maximum number of open sessions.
	// Default: 10000. Zero disables the limit.
	MaxSessions int

	// TracerName is the OpenTelemetry tracer used for session spans.
	// Default: "observe".
	TracerName string
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSessions: 10000,
		TracerName:  defaultTracerName,
	}
}

// NewManager creates a session manager. Sessions it creates report to rt.
func NewManager(rt *observe.Runtime, config ManagerConfig, logger *slog.Logger) *Manager {
	if rt == nil {
		rt = observe.DefaultRuntime()
	}
	if logger == nil {
		logger = rt.Logger()
	}
	if config.TracerName == "" {
		config.TracerName = defaultTracerName
	}
	return &Manager{
		sessions: make(map[string]*Session),
		config:   config,
		rt:       rt,
		tracer:   otel.Tracer(config.TracerName),
		logger:   logger.With("component", "session_manager"),
		newID:    uuid.NewString,
	}
}

// Create opens a new session with a random ID.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := m.newID()
	s := New(id, WithRuntime(m.rt), WithTracer(m.tracer), WithLogger(m.logger))
	s.release = func() { m.forget(id) }
	m.sessions[id] = s
	m.rt.Metrics().SessionOpened()

	m.logger.Debug("session created", "session_id", id, "total", len(m.sessions))
	return s, nil
}

// Get returns the open session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close closes the session with the given ID.
func (m *Manager) Close(id string, reason observe.CloseReason) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Close(reason)
	return nil
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every open session and rejects new ones. It returns the
// number of sessions closed.
func (m *Manager) Shutdown(reason observe.CloseReason) int {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0
	}
	m.stopped = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close(reason)
	}
	m.logger.Info("session manager stopped", "sessions_closed", len(open))
	return len(open)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.rt.Metrics().SessionClosed()
	}
}
