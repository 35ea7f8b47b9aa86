package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/observe/pkg/middleware"
	"github.com/vango-dev/observe/pkg/observe"
	"github.com/vango-dev/observe/pkg/session"
)

// Binder builds the observables of a new session and binds them by key.
// It runs once per connection before any client frame is read.
type Binder func(sess *session.Session) error

// Server serves sessions over WebSocket.
type Server struct {
	config   *Config
	binder   Binder
	rt       *observe.Runtime
	sessions *session.Manager
	upgrader websocket.Upgrader
	router   chi.Router
	tracer   trace.Tracer
	logger   *slog.Logger

	httpServer *http.Server

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithRuntime sets the runtime every session reports to.
func WithRuntime(rt *observe.Runtime) Option {
	return func(s *Server) {
		s.rt = rt
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server. binder is required.
func New(config *Config, binder Binder, opts ...Option) (*Server, error) {
	if binder == nil {
		return nil, errors.New("server: nil binder")
	}
	config = config.withDefaults()

	s := &Server{
		config: config,
		binder: binder,
		conns:  make(map[*conn]struct{}),
		tracer: otel.Tracer("observe/server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rt == nil {
		s.rt = observe.DefaultRuntime()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "server")

	s.sessions = session.NewManager(s.rt, session.ManagerConfig{MaxSessions: config.MaxSessions}, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     config.CheckOrigin,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.Tracing(middleware.WithFilter(config.TraceFilter)))
	r.Use(middleware.NewMetrics(middleware.WithRegistry(config.Registerer)).Handler)
	r.Get("/ws", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	s.router = r

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the chi router so applications can mount more routes.
func (s *Server) Router() chi.Router {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Config returns the effective configuration.
func (s *Server) Config() *Config {
	return s.config
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

// HandleWebSocket upgrades the request and serves one session until the
// client disconnects. ?session=<id> restores the snapshot of a previous
// session when a Store is configured.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "observe.server.connect")
	resumeID := r.URL.Query().Get("session")
	span.SetAttributes(attribute.Bool("resume", resumeID != ""))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upgrade failed")
		span.End()
		return
	}

	sess, err := s.open(ctx, resumeID)
	if err != nil {
		s.logger.Warn("session setup failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		if data, merr := json.Marshal(errorFrame(nil, errorCode(err), err)); merr == nil {
			_ = ws.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			_ = ws.WriteMessage(websocket.TextMessage, data)
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session unavailable"),
			time.Now().Add(s.config.WriteTimeout))
		_ = ws.Close()
		return
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))
	span.End()

	c := newConn(ws, sess, s.config, s.logger)
	if !s.track(c) {
		c.stop(nil)
		s.sessions.Close(sess.ID, observe.Reason("server stopping"))
		return
	}
	defer s.untrack(c)

	c.enqueue(&ServerFrame{Op: OpHello, Session: sess.ID, Keys: sess.Keys()})

	go c.writeLoop()
	c.readLoop(context.WithoutCancel(ctx))
	c.stop(nil)

	s.saveSnapshot(sess)
	n := sess.Close(observe.Reason("client disconnected"))
	c.logger.Info("client disconnected", "nodes_closed", n)
}

// open creates and binds a session, restoring resumeID's snapshot if any.
func (s *Server) open(ctx context.Context, resumeID string) (*session.Session, error) {
	sess, err := s.sessions.Create()
	if err != nil {
		return nil, err
	}
	if err := s.binder(sess); err != nil {
		sess.Close(observe.CloseReason{Explanation: "bind failed", Cause: err})
		return nil, fmt.Errorf("bind session: %w", err)
	}
	if resumeID != "" && s.config.Store != nil {
		s.restoreSnapshot(ctx, sess, resumeID)
	}
	return sess, nil
}

func (s *Server) restoreSnapshot(ctx context.Context, sess *session.Session, resumeID string) {
	key := s.config.SnapshotPrefix + resumeID
	data, found, err := s.config.Store.Load(ctx, key)
	if err != nil {
		s.logger.Warn("snapshot load failed", "key", key, "error", err)
		return
	}
	if !found {
		s.logger.Debug("no snapshot to resume", "key", key)
		return
	}
	snap, err := session.DecodeSnapshot(data)
	if err != nil {
		s.logger.Warn("snapshot decode failed", "key", key, "error", err)
		return
	}
	if err := sess.Restore(ctx, snap); err != nil {
		s.logger.Warn("snapshot partially restored", "key", key, "error", err)
	}
	if err := s.config.Store.Delete(ctx, key); err != nil {
		s.logger.Debug("snapshot delete failed", "key", key, "error", err)
	}
	s.logger.Info("session resumed", "session_id", sess.ID, "from", resumeID)
}

func (s *Server) saveSnapshot(sess *session.Session) {
	if s.config.Store == nil {
		return
	}
	snap, err := sess.Snapshot()
	if err != nil {
		s.logger.Debug("snapshot skipped", "session_id", sess.ID, "error", err)
		return
	}
	data, err := session.EncodeSnapshot(snap)
	if err != nil {
		s.logger.Error("snapshot encode failed", "session_id", sess.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()
	if err := s.config.Store.Save(ctx, s.config.SnapshotPrefix+sess.ID, data); err != nil {
		s.logger.Error("snapshot save failed", "session_id", sess.ID, "error", err)
	}
}

// track registers c unless the server is shutting down.
func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s,
		ReadHeaderTimeout: s.config.WriteTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown disconnects every client, waits for their snapshots to be saved,
// closes the remaining sessions and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for c := range conns {
		c.stop(nil)
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out waiting for connections")
	}

	n := s.sessions.Shutdown(observe.Reason("server stopping"))
	if n > 0 {
		s.logger.Info("closed remaining sessions", "count", n)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
