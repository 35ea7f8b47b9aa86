package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/observe/pkg/observe"
)

const defaultTracerName = "observe"

// Change is a value transition on a bound key, JSON encoded.
type Change struct {
	Key string              `json:"key"`
	Old jsoniter.RawMessage `json:"old"`
	New jsoniter.RawMessage `json:"new"`
}

type entry struct {
	b      binding
	closer observe.Handle
}

// Session exposes a set of observables to one remote client by key.
//
// Nodes created with the session's NodeOptions live in the session scope,
// so Close tears down every value built for the client in one step.
// Observables bound from outside the scope are only detached.
type Session struct {
	// ID is the unique session identifier.
	ID string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	rt     *observe.Runtime
	scope  *observe.Scope
	tracer trace.Tracer
	logger *slog.Logger

	mu       sync.RWMutex
	bindings map[string]*entry
	subs     map[observe.Handle]string
	closed   bool

	// release is set by the Manager to forget the session on close.
	release func()
}

// Option configures a Session.
type Option func(*Session)

// WithRuntime sets the runtime used for session nodes and error reporting.
func WithRuntime(rt *observe.Runtime) Option {
	return func(s *Session) {
		s.rt = rt
	}
}

// WithTracer sets the tracer used for write and close spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = tracer
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a session with its own scope.
func New(id string, opts ...Option) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		scope:     observe.NewScope(id),
		bindings:  make(map[string]*entry),
		subs:      make(map[observe.Handle]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rt == nil {
		s.rt = observe.DefaultRuntime()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(defaultTracerName)
	}
	if s.logger == nil {
		s.logger = s.rt.Logger()
	}
	s.logger = s.logger.With("session_id", id)
	return s
}

// Runtime returns the session runtime.
func (s *Session) Runtime() *observe.Runtime {
	return s.rt
}

// Scope returns the scope holding the session's nodes.
func (s *Session) Scope() *observe.Scope {
	return s.scope
}

// NodeOptions returns options placing a new node in the session scope and
// runtime, followed by extra.
//
//	count := observe.NewMutable(0, sess.NodeOptions(observe.WithName("count"))...)
func (s *Session) NodeOptions(extra ...observe.Option) []observe.Option {
	opts := []observe.Option{observe.WithRuntime(s.rt), observe.InScope(s.scope)}
	return append(opts, extra...)
}

// Bind exposes obs under key as read-only. The binding is dropped when obs
// closes.
func Bind[T any](s *Session, key string, obs observe.Readable[T]) error {
	return s.bind(key, &readBinding[T]{key: key, obs: obs, report: s.rt.Report})
}

// BindMutable exposes m under key; clients may write it.
func BindMutable[T any](s *Session, key string, m observe.Writable[T]) error {
	return s.bind(key, &writeBinding[T]{
		readBinding: readBinding[T]{key: key, obs: m, report: s.rt.Report},
		target:      m,
	})
}

func (s *Session) bind(key string, b binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.bindings[key]; ok {
		return &KeyError{Key: key, Err: ErrDuplicateKey}
	}
	e := &entry{b: b}
	closer, err := b.onClose(func() { s.drop(key, e) })
	if err != nil {
		return &KeyError{Key: key, Err: err}
	}
	e.closer = closer
	s.bindings[key] = e
	return nil
}

// drop forgets key if it is still bound to e.
func (s *Session) drop(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bindings[key] != e {
		return
	}
	delete(s.bindings, key)
	for h, k := range s.subs {
		if k == key {
			delete(s.subs, h)
		}
	}
	s.logger.Debug("binding dropped", "key", key)
}

func (s *Session) lookup(key string) (binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	e, ok := s.bindings[key]
	if !ok {
		return nil, &KeyError{Key: key, Err: ErrUnknownKey}
	}
	return e.b, nil
}

// Keys returns the bound keys in sorted order.
func (s *Session) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.bindings))
	for k := range s.bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writable reports whether key accepts writes.
func (s *Session) Writable(key string) bool {
	b, err := s.lookup(key)
	return err == nil && b.writable()
}

// Read returns the JSON encoding of the value bound to key.
func (s *Session) Read(key string) ([]byte, error) {
	b, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	return b.read()
}

// Write decodes raw into the type bound to key and sets it.
func (s *Session) Write(ctx context.Context, key string, raw []byte) (err error) {
	_, span := s.tracer.Start(ctx, "observe.session.write",
		trace.WithAttributes(
			attribute.String("observe.session_id", s.ID),
			attribute.String("observe.key", key),
			attribute.Int("observe.payload_bytes", len(raw)),
		),
	)
	defer func() {
		s.rt.Metrics().SessionWrite(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := s.lookup(key)
	if err != nil {
		return err
	}
	return b.write(raw)
}

// Subscribe calls fn with every change of the value bound to key.
func (s *Session) Subscribe(key string, fn func(Change)) (observe.Handle, error) {
	if fn == nil {
		return observe.Handle{}, fmt.Errorf("session: nil subscriber")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return observe.Handle{}, ErrSessionClosed
	}
	e, ok := s.bindings[key]
	if !ok {
		return observe.Handle{}, &KeyError{Key: key, Err: ErrUnknownKey}
	}
	h, err := e.b.watch(func(old, new []byte) {
		fn(Change{Key: key, Old: old, New: new})
	})
	if err != nil {
		return observe.Handle{}, &KeyError{Key: key, Err: err}
	}
	s.subs[h] = key
	return h, nil
}

// Unsubscribe removes a subscription made with Subscribe. Unknown handles
// are ignored.
func (s *Session) Unsubscribe(key string, h observe.Handle) {
	s.mu.Lock()
	e, ok := s.bindings[key]
	if ok && s.subs[h] == key {
		delete(s.subs, h)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if ok {
		e.b.unwatch(h)
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close detaches every binding and closes every node in the session scope
// with reason. It returns the number of nodes closed. Later calls do nothing.
func (s *Session) Close(reason observe.CloseReason) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	bindings, subs := s.bindings, s.subs
	s.bindings, s.subs = map[string]*entry{}, map[observe.Handle]string{}
	s.mu.Unlock()

	_, span := s.tracer.Start(context.Background(), "observe.session.close",
		trace.WithAttributes(
			attribute.String("observe.session_id", s.ID),
			attribute.String("observe.reason", reason.Explanation),
		),
	)
	defer span.End()

	for h, key := range subs {
		if e, ok := bindings[key]; ok {
			e.b.unwatch(h)
		}
	}
	for _, e := range bindings {
		// Bound nodes outside the scope stay open.
		e.b.offClose(e.closer)
	}
	closed := s.scope.Close(reason)
	span.SetAttributes(attribute.Int("observe.nodes_closed", closed))

	if s.release != nil {
		s.release()
	}
	s.logger.Info("session closed", "reason", reason.String(), "nodes_closed", closed)
	return closed
}
