package observe

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Readable is implemented by Observable and Mutable.
type Readable[T any] interface {
	Value() (T, error)
	AddListener(fn func(old, new T)) (Handle, error)
	RemoveListener(h Handle)
	OnClose(fn func()) (Handle, error)
	RemoveCloseHandler(h Handle)
	Close(reason CloseReason) bool
	Closed() bool

	node() *Observable[T]
}

// Writable is implemented by Mutable.
type Writable[T any] interface {
	Readable[T]
	Set(value T) error
	Update(fn func(T) T) error
}

// Option configures a node at creation.
type Option func(*nodeConfig)

type nodeConfig struct {
	runtime *Runtime
	name    string
	scope   *Scope
	parent  NodeID
	kind    string
}

// WithRuntime binds the node to rt instead of DefaultRuntime.
func WithRuntime(rt *Runtime) Option {
	return func(c *nodeConfig) {
		c.runtime = rt
	}
}

// WithName sets the name used in errors and logs.
func WithName(name string) Option {
	return func(c *nodeConfig) {
		c.name = name
	}
}

// InScope registers the node in s. Nodes derived from it join s as well.
func InScope(s *Scope) Option {
	return func(c *nodeConfig) {
		c.scope = s
	}
}

func newNodeConfig(kind string, opts []Option) nodeConfig {
	c := nodeConfig{parent: NoNode, kind: kind}
	for _, opt := range opts {
		opt(&c)
	}
	if c.runtime == nil {
		c.runtime = DefaultRuntime()
	}
	return c
}

// derivedConfig places a derived node in its source's runtime and scope.
func derivedConfig[T any](kind string, src *Observable[T], opts []Option) nodeConfig {
	c := nodeConfig{runtime: src.rt, scope: src.scope, parent: src.slot, kind: kind}
	for _, opt := range opts {
		opt(&c)
	}
	if c.name == "" {
		c.name = src.Name() + "." + kind
	}
	return c
}

// listener is a registered change callback. removed is checked before each
// invocation so a removal that happens before a listener's turn in an
// in-flight pass suppresses the call.
type listener[T any] struct {
	handle  Handle
	fn      func(change[T])
	removed atomic.Bool
}

type closeHandler struct {
	handle Handle
	fn     func()
}

// change is one value transition. seq is the node's transition counter
// after the change; derived nodes use it to discard stale deliveries.
type change[T any] struct {
	old T
	new T
	seq uint64
}

// Observable is a read-only value container with change listeners and a
// terminal closed state.
type Observable[T any] struct {
	rt    *Runtime
	name  string
	scope *Scope
	slot  NodeID

	// mu protects every field below except closed.
	mu        sync.Mutex
	value     T
	seq       uint64
	equal     EqualFunc[T]
	listeners []*listener[T]
	closers   []closeHandler
	reason    CloseReason
	closedBy  []uintptr

	// closed is readable without mu so notification passes can stop early.
	closed atomic.Bool
}

func (o *Observable[T]) init(initial T, c nodeConfig) {
	o.rt = c.runtime
	o.name = c.name
	o.value = initial
	o.slot = NoNode
	o.rt.metrics.nodeCreated(c.kind)
	if c.scope == nil {
		return
	}
	slot, reason, ok := c.scope.adopt(o, c.parent)
	if !ok {
		o.Close(reason)
		return
	}
	o.scope = c.scope
	o.slot = slot
}

func (o *Observable[T]) node() *Observable[T] {
	return o
}

// Name returns the node name, or a generic label if none was given.
func (o *Observable[T]) Name() string {
	if o.name == "" {
		return "observable"
	}
	return o.name
}

// NodeID returns the node's slot in its Scope, or NoNode.
func (o *Observable[T]) NodeID() NodeID {
	return o.slot
}

// Runtime returns the runtime the node reports to.
func (o *Observable[T]) Runtime() *Runtime {
	return o.rt
}

// WithEquals sets the equality function used to suppress redundant
// notifications and returns the node.
func (o *Observable[T]) WithEquals(fn EqualFunc[T]) *Observable[T] {
	o.mu.Lock()
	o.equal = fn
	o.mu.Unlock()
	return o
}

// Value returns the current value, or a *UsedAfterCloseError once closed.
func (o *Observable[T]) Value() (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		var zero T
		return zero, o.usedAfterCloseLocked()
	}
	return o.value, nil
}

// AddListener registers fn to be called with (old, new) after every change.
func (o *Observable[T]) AddListener(fn func(old, new T)) (Handle, error) {
	if fn == nil {
		return Handle{}, fmt.Errorf("observe: nil listener")
	}
	h, _, _, err := o.attach(func(c change[T]) {
		fn(c.old, c.new)
	})
	return h, err
}

// RemoveListener removes the listener registered under h. Unknown or already
// removed handles are ignored.
func (o *Observable[T]) RemoveListener(h Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, l := range o.listeners {
		if l.handle == h {
			l.removed.Store(true)
			o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
			return
		}
	}
}

// OnClose registers fn to run once when the node closes. Handlers run in
// registration order.
func (o *Observable[T]) OnClose(fn func()) (Handle, error) {
	if fn == nil {
		return Handle{}, fmt.Errorf("observe: nil close handler")
	}
	h := o.rt.newHandle()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return Handle{}, o.usedAfterCloseLocked()
	}
	o.closers = append(o.closers, closeHandler{handle: h, fn: fn})
	return h, nil
}

// RemoveCloseHandler drops the close handler registered under h.
func (o *Observable[T]) RemoveCloseHandler(h Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.closers {
		if c.handle == h {
			o.closers = append(o.closers[:i:i], o.closers[i+1:]...)
			return
		}
	}
}

// Close closes the node, records reason and runs the close handlers. Only
// the first call has an effect; it returns true. Later calls keep the
// recorded reason, run nothing and return false.
//
// Close may be called from inside a close handler of this or any other node.
func (o *Observable[T]) Close(reason CloseReason) bool {
	caller := callers()

	o.mu.Lock()
	if o.closed.Load() {
		first, original := o.closedBy, o.reason
		o.mu.Unlock()
		o.rt.doubleClosed(o.Name(), first, caller, original, reason)
		return false
	}
	o.reason = reason
	o.closedBy = caller
	o.closed.Store(true)
	var zero T
	o.value = zero
	for _, l := range o.listeners {
		l.removed.Store(true)
	}
	o.listeners = nil
	handlers := o.closers
	o.closers = nil
	o.mu.Unlock()

	o.rt.metrics.nodeClosed()
	if o.scope != nil {
		o.scope.release(o.slot)
	}
	for _, h := range handlers {
		o.runCloseHandler(h)
	}
	return true
}

// Closed reports whether the node has been closed.
func (o *Observable[T]) Closed() bool {
	return o.closed.Load()
}

// CloseReason returns the recorded reason and true once the node is closed.
func (o *Observable[T]) CloseReason() (CloseReason, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed.Load() {
		return CloseReason{}, false
	}
	return o.reason, true
}

// String returns a short description including the current value.
func (o *Observable[T]) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return fmt.Sprintf("%s(closed: %s)", o.Name(), o.reason)
	}
	return fmt.Sprintf("%s(%v)", o.Name(), o.value)
}

// attach registers fn and returns the value and sequence number it was
// registered at, atomically, so derived nodes cannot miss a transition.
func (o *Observable[T]) attach(fn func(change[T])) (Handle, T, uint64, error) {
	h := o.rt.newHandle()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		var zero T
		return Handle{}, zero, 0, o.usedAfterCloseLocked()
	}
	o.listeners = append(o.listeners, &listener[T]{handle: h, fn: fn})
	return h, o.value, o.seq, nil
}

// snapshot returns the value and its sequence number.
func (o *Observable[T]) snapshot() (T, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		var zero T
		return zero, 0, o.usedAfterCloseLocked()
	}
	return o.value, o.seq, nil
}

// store replaces the value and notifies listeners if it changed.
func (o *Observable[T]) store(v T) error {
	o.mu.Lock()
	if o.closed.Load() {
		err := o.usedAfterCloseLocked()
		o.mu.Unlock()
		return err
	}
	c, subs, changed := o.commitLocked(v)
	o.mu.Unlock()

	if changed {
		o.notify(c, subs)
	}
	return nil
}

// update applies fn to the current value under the lock.
func (o *Observable[T]) update(fn func(T) T) error {
	c, subs, changed, err := func() (change[T], []*listener[T], bool, error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed.Load() {
			return change[T]{}, nil, false, o.usedAfterCloseLocked()
		}
		c, subs, changed := o.commitLocked(fn(o.value))
		return c, subs, changed, nil
	}()
	if err != nil {
		return err
	}
	if changed {
		o.notify(c, subs)
	}
	return nil
}

// storeFrom applies a value derived from source transition seq. Deliveries
// older than *last are dropped; last is owned by the caller and guarded by mu.
func (o *Observable[T]) storeFrom(v T, seq uint64, last *uint64) {
	o.mu.Lock()
	if o.closed.Load() || seq <= *last {
		o.mu.Unlock()
		return
	}
	*last = seq
	c, subs, changed := o.commitLocked(v)
	o.mu.Unlock()

	if changed {
		o.notify(c, subs)
	}
}

// commitLocked installs v and snapshots the listeners to notify. It reports
// false when v equals the current value.
func (o *Observable[T]) commitLocked(v T) (change[T], []*listener[T], bool) {
	if o.equalsLocked(o.value, v) {
		return change[T]{}, nil, false
	}
	old := o.value
	o.value = v
	o.seq++
	subs := make([]*listener[T], len(o.listeners))
	copy(subs, o.listeners)
	return change[T]{old: old, new: v, seq: o.seq}, subs, true
}

func (o *Observable[T]) equalsLocked(a, b T) bool {
	if o.equal != nil {
		return o.equal(a, b)
	}
	return defaultEquals(a, b)
}

// notify invokes each listener in registration order. It stops as soon as
// the node closes and skips listeners removed before their turn.
func (o *Observable[T]) notify(c change[T], subs []*listener[T]) {
	invoked := 0
	for _, l := range subs {
		if o.closed.Load() {
			break
		}
		if l.removed.Load() {
			continue
		}
		invoked++
		o.invoke(l, c)
	}
	o.rt.metrics.notified(invoked)
}

func (o *Observable[T]) invoke(l *listener[T], c change[T]) {
	defer func() {
		if r := recover(); r != nil {
			o.rt.listenerFailed(&ListenerError{Node: o.Name(), Handle: l.handle, Err: panicToError(r)})
		}
	}()
	l.fn(c)
}

func (o *Observable[T]) runCloseHandler(h closeHandler) {
	defer func() {
		if r := recover(); r != nil {
			o.rt.listenerFailed(&ListenerError{Node: o.Name(), Handle: h.handle, Err: panicToError(r)})
		}
	}()
	h.fn()
}

func (o *Observable[T]) usedAfterCloseLocked() error {
	return &UsedAfterCloseError{Node: o.Name(), Reason: o.reason}
}
