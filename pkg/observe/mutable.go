package observe

// writer routes writes of a bidirectional node back to its sources.
type writer[T any] interface {
	write(v T) error
	update(fn func(T) T) error
}

// Mutable is an Observable whose value can be overwritten.
type Mutable[T any] struct {
	Observable[T]

	// writer is nil for root values, which store writes directly.
	writer writer[T]
}

// NewMutable creates a mutable value.
//
//	count := observe.NewMutable(0, observe.WithName("count"))
//	_ = count.Set(1)
func NewMutable[T any](initial T, opts ...Option) *Mutable[T] {
	m := &Mutable[T]{}
	m.init(initial, newNodeConfig("mutable", opts))
	return m
}

// WithEquals sets the equality function used to suppress redundant
// notifications and returns the node.
func (m *Mutable[T]) WithEquals(fn EqualFunc[T]) *Mutable[T] {
	m.Observable.WithEquals(fn)
	return m
}

// Set replaces the value. If the value changed, every listener registered
// when the value was installed is invoked once with (old, new) before Set
// returns. Setting an equal value notifies nobody.
//
// Set fails with a *UsedAfterCloseError once the node is closed. Failures of
// listeners and of nodes derived from this one never reach the caller.
func (m *Mutable[T]) Set(value T) error {
	if m.writer == nil {
		return m.store(value)
	}
	if m.closed.Load() {
		_, err := m.Value()
		return err
	}
	return m.writer.write(value)
}

// Update replaces the value with fn(current). For root values and
// projections the read and the write happen atomically.
func (m *Mutable[T]) Update(fn func(T) T) error {
	if fn == nil {
		return nil
	}
	if m.writer == nil {
		return m.update(fn)
	}
	if m.closed.Load() {
		_, err := m.Value()
		return err
	}
	return m.writer.update(fn)
}
