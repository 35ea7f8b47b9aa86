package observe

import "fmt"

// derivation keeps a target node equal to mapper(source). The source owns
// the obligation to close the target (closer); the target owns the
// obligation to detach from the source (detach). Neither side holds the
// other through a listener closure beyond this object.
type derivation[T, O any] struct {
	source *Observable[T]
	target *Observable[O]
	mapper func(T) (O, error)

	listener Handle
	closer   Handle

	// lastSeq is the source transition last applied, guarded by target.mu.
	lastSeq uint64
}

// Map returns a read-only node holding fn(src) that follows every change of
// src. Listeners of the result are notified only when the mapped value
// changes. If fn panics while following a change, the result closes with a
// *DerivationError cause; the writer of src never sees the failure.
//
// Closing src closes the result. Closing the result detaches it from src.
func Map[T, O any](src Readable[T], fn func(T) O, opts ...Option) (*Observable[O], error) {
	if fn == nil {
		return nil, fmt.Errorf("observe: nil mapper")
	}
	return MapErr(src, func(v T) (O, error) {
		return fn(v), nil
	}, opts...)
}

// MapErr is Map for mappers that report failure with an error.
func MapErr[T, O any](src Readable[T], fn func(T) (O, error), opts ...Option) (*Observable[O], error) {
	if fn == nil {
		return nil, fmt.Errorf("observe: nil mapper")
	}
	source := src.node()
	target := &Observable[O]{}
	target.init(*new(O), derivedConfig("map", source, opts))
	if _, err := derive(source, target, fn); err != nil {
		return nil, err
	}
	return target, nil
}

// derive wires target to follow fn(source) and seeds its value.
func derive[T, O any](source *Observable[T], target *Observable[O], fn func(T) (O, error)) (*derivation[T, O], error) {
	d := &derivation[T, O]{source: source, target: target, mapper: fn}

	h, v, seq, err := source.attach(d.onChange)
	if err != nil {
		target.Close(CloseReason{Explanation: "source was closed", Cause: err})
		return nil, err
	}
	d.listener = h

	seed, err := d.compute(v)
	if err != nil {
		source.RemoveListener(h)
		target.Close(CloseReason{Explanation: "initial derivation failed", Cause: err})
		return nil, err
	}
	target.storeFrom(seed, seq+1, &d.lastSeq)

	if d.closer, err = source.OnClose(d.onSourceClose); err != nil {
		source.RemoveListener(h)
		target.Close(CloseReason{Explanation: "source was closed", Cause: err})
		return nil, err
	}
	if _, err := target.OnClose(d.detach); err != nil {
		// Target failed on a concurrent change before it was returned.
		d.detach()
		return nil, err
	}
	return d, nil
}

// compute runs the mapper, converting panics into errors.
func (d *derivation[T, O]) compute(v T) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DerivationError{Node: d.target.Name(), Err: panicToError(r)}
		}
	}()
	out, err = d.mapper(v)
	if err != nil {
		if _, ok := err.(*DerivationError); !ok {
			err = &DerivationError{Node: d.target.Name(), Err: err}
		}
	}
	return out, err
}

func (d *derivation[T, O]) onChange(c change[T]) {
	if d.target.Closed() {
		return
	}
	v, err := d.compute(c.new)
	if err != nil {
		derr := err.(*DerivationError)
		d.target.rt.derivationFailed(derr)
		d.target.Close(CloseReason{Explanation: "mapper failed", Cause: derr})
		return
	}
	// lastSeq starts at zero, so source sequence numbers are offset by one.
	d.target.storeFrom(v, c.seq+1, &d.lastSeq)
}

func (d *derivation[T, O]) onSourceClose() {
	reason, _ := d.source.CloseReason()
	d.target.Close(CloseReason{
		Explanation: "source " + d.source.Name() + " was closed",
		Cause:       reason.Cause,
	})
}

func (d *derivation[T, O]) detach() {
	d.source.RemoveListener(d.listener)
	d.source.RemoveCloseHandler(d.closer)
}
