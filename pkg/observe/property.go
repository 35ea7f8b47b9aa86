package observe

import "fmt"

// projection writes a field of a structured parent value back through the
// parent. The projection's own value only changes by following the parent.
type projection[S, F any] struct {
	parent *Mutable[S]
	target *Mutable[F]
	get    func(S) F
	set    func(S, F) S
}

// Property returns a mutable node bound to one field of parent. Reading it
// yields get(parent). Writing f updates the parent to set(parent, f) and the
// new field value arrives back through the parent's notification, so every
// other observer of the parent sees the same change in the same pass.
//
//	type Foo struct{ Bar string }
//	foo := observe.NewMutable(Foo{Bar: "dog"})
//	bar, _ := observe.Property(foo,
//	    func(f Foo) string { return f.Bar },
//	    func(f Foo, b string) Foo { f.Bar = b; return f })
//	_ = bar.Set("cat") // foo holds Foo{Bar: "cat"}
//
// A getter that panics while following the parent closes the projection. A
// setter that panics closes the projection and fails the write with a
// *DerivationError; the parent is left unchanged.
func Property[S, F any](parent *Mutable[S], get func(S) F, set func(S, F) S, opts ...Option) (*Mutable[F], error) {
	if parent == nil || get == nil || set == nil {
		return nil, fmt.Errorf("observe: property requires parent, getter and setter")
	}
	p := &projection[S, F]{parent: parent, get: get, set: set}
	p.target = &Mutable[F]{writer: p}
	p.target.init(*new(F), derivedConfig("property", &parent.Observable, opts))

	mapper := func(s S) (F, error) {
		return get(s), nil
	}
	if _, err := derive(&parent.Observable, &p.target.Observable, mapper); err != nil {
		return nil, err
	}
	return p.target, nil
}

func (p *projection[S, F]) write(v F) error {
	return p.update(func(F) F { return v })
}

func (p *projection[S, F]) update(fn func(F) F) error {
	var failure error
	err := p.parent.Update(func(s S) S {
		next, err := p.apply(s, fn)
		if err != nil {
			failure = err
			return s
		}
		return next
	})
	if err != nil {
		return err
	}
	if failure != nil {
		derr := &DerivationError{Node: p.target.Name(), Err: failure}
		p.target.rt.derivationFailed(derr)
		p.target.Close(CloseReason{Explanation: "setter failed", Cause: derr})
		return derr
	}
	return nil
}

// apply computes the parent value for fn(field), converting panics to errors.
func (p *projection[S, F]) apply(s S, fn func(F) F) (next S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToError(r)
		}
	}()
	return p.set(s, fn(p.get(s))), nil
}
