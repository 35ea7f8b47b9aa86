package observe

import (
	"errors"
	"fmt"
)

// Pair is the value of a combined node.
type Pair[A, B any] struct {
	First  A
	Second B
}

// MakePair returns Pair{First: a, Second: b}.
func MakePair[A, B any](a A, b B) Pair[A, B] {
	return Pair[A, B]{First: a, Second: b}
}

// String formats the pair as (first, second).
func (p Pair[A, B]) String() string {
	return fmt.Sprintf("(%v, %v)", p.First, p.Second)
}

// combination keeps target equal to Pair{a, b}.
type combination[A, B any] struct {
	a      *Mutable[A]
	b      *Mutable[B]
	target *Mutable[Pair[A, B]]

	listeners [2]Handle
	closers   [2]Handle

	// lastA and lastB are the source transitions last applied; primed is
	// set once the first pair is installed. All three are guarded by target.mu.
	lastA, lastB uint64
	primed       bool
}

// Combine fuses two mutable values into one mutable pair. The pair follows
// both halves; writing a pair writes First to a and Second to b, each with
// its own change suppression.
//
// Closing a or b closes the pair. If writing either half fails, the write
// returns the joined errors and the pair closes, since it can no longer be
// kept consistent with both sources.
func Combine[A, B any](a *Mutable[A], b *Mutable[B], opts ...Option) (*Mutable[Pair[A, B]], error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("observe: combine requires two sources")
	}
	c := &combination[A, B]{a: a, b: b}
	c.target = &Mutable[Pair[A, B]]{writer: c}
	c.target.init(Pair[A, B]{}, derivedConfig("combine", &a.Observable, opts))

	if err := c.attach(); err != nil {
		c.detach()
		c.target.Close(CloseReason{Explanation: "source was closed", Cause: err})
		return nil, err
	}
	c.recompute()
	if _, err := c.target.OnClose(c.detach); err != nil {
		c.detach()
		return nil, err
	}
	return c.target, nil
}

func (c *combination[A, B]) attach() error {
	var err error
	if c.listeners[0], _, _, err = c.a.attach(func(change[A]) { c.recompute() }); err != nil {
		return err
	}
	if c.listeners[1], _, _, err = c.b.attach(func(change[B]) { c.recompute() }); err != nil {
		return err
	}
	if c.closers[0], err = c.a.OnClose(func() { c.sourceClosed(&c.a.Observable) }); err != nil {
		return err
	}
	if c.closers[1], err = c.b.OnClose(func() { c.sourceClosed(&c.b.Observable) }); err != nil {
		return err
	}
	return nil
}

// recompute reads both sources without holding the target lock, then
// applies the pair unless a newer transition of either half is already
// installed. Source locks are never taken while the target lock is held.
func (c *combination[A, B]) recompute() {
	t := &c.target.Observable
	for {
		va, sa, errA := c.a.snapshot()
		vb, sb, errB := c.b.snapshot()
		if errA != nil || errB != nil {
			// A closed source tears the pair down through its close handler.
			return
		}

		t.mu.Lock()
		if t.closed.Load() {
			t.mu.Unlock()
			return
		}
		if c.primed {
			if sa < c.lastA || sb < c.lastB {
				// A concurrent recompute installed a newer half; read again.
				t.mu.Unlock()
				continue
			}
			if sa == c.lastA && sb == c.lastB {
				t.mu.Unlock()
				return
			}
		}
		c.primed = true
		c.lastA, c.lastB = sa, sb
		ch, subs, changed := t.commitLocked(Pair[A, B]{First: va, Second: vb})
		t.mu.Unlock()

		if changed {
			t.notify(ch, subs)
		}
		return
	}
}

func (c *combination[A, B]) sourceClosed(src interface{ CloseReason() (CloseReason, bool) }) {
	reason, _ := src.CloseReason()
	c.target.Close(CloseReason{
		Explanation: "combined source was closed",
		Cause:       reason.Cause,
	})
}

func (c *combination[A, B]) detach() {
	c.a.RemoveListener(c.listeners[0])
	c.b.RemoveListener(c.listeners[1])
	c.a.RemoveCloseHandler(c.closers[0])
	c.b.RemoveCloseHandler(c.closers[1])
}

func (c *combination[A, B]) write(p Pair[A, B]) error {
	errA := c.a.Set(p.First)
	errB := c.b.Set(p.Second)
	if err := errors.Join(errA, errB); err != nil {
		c.target.Close(CloseReason{Explanation: "combined write partially failed", Cause: err})
		return err
	}
	return nil
}

func (c *combination[A, B]) update(fn func(Pair[A, B]) Pair[A, B]) error {
	v, err := c.target.Value()
	if err != nil {
		return err
	}
	return c.write(fn(v))
}
