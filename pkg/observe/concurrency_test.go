package observe

import (
	"sync"
	"testing"
	"time"
)

func TestConcurrentUpdateNoLostWrites(t *testing.T) {
	m := NewMutable(0)
	const workers, perWorker = 8, 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = m.Update(func(n int) int { return n + 1 })
			}
		}()
	}
	wg.Wait()

	if got := mustValue[int](t, m); got != workers*perWorker {
		t.Errorf("expected %d, got %d", workers*perWorker, got)
	}
}

func TestConcurrentSetsDerivedConverges(t *testing.T) {
	m := NewMutable(0)
	square, _ := Map(m, func(n int) int { return n * n })
	plus, _ := Map(square, func(n int) int { return n + 1 })

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = m.Set(w*1000 + i)
			}
		}()
	}
	wg.Wait()

	final := mustValue[int](t, m)
	if got := mustValue[int](t, square); got != final*final {
		t.Errorf("derived value %d does not match source %d", got, final)
	}
	if got := mustValue[int](t, plus); got != final*final+1 {
		t.Errorf("second hop %d does not match source %d", got, final)
	}
}

func TestConcurrentListenerChurn(t *testing.T) {
	m := NewMutable(0)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			_ = m.Set(i)
		}
	}()
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h, err := m.AddListener(func(_, _ int) {})
				if err != nil {
					t.Errorf("AddListener: %v", err)
					return
				}
				m.RemoveListener(h)
			}
		}()
	}
	wg.Wait()

	if n := listenerCount(&m.Observable); n != 0 {
		t.Errorf("expected no listeners left, got %d", n)
	}
}

func TestConcurrentCombineConverges(t *testing.T) {
	a := NewMutable(0)
	b := NewMutable(0)
	c, _ := Combine(a, b)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 300; i++ {
			_ = a.Set(i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 1; i <= 300; i++ {
			_ = b.Set(-i)
		}
	}()
	wg.Wait()

	want := MakePair(mustValue[int](t, a), mustValue[int](t, b))
	if got := mustValue[Pair[int, int]](t, c); got != want {
		t.Errorf("pair %v does not match sources %v", got, want)
	}
}

func TestConcurrentClose(t *testing.T) {
	m := NewMutable(0)
	d, _ := Map(m, func(n int) int { return n })
	runs := 0
	var mu sync.Mutex
	_, _ = d.OnClose(func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	var wins sync.Map
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Set(w)
			if m.Close(Reason("race")) {
				wins.Store(w, true)
			}
		}()
	}
	wg.Wait()

	count := 0
	wins.Range(func(_, _ any) bool { count++; return true })
	if count != 1 {
		t.Errorf("exactly one Close should win, got %d", count)
	}
	if runs != 1 || !d.Closed() {
		t.Errorf("derived close handler should run once, ran %d", runs)
	}
}

func TestConcurrentSetsFormOneChain(t *testing.T) {
	m := NewMutable(0)
	var mu sync.Mutex
	next := make(map[int]int)
	repeated := 0
	_, _ = m.AddListener(func(old, new int) {
		mu.Lock()
		defer mu.Unlock()
		if _, seen := next[old]; seen {
			repeated++
		}
		next[old] = new
	})

	const workers, perWorker = 8, 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= perWorker; i++ {
				_ = m.Set(w*1000 + i)
			}
		}()
	}
	wg.Wait()

	if repeated != 0 {
		t.Fatalf("%d notifications reused an old value", repeated)
	}
	if len(next) != workers*perWorker {
		t.Fatalf("expected %d notifications, got %d", workers*perWorker, len(next))
	}
	// Following old -> new from the initial value must visit every
	// notification and end at the final value.
	v, steps := 0, 0
	for {
		n, ok := next[v]
		if !ok {
			break
		}
		v = n
		steps++
	}
	if steps != len(next) {
		t.Errorf("chain from the initial value covers %d of %d notifications", steps, len(next))
	}
	if final := mustValue[int](t, m); v != final {
		t.Errorf("chain ends at %d, value is %d", v, final)
	}
}

func TestCombineUpdateReadingPairWhileOtherHalfChanges(t *testing.T) {
	a := NewMutable(0)
	b := NewMutable(0)
	c, err := Combine(a, b)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}

	const rounds = 20000
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_ = a.Update(func(n int) int {
					_, _ = c.Value()
					return n + 1
				})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 1; i <= rounds; i++ {
				_ = b.Set(i)
			}
		}()
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Update reading the pair deadlocked against a concurrent Set")
	}

	got := mustValue[Pair[int, int]](t, c)
	if got != MakePair(rounds, rounds) {
		t.Errorf("expected (%d, %d), got %v", rounds, rounds, got)
	}
}
