package observe_test

import (
	"errors"
	"fmt"

	"github.com/vango-dev/observe/pkg/observe"
)

func ExampleMap() {
	word := observe.NewMutable("one")
	length, _ := observe.Map(word, func(s string) int { return len(s) })

	n, _ := length.Value()
	fmt.Println(n)

	_ = word.Set("three")
	n, _ = length.Value()
	fmt.Println(n)
	// Output:
	// 3
	// 5
}

func ExampleCombine() {
	a := observe.NewMutable(1)
	b := observe.NewMutable(2)
	pair, _ := observe.Combine(a, b)

	p, _ := pair.Value()
	fmt.Println(p)

	_ = a.Set(5)
	p, _ = pair.Value()
	fmt.Println(p)

	_ = pair.Set(observe.MakePair(9, 10))
	x, _ := a.Value()
	y, _ := b.Value()
	fmt.Println(x, y)

	a.Close(observe.Reason("done"))
	_, err := pair.Value()
	fmt.Println(errors.Is(err, observe.ErrClosed))
	// Output:
	// (1, 2)
	// (5, 2)
	// 9 10
	// true
}
