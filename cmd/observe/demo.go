package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/observe/internal/errors"
	"github.com/vango-dev/observe/pkg/observe"
)

type demo struct {
	summary string
	run     func(w io.Writer, rt *observe.Runtime) error
}

var demos = map[string]demo{
	"map":      {"derive a label from a counter", demoMap},
	"property": {"edit one field of a record through a projection", demoProperty},
	"combine":  {"write two values at once through a pair", demoCombine},
	"cascade":  {"close a source and watch its dependents close", demoCascade},
}

func demoCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "demo [name]",
		Short: "Walk through the observable operations",
		Long:  "Run one demo, or all of them in order:\n\n" + demoList(),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			rt := observe.NewRuntime(observe.WithLogger(logger))

			names := demoNames()
			if len(args) == 1 {
				if _, ok := demos[args[0]]; !ok {
					return errors.New("E160").WithDetail("No demo named " + args[0] + ". Available: " + strings.Join(names, ", "))
				}
				names = args
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintf(out, "\n%s: %s\n", name, demos[name].summary)
				if err := demos[name].run(out, rt); err != nil {
					return fmt.Errorf("demo %s: %w", name, err)
				}
				success(out, "%s done", name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log node lifecycle at debug level")
	return cmd
}

func demoNames() []string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func demoList() string {
	var b strings.Builder
	for _, name := range demoNames() {
		fmt.Fprintf(&b, "  %-10s %s\n", name, demos[name].summary)
	}
	return b.String()
}

// watch prints every change of obs.
func watch[T any](w io.Writer, name string, obs observe.Readable[T]) error {
	_, err := obs.AddListener(func(old, new T) {
		info(w, "%s: %v -> %v", name, old, new)
	})
	return err
}

func demoMap(w io.Writer, rt *observe.Runtime) error {
	count := observe.NewMutable(0, observe.WithRuntime(rt), observe.WithName("count"))
	label, err := observe.Map(count, func(n int) string { return fmt.Sprintf("%d clicks", n) })
	if err != nil {
		return err
	}
	if err := watch[string](w, "label", label); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if err := count.Update(func(n int) int { return n + 1 }); err != nil {
			return err
		}
	}
	v, err := label.Value()
	if err != nil {
		return err
	}
	info(w, "label is now %q", v)
	return nil
}

func demoProperty(w io.Writer, rt *observe.Runtime) error {
	prof := observe.NewMutable(profile{Name: "Ada", Email: "ada@example.com"}, observe.WithRuntime(rt))
	name, err := observe.Property(prof,
		func(p profile) string { return p.Name },
		func(p profile, name string) profile { p.Name = name; return p })
	if err != nil {
		return err
	}
	if err := watch[profile](w, "profile", prof); err != nil {
		return err
	}
	if err := name.Set("Grace"); err != nil {
		return err
	}
	p, err := prof.Value()
	if err != nil {
		return err
	}
	info(w, "email untouched: %s", p.Email)
	return nil
}

func demoCombine(w io.Writer, rt *observe.Runtime) error {
	a := observe.NewMutable(1, observe.WithRuntime(rt), observe.WithName("a"))
	b := observe.NewMutable(2, observe.WithRuntime(rt), observe.WithName("b"))
	pair, err := observe.Combine(a, b)
	if err != nil {
		return err
	}
	if err := watch[observe.Pair[int, int]](w, "pair", pair); err != nil {
		return err
	}
	if err := a.Set(5); err != nil {
		return err
	}
	if err := pair.Set(observe.MakePair(9, 10)); err != nil {
		return err
	}
	av, _ := a.Value()
	bv, _ := b.Value()
	info(w, "a=%d b=%d", av, bv)
	return nil
}

func demoCascade(w io.Writer, rt *observe.Runtime) error {
	scope := observe.NewScope("demo")
	root := observe.NewMutable(1, observe.WithRuntime(rt), observe.InScope(scope), observe.WithName("root"))
	doubled, err := observe.Map(root, func(n int) int { return n * 2 }, observe.WithName("doubled"))
	if err != nil {
		return err
	}
	text, err := observe.Map(doubled, func(n int) string { return fmt.Sprint(n) }, observe.WithName("text"))
	if err != nil {
		return err
	}
	if _, err := text.OnClose(func() {
		reason, _ := text.CloseReason()
		info(w, "text closed: %s", reason)
	}); err != nil {
		return err
	}
	info(w, "scope holds %d nodes", scope.Len())

	root.Close(observe.Reason("demo finished"))
	info(w, "doubled closed: %t", doubled.Closed())
	_, err = text.Value()
	info(w, "reading text: %v", err)
	info(w, "scope holds %d nodes", scope.Len())
	return nil
}
