package main

import (
	"fmt"

	"github.com/vango-dev/observe/pkg/observe"
	"github.com/vango-dev/observe/pkg/session"
)

// profile is the per-client record served by the demo application.
type profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// bindApp builds one client's graph:
//
//	count ──map──> label
//	profile ──property──> name ──map──> greeting
//	(count, name) ──combine──> summary
func bindApp(sess *session.Session) error {
	opts := sess.NodeOptions

	count := observe.NewMutable(0, opts(observe.WithName("count"))...)
	label, err := observe.Map(count, func(n int) string {
		if n == 1 {
			return "1 click"
		}
		return fmt.Sprintf("%d clicks", n)
	}, observe.WithName("label"))
	if err != nil {
		return err
	}

	prof := observe.NewMutable(profile{Name: "stranger"}, opts(observe.WithName("profile"))...)
	name, err := observe.Property(prof,
		func(p profile) string { return p.Name },
		func(p profile, name string) profile { p.Name = name; return p },
		observe.WithName("name"))
	if err != nil {
		return err
	}
	greeting, err := observe.Map(name, func(n string) string {
		return "Hello, " + n + "!"
	}, observe.WithName("greeting"))
	if err != nil {
		return err
	}

	summary, err := observe.Combine(count, name, observe.WithName("summary"))
	if err != nil {
		return err
	}

	if err := session.BindMutable[int](sess, "count", count); err != nil {
		return err
	}
	if err := session.Bind[string](sess, "label", label); err != nil {
		return err
	}
	if err := session.BindMutable[profile](sess, "profile", prof); err != nil {
		return err
	}
	if err := session.BindMutable[string](sess, "name", name); err != nil {
		return err
	}
	if err := session.Bind[string](sess, "greeting", greeting); err != nil {
		return err
	}
	return session.BindMutable[observe.Pair[int, string]](sess, "summary", summary)
}
