// Package session exposes observables to remote clients by key.
//
// A Session owns an observe.Scope. Values built for one client are created
// in that scope and bound under string keys; the transport reads, writes
// and subscribes to them as JSON:
//
//	sess, _ := manager.Create()
//	name := observe.NewMutable("", sess.NodeOptions(observe.WithName("name"))...)
//	greeting, _ := observe.Map(name, func(n string) string { return "Hello, " + n })
//	_ = session.BindMutable[string](sess, "name", name)
//	_ = session.Bind[string](sess, "greeting", greeting)
//
//	_, _ = sess.Subscribe("greeting", func(c session.Change) { push(c) })
//	_ = sess.Write(ctx, "name", []byte(`"Ada"`))
//
// Closing the session closes every node in its scope, so a disconnect tears
// down the client's whole dependency graph.
//
// # Manager
//
// The Manager issues session IDs, enforces a session limit and keeps the
// active session gauge of the runtime metrics current:
//
//	manager := session.NewManager(rt, session.DefaultManagerConfig(), logger)
//	defer manager.Shutdown(observe.Reason("server stopping"))
package session
