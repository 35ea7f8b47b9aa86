// Package observe provides the reactive value core: observable containers
// whose dependents stay consistent without central coordination.
//
// # Core Types
//
// Observable[T] is a read-only value with change listeners and a one-way
// lifecycle (open, then closed):
//
//	name := observe.NewMutable("one")
//	length, err := observe.Map(name, func(s string) int { return len(s) })
//	n, err := length.Value() // 3
//
// Mutable[T] adds Set and Update. A Set that changes the value notifies every
// listener synchronously with (old, new) before returning; a Set with an
// equal value notifies nobody. Suppression applies at every derivation hop.
//
// Property and Combine build bidirectional nodes. Writes to a projection go
// through its parent, and writes to a combined pair go to both halves:
//
//	form := observe.NewMutable(User{Name: "ann"})
//	name, _ := observe.Property(form,
//	    func(u User) string { return u.Name },
//	    func(u User, n string) User { u.Name = n; return u })
//	_ = name.Set("bob") // form now holds User{Name: "bob"}
//
// # Teardown
//
// Close is idempotent and cascades: closing a node runs its close handlers
// once, in registration order, which closes every node derived from it and
// detaches those nodes from their sources. A Scope collects every node
// created for one owner (a session, a page) so the whole graph can be closed
// in a single call.
//
// After close, Value, AddListener, OnClose and Set fail with an error that
// matches ErrClosed and carries the original CloseReason.
//
// # Thread Safety
//
// Every operation is safe for concurrent use. Value transitions on a node
// are totally ordered; listeners run on the goroutine performing the write.
// Panics raised by listeners are recovered and reported to the runtime's
// ErrorSink. Panics or errors raised by mappers close the derived node.
package observe
