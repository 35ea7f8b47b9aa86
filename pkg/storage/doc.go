// Package storage persists observable values.
//
// A Store is a flat key-value backend:
//
//	store := storage.NewMemoryStore()
//	// or
//	store, err := storage.OpenSQLStore(ctx, "sqlite", "file:observe.db")
//	// or
//	store, err := storage.OpenSQLStore(ctx, "pgx", "postgres://localhost/observe")
//	// or
//	store, err := storage.NewS3Store(ctx, storage.S3Config{Bucket: "observe"})
//
// Persist binds a mutable value to a key. The stored value, if any, wins
// over the value the node was created with:
//
//	theme := observe.NewMutable("light")
//	stop, err := storage.Persist(ctx, theme, store, "prefs/theme")
//	defer stop()
package storage
