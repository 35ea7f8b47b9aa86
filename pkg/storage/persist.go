package storage

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/vango-dev/observe/pkg/observe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SaveError is reported to the node's runtime error sink when a change
// could not be written to the store.
type SaveError struct {
	Key string
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("persist %q: %v", e.Key, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// PersistOption configures Persist.
type PersistOption func(*persistConfig)

type persistConfig struct {
	saveTimeout time.Duration
}

// WithSaveTimeout bounds each save triggered by a change.
// Default: 5 seconds.
func WithSaveTimeout(d time.Duration) PersistOption {
	return func(c *persistConfig) {
		c.saveTimeout = d
	}
}

// Persist keeps m in store under key. If the key exists, m is set to the
// stored value; otherwise the current value is saved. After that every
// change of m is saved until m closes or stop is called. Save failures go to
// the node runtime's error sink and never reach the writer of m.
func Persist[T any](ctx context.Context, m *observe.Mutable[T], store Store, key string, opts ...PersistOption) (stop func(), err error) {
	cfg := persistConfig{saveTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if key == "" {
		return nil, ErrEmptyKey
	}

	data, found, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		if err := m.Set(v); err != nil {
			return nil, err
		}
	} else {
		v, err := m.Value()
		if err != nil {
			return nil, err
		}
		if err := save(ctx, store, key, v); err != nil {
			return nil, err
		}
	}

	rt := m.Runtime()
	h, err := m.AddListener(func(_, v T) {
		saveCtx, cancel := context.WithTimeout(context.Background(), cfg.saveTimeout)
		defer cancel()
		if err := save(saveCtx, store, key, v); err != nil {
			rt.Report(&SaveError{Key: key, Err: err})
		}
	})
	if err != nil {
		return nil, err
	}
	return func() { m.RemoveListener(h) }, nil
}

func save[T any](ctx context.Context, store Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return store.Save(ctx, key, data)
}
