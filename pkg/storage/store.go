package storage

import (
	"context"
	"errors"
)

// Store persists raw values by key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load retrieves the value stored under key.
	// Returns (nil, false, nil) if the key doesn't exist.
	// Returns (nil, false, err) on backend errors.
	Load(ctx context.Context, key string) ([]byte, bool, error)

	// Save stores data under key, overwriting any previous value.
	Save(ctx context.Context, key string, data []byte) error

	// Delete removes key. Should not return an error if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// ErrEmptyKey is returned for operations with an empty key.
var ErrEmptyKey = errors.New("empty storage key")
