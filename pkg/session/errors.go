package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKey is returned for keys with no bound observable.
	ErrUnknownKey = errors.New("unknown key")

	// ErrReadOnly is returned when writing a key bound with Bind.
	ErrReadOnly = errors.New("key is read-only")

	// ErrDuplicateKey is returned when binding a key twice.
	ErrDuplicateKey = errors.New("key already bound")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when the manager's session limit is reached.
	ErrTooManySessions = errors.New("maximum session limit reached")

	// ErrManagerStopped is returned when operations are attempted on a stopped manager.
	ErrManagerStopped = errors.New("session manager is stopped")
)

// KeyError associates a failure with the key it happened on.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("session key %q: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a client payload does not decode into the
// bound value type.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("session key %q: decode: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is reported to the runtime error sink when a changed value
// cannot be encoded for subscribers.
type EncodeError struct {
	Key string
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("session key %q: encode: %v", e.Key, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
