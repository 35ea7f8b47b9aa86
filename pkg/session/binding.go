package session

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/vango-dev/observe/pkg/observe"
)

// json is the codec for values crossing the session boundary.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// binding adapts a typed observable to raw JSON.
type binding interface {
	read() ([]byte, error)
	write(raw []byte) error
	watch(fn func(old, new []byte)) (observe.Handle, error)
	unwatch(h observe.Handle)
	onClose(fn func()) (observe.Handle, error)
	offClose(h observe.Handle)
	writable() bool
}

type readBinding[T any] struct {
	key    string
	obs    observe.Readable[T]
	report func(error)
}

func (b *readBinding[T]) read() ([]byte, error) {
	v, err := b.obs.Value()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (b *readBinding[T]) write([]byte) error {
	return &KeyError{Key: b.key, Err: ErrReadOnly}
}

func (b *readBinding[T]) writable() bool {
	return false
}

func (b *readBinding[T]) watch(fn func(old, new []byte)) (observe.Handle, error) {
	return b.obs.AddListener(func(old, new T) {
		o, err := json.Marshal(old)
		if err != nil {
			b.report(&EncodeError{Key: b.key, Err: err})
			return
		}
		n, err := json.Marshal(new)
		if err != nil {
			b.report(&EncodeError{Key: b.key, Err: err})
			return
		}
		fn(o, n)
	})
}

func (b *readBinding[T]) unwatch(h observe.Handle) {
	b.obs.RemoveListener(h)
}

func (b *readBinding[T]) onClose(fn func()) (observe.Handle, error) {
	return b.obs.OnClose(fn)
}

func (b *readBinding[T]) offClose(h observe.Handle) {
	b.obs.RemoveCloseHandler(h)
}

type writeBinding[T any] struct {
	readBinding[T]
	target observe.Writable[T]
}

func (b *writeBinding[T]) write(raw []byte) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return &DecodeError{Key: b.key, Err: err}
	}
	return b.target.Set(v)
}

func (b *writeBinding[T]) writable() bool {
	return true
}
