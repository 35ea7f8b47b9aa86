package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/observe/pkg/observe"
)

type recorder struct {
	mu      sync.Mutex
	changes []Change
	errs    []error
}

func (r *recorder) change(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) sink(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func newTestSession(t *testing.T) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	rt := observe.NewRuntime(observe.WithErrorSink(rec.sink))
	return New("test-session", WithRuntime(rt)), rec
}

func TestSessionReadWrite(t *testing.T) {
	sess, _ := newTestSession(t)
	name := observe.NewMutable("Ada", sess.NodeOptions(observe.WithName("name"))...)
	greeting, err := observe.Map(name, func(n string) string { return "Hello, " + n })
	require.NoError(t, err)

	require.NoError(t, BindMutable[string](sess, "name", name))
	require.NoError(t, Bind[string](sess, "greeting", greeting))
	assert.Equal(t, []string{"greeting", "name"}, sess.Keys())

	raw, err := sess.Read("greeting")
	require.NoError(t, err)
	assert.JSONEq(t, `"Hello, Ada"`, string(raw))

	require.NoError(t, sess.Write(context.Background(), "name", []byte(`"Grace"`)))
	raw, err = sess.Read("greeting")
	require.NoError(t, err)
	assert.JSONEq(t, `"Hello, Grace"`, string(raw))
}

func TestSessionWriteErrors(t *testing.T) {
	sess, _ := newTestSession(t)
	count := observe.NewMutable(1, sess.NodeOptions()...)
	doubled, _ := observe.Map(count, func(n int) int { return n * 2 })
	require.NoError(t, BindMutable[int](sess, "count", count))
	require.NoError(t, Bind[int](sess, "doubled", doubled))
	ctx := context.Background()

	err := sess.Write(ctx, "missing", []byte(`1`))
	assert.ErrorIs(t, err, ErrUnknownKey)

	err = sess.Write(ctx, "doubled", []byte(`4`))
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.False(t, sess.Writable("doubled"))
	assert.True(t, sess.Writable("count"))

	err = sess.Write(ctx, "count", []byte(`"not a number"`))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "count", derr.Key)
	v, _ := count.Value()
	assert.Equal(t, 1, v, "failed decode must not change the value")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, sess.Write(cancelled, "count", []byte(`2`)), context.Canceled)
}

func TestSessionStructuredValues(t *testing.T) {
	type profile struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	sess, _ := newTestSession(t)
	p := observe.NewMutable(profile{Name: "ada"}, sess.NodeOptions()...)
	tags, _ := observe.Property(p,
		func(p profile) []string { return p.Tags },
		func(p profile, tags []string) profile { p.Tags = tags; return p })
	require.NoError(t, BindMutable[profile](sess, "profile", p))
	require.NoError(t, BindMutable[[]string](sess, "tags", tags))

	require.NoError(t, sess.Write(context.Background(), "tags", []byte(`["math","engines"]`)))
	raw, err := sess.Read("profile")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada","tags":["math","engines"]}`, string(raw))
}

func TestSessionSubscribe(t *testing.T) {
	sess, rec := newTestSession(t)
	count := observe.NewMutable(1, sess.NodeOptions()...)
	require.NoError(t, BindMutable[int](sess, "count", count))

	h, err := sess.Subscribe("count", rec.change)
	require.NoError(t, err)

	require.NoError(t, count.Set(2))
	require.NoError(t, sess.Write(context.Background(), "count", []byte(`3`)))
	require.NoError(t, sess.Write(context.Background(), "count", []byte(`3`)))

	require.Len(t, rec.changes, 2)
	assert.Equal(t, "count", rec.changes[0].Key)
	assert.JSONEq(t, `1`, string(rec.changes[0].Old))
	assert.JSONEq(t, `2`, string(rec.changes[0].New))
	assert.JSONEq(t, `3`, string(rec.changes[1].New))

	sess.Unsubscribe("count", h)
	require.NoError(t, count.Set(4))
	assert.Len(t, rec.changes, 2)

	_, err = sess.Subscribe("missing", rec.change)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestSessionEncodeFailureReported(t *testing.T) {
	sess, rec := newTestSession(t)
	ratio := observe.NewMutable(1.0, sess.NodeOptions()...)
	require.NoError(t, BindMutable[float64](sess, "ratio", ratio))
	_, err := sess.Subscribe("ratio", rec.change)
	require.NoError(t, err)

	require.NoError(t, ratio.Set(math.Inf(1)))
	assert.Empty(t, rec.changes)
	require.Len(t, rec.errs, 1)
	var eerr *EncodeError
	assert.ErrorAs(t, rec.errs[0], &eerr)
}

func TestSessionDuplicateBind(t *testing.T) {
	sess, _ := newTestSession(t)
	a := observe.NewMutable(1, sess.NodeOptions()...)
	require.NoError(t, BindMutable[int](sess, "a", a))
	assert.ErrorIs(t, BindMutable[int](sess, "a", a), ErrDuplicateKey)
}

func TestSessionBindingDroppedWhenNodeCloses(t *testing.T) {
	sess, _ := newTestSession(t)
	a := observe.NewMutable(1, sess.NodeOptions()...)
	require.NoError(t, BindMutable[int](sess, "a", a))

	a.Close(observe.Reason("done"))
	assert.Empty(t, sess.Keys())
	_, err := sess.Read("a")
	assert.ErrorIs(t, err, ErrUnknownKey)

	closed := observe.NewMutable(1)
	closed.Close(observe.Reason("gone"))
	assert.ErrorIs(t, Bind[int](sess, "closed", closed), observe.ErrClosed)
}

func TestSessionCloseCascades(t *testing.T) {
	sess, _ := newTestSession(t)
	a := observe.NewMutable(1, sess.NodeOptions()...)
	b := observe.NewMutable(2, sess.NodeOptions()...)
	pair, _ := observe.Combine(a, b)
	sum, _ := observe.Map(pair, func(p observe.Pair[int, int]) int { return p.First + p.Second })
	require.NoError(t, Bind[int](sess, "sum", sum))

	shared := observe.NewMutable("global")
	require.NoError(t, Bind[string](sess, "shared", shared))
	_, err := sess.Subscribe("shared", func(Change) {})
	require.NoError(t, err)

	cause := errors.New("connection reset")
	n := sess.Close(observe.CloseReason{Explanation: "disconnected", Cause: cause})
	assert.Equal(t, 4, n)
	assert.True(t, sess.Closed())

	for _, node := range []interface{ Closed() bool }{a, b, pair, sum} {
		assert.True(t, node.Closed())
	}
	_, err = sum.Value()
	assert.ErrorIs(t, err, observe.ErrClosed)

	assert.False(t, shared.Closed(), "nodes outside the scope stay open")
	assert.NoError(t, shared.Set("still usable"))

	_, err = sess.Read("sum")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Zero(t, sess.Close(observe.Reason("again")))

	late := observe.NewMutable(0, sess.NodeOptions()...)
	assert.True(t, late.Closed(), "nodes created after close start closed")
}
