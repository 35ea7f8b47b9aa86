package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/observe/pkg/observe"
)

type prefs struct {
	Theme    string `json:"theme"`
	FontSize int    `json:"font_size"`
}

func TestPersistSavesInitialAndChanges(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	p := observe.NewMutable(prefs{Theme: "light", FontSize: 12})

	stop, err := Persist(ctx, p, store, "user/1/prefs")
	require.NoError(t, err)
	defer stop()

	data, found, err := store.Load(ctx, "user/1/prefs")
	require.NoError(t, err)
	require.True(t, found, "missing key is seeded with the current value")
	assert.JSONEq(t, `{"theme":"light","font_size":12}`, string(data))

	require.NoError(t, p.Set(prefs{Theme: "dark", FontSize: 14}))
	data, _, err = store.Load(ctx, "user/1/prefs")
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark","font_size":14}`, string(data))
}

func TestPersistedValueSurvivesReload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := observe.NewMutable(prefs{Theme: "light"})
	_, err := Persist(ctx, first, store, "prefs")
	require.NoError(t, err)
	theme, err := observe.Property(first,
		func(p prefs) string { return p.Theme },
		func(p prefs, theme string) prefs { p.Theme = theme; return p })
	require.NoError(t, err)
	require.NoError(t, theme.Set("solarized"))
	first.Close(observe.Reason("process exit"))

	second := observe.NewMutable(prefs{Theme: "light"})
	_, err = Persist(ctx, second, store, "prefs")
	require.NoError(t, err)
	v, err := second.Value()
	require.NoError(t, err)
	assert.Equal(t, "solarized", v.Theme)
}

func TestPersistStop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	n := observe.NewMutable(1)

	stop, err := Persist(ctx, n, store, "n")
	require.NoError(t, err)
	stop()
	require.NoError(t, n.Set(2))

	data, _, _ := store.Load(ctx, "n")
	assert.Equal(t, "1", string(data))
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Save(ctx context.Context, key string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	return f.MemoryStore.Save(ctx, key, data)
}

func TestPersistSaveFailureGoesToSink(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	rt := observe.NewRuntime(observe.WithErrorSink(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	store := &failingStore{MemoryStore: NewMemoryStore()}
	n := observe.NewMutable(1, observe.WithRuntime(rt))
	_, err := Persist(context.Background(), n, store, "n")
	require.NoError(t, err)

	store.err = errors.New("disk full")
	require.NoError(t, n.Set(2), "save failures never reach the writer")

	require.Len(t, reported, 1)
	var serr *SaveError
	require.ErrorAs(t, reported[0], &serr)
	assert.Equal(t, "n", serr.Key)
	assert.ErrorIs(t, reported[0], store.err)
}

func TestPersistErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, "bad", []byte(`"not a number"`)))

	n := observe.NewMutable(0)
	_, err := Persist(ctx, n, store, "bad")
	assert.Error(t, err)

	_, err = Persist(ctx, n, store, "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	n.Close(observe.Reason("gone"))
	_, err = Persist(ctx, n, store, "n")
	assert.ErrorIs(t, err, observe.ErrClosed)
}
