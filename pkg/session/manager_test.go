package session

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/observe/pkg/observe"
)

func newTestManager(t *testing.T, config ManagerConfig) (*Manager, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	rt := observe.NewRuntime(observe.WithMetrics(observe.NewMetrics(observe.WithRegistry(reg))))
	return NewManager(rt, config, nil), reg
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestManagerCreateAndGet(t *testing.T) {
	m, reg := newTestManager(t, DefaultManagerConfig())

	sess, err := m.Create()
	require.NoError(t, err)
	_, err = uuid.Parse(sess.ID)
	assert.NoError(t, err, "session IDs are UUIDs")

	got, ok := m.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, float64(1), gaugeValue(t, reg, "observe_active_sessions"))

	require.NoError(t, m.Close(sess.ID, observe.Reason("logout")))
	assert.True(t, sess.Closed())
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, float64(0), gaugeValue(t, reg, "observe_active_sessions"))

	assert.ErrorIs(t, m.Close(sess.ID, observe.Reason("again")), ErrSessionNotFound)
}

func TestManagerForgetsSelfClosedSession(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())
	sess, err := m.Create()
	require.NoError(t, err)

	sess.Close(observe.Reason("client left"))
	_, ok := m.Get(sess.ID)
	assert.False(t, ok)
}

func TestManagerLimit(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxSessions: 2})
	next := 0
	m.newID = func() string {
		next++
		return fmt.Sprintf("s%d", next)
	}

	a, err := m.Create()
	require.NoError(t, err)
	_, err = m.Create()
	require.NoError(t, err)
	_, err = m.Create()
	assert.ErrorIs(t, err, ErrTooManySessions)

	a.Close(observe.Reason("done"))
	c, err := m.Create()
	require.NoError(t, err)
	assert.Equal(t, "s3", c.ID)
}

func TestManagerShutdown(t *testing.T) {
	m, reg := newTestManager(t, DefaultManagerConfig())
	var nodes []*observe.Mutable[int]
	for i := 0; i < 3; i++ {
		sess, err := m.Create()
		require.NoError(t, err)
		n := observe.NewMutable(i, sess.NodeOptions()...)
		require.NoError(t, BindMutable[int](sess, "n", n))
		nodes = append(nodes, n)
	}

	assert.Equal(t, 3, m.Shutdown(observe.Reason("server stopping")))
	for _, n := range nodes {
		assert.True(t, n.Closed())
	}
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, float64(0), gaugeValue(t, reg, "observe_active_sessions"))

	_, err := m.Create()
	assert.ErrorIs(t, err, ErrManagerStopped)
	assert.Zero(t, m.Shutdown(observe.Reason("again")))
}

func TestManagerSessionsShareRuntime(t *testing.T) {
	m, _ := newTestManager(t, DefaultManagerConfig())
	a, _ := m.Create()
	b, _ := m.Create()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Same(t, a.Runtime(), b.Runtime())
	assert.NotSame(t, a.Scope(), b.Scope())
}
