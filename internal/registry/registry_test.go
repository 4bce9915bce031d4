package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starksama/herald/internal/registry"
)

func TestRegistry_LastWriterWins(t *testing.T) {
	r := registry.New()

	a := registry.NewConnection("conn_a", "sub_1")
	b := registry.NewConnection("conn_b", "sub_1")

	r.Register(a)
	r.Register(b)

	got, ok := r.Get("sub_1")
	require.True(t, ok)
	assert.Equal(t, "conn_b", got.ConnectionID)

	r.Unregister("sub_1")
	_, ok = r.Get("sub_1")
	assert.False(t, ok)
}

func TestRegistry_UnregisterUnknown_NoOp(t *testing.T) {
	r := registry.New()
	assert.NotPanics(t, func() { r.Unregister("sub_does_not_exist") })
}

func TestRegistry_UnregisterConn_DoesNotEvictNewer(t *testing.T) {
	r := registry.New()

	a := registry.NewConnection("conn_a", "sub_1")
	b := registry.NewConnection("conn_b", "sub_1")

	r.Register(a)
	r.Register(b)

	// a's own teardown path fires after b has already displaced it.
	r.UnregisterConn(a)

	got, ok := r.Get("sub_1")
	require.True(t, ok)
	assert.Equal(t, "conn_b", got.ConnectionID)
}

func TestTrySend_FullChannelFails(t *testing.T) {
	c := registry.NewConnection("conn_a", "sub_1")

	for i := 0; i < 64; i++ {
		ok := registry.TrySend(c, []byte("x"))
		require.True(t, ok)
	}

	ok := registry.TrySend(c, []byte("overflow"))
	assert.False(t, ok, "65th send into a capacity-64 channel must fail rather than block")
}

func TestTrySend_ClosedChannelFails(t *testing.T) {
	c := registry.NewConnection("conn_a", "sub_1")
	c.Close()

	ok := registry.TrySend(c, []byte("x"))
	assert.False(t, ok)
}
