package locks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryLock_ExclusiveByOwner(t *testing.T) {
	l := New()

	require.True(t, l.TryLock("x1", "k"))
	require.False(t, l.TryLock("x2", "k"))

	owner, held := l.Owner("k")
	require.True(t, held)
	require.Equal(t, "x1", owner)
}

func TestTryLock_ReentrantForSameXid(t *testing.T) {
	l := New()
	require.True(t, l.TryLock("x1", "k"))
	require.True(t, l.TryLock("x1", "k"))
	require.Equal(t, []string{"k"}, l.HeldKeys("x1"))
}

func TestReleaseAll(t *testing.T) {
	l := New()
	require.True(t, l.TryLock("x1", "a"))
	require.True(t, l.TryLock("x1", "b"))
	require.True(t, l.TryLock("x2", "c"))

	l.ReleaseAll("x1")

	require.Empty(t, l.HeldKeys("x1"))
	require.True(t, l.TryLock("x2", "a"), "released key must be free")
	require.Equal(t, []string{"a", "c"}, l.HeldKeys("x2"))

	// Releasing an xid with no locks is a no-op.
	l.ReleaseAll("x3")
}
