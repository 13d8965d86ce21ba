package lru

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCache_InsertLookupRoundTrip(t *testing.T) {
	c := New[int, string](2)

	evicted, ok := c.Insert(1, "a")
	require.False(t, ok)
	require.Empty(t, evicted)

	v, ok := c.Lookup(1)
	require.True(t, ok)
	require.Equal(t, "a", v)
}

func TestCache_EvictsLRUOnOverflow(t *testing.T) {
	c := New[int, string](2)
	c.Insert(1, "a")
	c.Insert(2, "b")

	// promote 1 to MRU, so 2 becomes LRU
	_, _ = c.Lookup(1)

	evicted, ok := c.Insert(3, "c")
	require.True(t, ok)
	require.Equal(t, "b", evicted)

	_, ok = c.Lookup(2)
	require.False(t, ok, "evicted key must be absent")

	for _, k := range []int{1, 3} {
		_, ok := c.Lookup(k)
		require.True(t, ok)
	}
}

func TestCache_UpdateExistingKeyNeverEvicts(t *testing.T) {
	c := New[int, string](1)
	c.Insert(1, "a")
	evicted, ok := c.Insert(1, "b")
	require.False(t, ok)
	require.Empty(t, evicted)

	v, _ := c.Lookup(1)
	require.Equal(t, "b", v)
}

func TestCache_ResizeShrinksEvictingLRUFirst(t *testing.T) {
	c := New[int, int](4)
	for i := 0; i < 4; i++ {
		c.Insert(i, i*10)
	}
	evicted := c.Resize(2)
	require.Len(t, evicted, 2)
	require.Equal(t, 2, c.Usage())
	require.LessOrEqual(t, c.Usage(), c.Capacity())

	// the two oldest (0, 1) must be gone, two newest remain
	_, ok0 := c.Lookup(0)
	_, ok1 := c.Lookup(1)
	require.False(t, ok0)
	require.False(t, ok1)
}

func TestCache_ResizeGrowDoesNotEvict(t *testing.T) {
	c := New[int, int](1)
	c.Insert(1, 1)
	c.Resize(10)
	require.Equal(t, 10, c.Capacity())
	require.Equal(t, 1, c.Usage())
}

func TestCache_ReleasePredicate(t *testing.T) {
	c := New[int, int](10)
	for i := 0; i < 5; i++ {
		c.Insert(i, i)
	}
	count := c.Release(func(v int) bool { return v%2 == 0 })
	require.Equal(t, 3, count) // 0, 2, 4
	require.Equal(t, 2, c.Usage())
}

func TestCache_KeysValuesOrderedLRUToMRU(t *testing.T) {
	c := New[int, int](3)
	c.Insert(1, 10)
	c.Insert(2, 20)
	c.Insert(3, 30)
	_, _ = c.Lookup(1) // promote 1 to MRU: order becomes 2, 3, 1

	require.Equal(t, []int{2, 3, 1}, c.Keys())
	require.Equal(t, []int{20, 30, 10}, c.Values())
}

func TestCache_ZeroCapacityAlwaysEvictsImmediately(t *testing.T) {
	c := New[int, int](0)
	evicted, ok := c.Insert(1, 99)
	require.True(t, ok)
	require.Equal(t, 99, evicted)
	require.Equal(t, 0, c.Usage())
}

func TestCache_RemoveReportsPresence(t *testing.T) {
	c := New[int, int](2)
	c.Insert(1, 1)
	v, ok := c.Remove(1)
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = c.Remove(1)
	require.False(t, ok)
}
