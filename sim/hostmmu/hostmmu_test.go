package hostmmu

import (
	"testing"

	"github.com/kunsheng/gpgpu-sim/sim/page"
	"github.com/stretchr/testify/require"
)

func TestMMU_AllocateAndTranslateRoundTrip(t *testing.T) {
	store := page.NewStore(4096, 0, false)
	m := New(store, 4)

	h := m.Allocate(4096 * 2)
	head, ok := m.Translate(h)
	require.True(t, ok)
	require.NotEqual(t, page.NoPage, head)
	require.True(t, store.InUse(head))
}

func TestMMU_ReleaseFreesPages(t *testing.T) {
	store := page.NewStore(4096, 0, false)
	m := New(store, 4)

	h := m.Allocate(4096)
	head, _ := m.Translate(h)
	m.Release(h)

	_, ok := m.Translate(h)
	require.False(t, ok)
	require.False(t, store.InUse(head))
}

func TestMMU_EvictionReleasesPagesOfLRUHandle(t *testing.T) {
	store := page.NewStore(4096, 0, false)
	m := New(store, 2)

	h1 := m.Allocate(4096)
	head1, _ := m.Translate(h1)
	m.Allocate(4096)
	m.Allocate(4096) // evicts h1 (LRU), since capacity is 2

	require.False(t, store.InUse(head1))
	_, ok := m.Translate(h1)
	require.False(t, ok)
}
