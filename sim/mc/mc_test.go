package mc

import (
	"testing"

	"github.com/kunsheng/gpgpu-sim/sim/page"
	"github.com/stretchr/testify/require"
)

func newTestController() (*Controller, *page.Store) {
	store := page.NewStore(4096, 0, false)
	return NewController(store, 4), store
}

func TestController_TickIncrementsCountersAndForwards(t *testing.T) {
	c, store := newTestController()
	head := c.Allocate(4096 * 2)

	ids := []page.ID{head, store.Refer(head).Next}
	c.GMMUToMC = append(c.GMMUToMC, &Access{AppID: 1, Kind: Read, PageIDs: ids})

	c.Tick()

	require.Len(t, c.MCToGMMU, 1)
	require.Empty(t, c.GMMUToMC)
	for _, id := range ids {
		require.EqualValues(t, 1, store.Refer(id).Counters.Read)
		require.EqualValues(t, 1, store.Refer(id).Counters.Access)
	}
}

func TestController_TickPanicsOnNonVRAMPage(t *testing.T) {
	c, store := newTestController()
	head := c.Allocate(4096)
	store.Refer(head).Location = page.DRAM

	c.GMMUToMC = append(c.GMMUToMC, &Access{Kind: Write, PageIDs: []page.ID{head}})

	require.Panics(t, func() { c.Tick() })
}

func TestController_AllocateReleaseRoundTrip(t *testing.T) {
	c, store := newTestController()
	head := c.Allocate(4096 * 3)
	require.Equal(t, 3, store.UsedCount())

	c.Release(head)
	require.Equal(t, 0, store.UsedCount())
	require.Equal(t, 3, store.FreeCount())
}
