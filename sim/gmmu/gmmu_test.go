package gmmu

import (
	"testing"

	"github.com/kunsheng/gpgpu-sim/sim/mc"
	"github.com/kunsheng/gpgpu-sim/sim/page"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		PCIeAccessBound:             8,
		PageFaultCommunicationCycle: 10,
		PageFaultMigrationUnitCycle: 2,
		PenaltyEnabled:              true,
	}
}

func setup(t *testing.T) (*GMMU, *mc.Controller) {
	t.Helper()
	store := page.NewStore(4096, 0, true) // COMPULSORY_MISS: pages start in DRAM
	ctrl := mc.NewController(store, 4)
	g := New(testConfig(), true)
	return g, ctrl
}

func TestGMMU_MissEntersMSHRThenMigrates(t *testing.T) {
	g, ctrl := setup(t)
	g.SetCGroupSize(1, 4)

	head := ctrl.Allocate(4096 * 2)
	pages := []page.ID{head, ctrl.Refer(head).Next}

	access := &mc.Access{AppID: 1, ModelID: 1, Kind: mc.Read, PageIDs: pages}
	out := g.Tick(ctrl, []*mc.Access{access})
	require.Empty(t, out)
	// The fault handler runs before access processing, so a miss recorded
	// on this tick is only scheduled for migration on the next one.
	g.Tick(ctrl, nil)
	require.Positive(t, g.WaitCycle())
	require.Equal(t, 1, g.PendingFaultCount())

	// drain the migration delay
	for g.WaitCycle() > 0 {
		g.Tick(ctrl, nil)
	}
	out = g.Tick(ctrl, nil)
	require.Empty(t, out, "a migration-resolved access is reclassified as a hit, not delivered straight back")
	require.Equal(t, 0, g.PendingFaultCount())
	require.Len(t, ctrl.GMMUToMC, 1, "reclassified access re-enters the GMMU->MC queue like any other hit")

	for _, pid := range pages {
		require.Equal(t, page.VRAM, ctrl.Refer(pid).Location)
		require.Zero(t, ctrl.Refer(pid).Counters.Access, "counters increment only once the MC actually ticks")
	}

	ctrl.Tick()
	out = g.Tick(ctrl, nil)
	require.Len(t, out, 1, "access is delivered back to the warp one MC round-trip after migration commits")
	for _, pid := range pages {
		require.Equal(t, int64(1), ctrl.Refer(pid).Counters.Access)
	}
}

func TestGMMU_TerminateModelPurgesMCQueuesToo(t *testing.T) {
	g, ctrl := setup(t)
	g.SetCGroupSize(1, 10)

	vramPage := ctrl.Allocate(4096)
	ctrl.Refer(vramPage).Location = page.VRAM
	g.CGroup(1).Insert(vramPage, ctrl.Refer(vramPage))

	inFlight := &mc.Access{AppID: 1, ModelID: 7, PageIDs: []page.ID{vramPage}}
	ctrl.GMMUToMC = append(ctrl.GMMUToMC, inFlight)
	ctrl.MCToGMMU = append(ctrl.MCToGMMU, inFlight)

	g.TerminateModel(ctrl, 1, 7)

	require.Empty(t, ctrl.GMMUToMC)
	require.Empty(t, ctrl.MCToGMMU)
}

func TestGMMU_HitGoesStraightToMC(t *testing.T) {
	g, ctrl := setup(t)
	g.SetCGroupSize(1, 4)

	head := ctrl.Allocate(4096)
	ctrl.Refer(head).Location = page.VRAM
	g.CGroup(1).Insert(head, ctrl.Refer(head))

	access := &mc.Access{AppID: 1, Kind: mc.Read, PageIDs: []page.ID{head}}
	out := g.Tick(ctrl, []*mc.Access{access})
	require.Empty(t, out)
	require.Len(t, ctrl.GMMUToMC, 1)
	require.Equal(t, int64(0), g.WaitCycle())
}

func TestGMMU_FaultBudgetCapsMigrationBatch(t *testing.T) {
	g, ctrl := setup(t)
	g.cfg.PCIeAccessBound = 2
	g.SetCGroupSize(1, 10)

	head := ctrl.Allocate(4096 * 4) // 4 pages, budget only admits 2
	ids := []page.ID{}
	for p := head; p != page.NoPage; p = ctrl.Refer(p).Next {
		ids = append(ids, p)
	}
	require.Len(t, ids, 4)

	access := &mc.Access{AppID: 1, PageIDs: ids}
	g.Tick(ctrl, []*mc.Access{access})

	total := 0
	for _, pages := range g.pageFaultProcessQueue {
		total += len(pages)
	}
	require.LessOrEqual(t, total, 2)
	require.Len(t, g.mshrs, 1, "access exceeding the budget stays in MSHRs")
}

func TestGMMU_SelfThrashingSkipped(t *testing.T) {
	g, ctrl := setup(t)
	g.SetCGroupSize(1, 1) // capacity far smaller than demand

	head := ctrl.Allocate(4096 * 3)
	ids := []page.ID{}
	for p := head; p != page.NoPage; p = ctrl.Refer(p).Next {
		ids = append(ids, p)
	}

	access := &mc.Access{AppID: 1, PageIDs: ids}
	g.Tick(ctrl, []*mc.Access{access})

	require.Empty(t, g.pageFaultProcessQueue[1])
	require.Len(t, g.mshrs, 1)
}

func TestGMMU_TerminateModelPurgesQueues(t *testing.T) {
	g, ctrl := setup(t)
	g.SetCGroupSize(1, 10)

	head := ctrl.Allocate(4096 * 2)
	ids := []page.ID{head, ctrl.Refer(head).Next}
	access := &mc.Access{AppID: 1, ModelID: 42, PageIDs: ids}
	g.Tick(ctrl, []*mc.Access{access})
	g.Tick(ctrl, nil) // the miss is scheduled for migration on the tick after it is recorded
	require.NotEmpty(t, g.pageFaultProcessQueue)

	g.TerminateModel(ctrl, 1, 42)

	require.Empty(t, g.mshrs)
	require.Empty(t, g.pageFaultFinishQueue)
	require.Empty(t, g.pageFaultProcessQueue)
	require.Equal(t, int64(0), g.WaitCycle())
}

func TestGMMU_TerminateModelIdempotent(t *testing.T) {
	g, ctrl := setup(t)
	require.NotPanics(t, func() {
		g.TerminateModel(ctrl, 1, 1)
		g.TerminateModel(ctrl, 1, 1)
	})
}

func TestGMMU_SetCGroupSizeShrinkEvictsToDRAM(t *testing.T) {
	g, ctrl := setup(t)
	g.SetCGroupSize(1, 4)

	head := ctrl.Allocate(4096 * 4)
	ids := []page.ID{}
	for p := head; p != page.NoPage; p = ctrl.Refer(p).Next {
		ctrl.Refer(p).Location = page.VRAM
		g.CGroup(1).Insert(p, ctrl.Refer(p))
		ids = append(ids, p)
	}

	g.SetCGroupSize(1, 2)
	evictedToDRAM := 0
	for _, pid := range ids {
		if ctrl.Refer(pid).Location == page.DRAM {
			evictedToDRAM++
		}
	}
	require.Equal(t, 2, evictedToDRAM)
}

func TestGMMU_FreeCGroupOnlyReleasesDRAMPages(t *testing.T) {
	g, ctrl := setup(t)
	g.SetCGroupSize(1, 4)

	vramPage := ctrl.Allocate(4096)
	ctrl.Refer(vramPage).Location = page.VRAM
	g.CGroup(1).Insert(vramPage, ctrl.Refer(vramPage))

	dramPage := ctrl.Allocate(4096)
	ctrl.Refer(dramPage).Location = page.DRAM
	g.CGroup(1).Insert(dramPage, ctrl.Refer(dramPage))

	released := g.FreeCGroup(1)
	require.Equal(t, 1, released)
	_, stillResident := g.CGroup(1).Peek(vramPage)
	require.True(t, stillResident)
}
