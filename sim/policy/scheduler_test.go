package policy

import (
	"testing"

	"github.com/kunsheng/gpgpu-sim/sim/app"
	"github.com/kunsheng/gpgpu-sim/sim/gmmu"
	"github.com/kunsheng/gpgpu-sim/sim/gpu"
	"github.com/kunsheng/gpgpu-sim/sim/kernel"
	"github.com/stretchr/testify/require"
)

func readyKernel(id kernel.ID, appID int) *kernel.Kernel {
	layer := kernel.LayerInfo{LayerID: 1, FilterMem: 100, IFMapMem: 50, OFMapMem: 50}
	return kernel.NewKernel(id, appID, 0, layer, []*kernel.Request{{ID: 0}}, nil)
}

func newTestCtx(numApps, smTotal int) (*Context, []*app.Application) {
	g := gmmu.New(gmmu.Config{PCIeAccessBound: 64}, false)
	gp := gpu.New(smTotal, 4, 8, 4, 32, 4)
	var apps []*app.Application
	for i := 0; i < numApps; i++ {
		info := app.ModelInfo{IOMemCount: int64(100 * (i + 1)), FilterMemCount: 50}
		apps = append(apps, app.New(i, "lenet", info, nil))
	}
	return &Context{Apps: apps, GMMU: g, GPU: gp, SMTotal: smTotal, PageSize: 4096, VRAMBytes: 4096 * 1000}, apps
}

func TestBaseline_AdmitsAndLaunchesReadyKernel(t *testing.T) {
	ctx, apps := newTestCtx(1, 4)
	k := readyKernel(1, 0)
	m := app.NewModel(0, 0, []*kernel.Kernel{k}, 0)
	apps[0].Enqueue(m)

	NewBaseline(nil).Sched(ctx)

	require.Len(t, apps[0].SMBudget, 4)
	require.Len(t, apps[0].RunningModels, 1)
	require.Len(t, ctx.GPU.CommandQueue, 1)
	require.Equal(t, apps[0].SMBudget, ctx.GPU.CommandQueue[0].SMSet)
}

func TestGreedy_SkipsAdmissionWhenAnySMBusy(t *testing.T) {
	ctx, apps := newTestCtx(1, 2)
	busy := readyKernel(99, 0)
	busy.SMSet = map[int]bool{0: true}
	ctx.GPU.LaunchKernel(busy)
	ctx.GPU.Tick(0) // binds busy onto SM 0, leaving it non-idle

	k := readyKernel(1, 0)
	m := app.NewModel(0, 0, []*kernel.Kernel{k}, 0)
	apps[0].Enqueue(m)

	NewGreedy(nil).Sched(ctx)

	require.Len(t, apps[0].WaitingModels, 1, "admission must not run while any SM is busy")
}

func TestGreedy_AdmitsWhenFullyIdle(t *testing.T) {
	ctx, apps := newTestCtx(1, 2)
	k := readyKernel(1, 0)
	m := app.NewModel(0, 0, []*kernel.Kernel{k}, 0)
	apps[0].Enqueue(m)

	NewGreedy(nil).Sched(ctx)

	require.Empty(t, apps[0].WaitingModels)
	require.Len(t, apps[0].RunningModels, 1)
}

func TestBARM_AllocatesMoreSMsToHigherWorkloadApp(t *testing.T) {
	ctx, apps := newTestCtx(2, 8)
	for i, a := range apps {
		k := readyKernel(kernel.ID(i+1), a.ID)
		m := app.NewModel(0, a.ID, []*kernel.Kernel{k}, 0)
		a.Enqueue(m)
	}

	NewBARM().Sched(ctx)

	require.True(t, len(apps[1].SMBudget) >= len(apps[0].SMBudget),
		"app 1 has double app 0's IOMemCount, so should get at least as many SMs")
	require.Len(t, ctx.GPU.CommandQueue, 2)
}

func TestLazyBatching_HoldsModelBackPastBatchBudget(t *testing.T) {
	ctx, apps := newTestCtx(1, 4)
	l := NewLazyBatching(1)

	first := app.NewModel(0, 0, []*kernel.Kernel{readyKernel(1, 0)}, 1_000_000)
	second := app.NewModel(1, 0, []*kernel.Kernel{readyKernel(2, 0)}, 1_000_000)
	apps[0].Enqueue(first)
	apps[0].Enqueue(second)
	apps[0].Admit() // lazy-batching walks RunningModels directly, not waiting

	l.Sched(ctx)

	budgeted := 0
	for _, m := range apps[0].RunningModels {
		if len(m.SMBudget) > 0 {
			budgeted++
		}
	}
	require.Equal(t, 1, budgeted, "only one model should fit inside a batch budget of 1")
}

func TestSALBI_AssignsAtLeastOneSMPerRunningApp(t *testing.T) {
	ctx, apps := newTestCtx(2, 8)
	for i, a := range apps {
		k := readyKernel(kernel.ID(i+1), a.ID)
		m := app.NewModel(0, a.ID, []*kernel.Kernel{k}, 0)
		a.Enqueue(m)
	}

	NewSALBI().Sched(ctx)

	for _, a := range apps {
		require.NotEmpty(t, a.SMBudget, "every running app must get at least one SM")
	}
	require.Len(t, ctx.GPU.CommandQueue, 2)
}

func TestAverage_SplitsVRAMEvenlyWithRemainderToEarliestApp(t *testing.T) {
	ctx, apps := newTestCtx(3, 4)
	Average(ctx)

	cg0 := ctx.GMMU.CGroup(apps[0].ID)
	cg1 := ctx.GMMU.CGroup(apps[1].ID)
	cg2 := ctx.GMMU.CGroup(apps[2].ID)

	total := cg0.Capacity() + cg1.Capacity() + cg2.Capacity()
	require.Equal(t, 1000, total)
	require.GreaterOrEqual(t, cg0.Capacity(), cg1.Capacity())
}
