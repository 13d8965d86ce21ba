package policy

import (
	"math"
	"sort"

	"github.com/kunsheng/gpgpu-sim/sim/kernel"
)

// BARM pairs BASMD SM dispatch with TPMEMA proportional memory
// allocation, grounded directly on original_source/src/Scheduler_BARM.cpp
// (BASMD/TPMEMA are transcribed arithmetic-for-arithmetic since spec.md
// §4.7.2 only gives the shape, not the remainder-distribution tie-break).
type BARM struct {
	tracker *groupTracker
}

func NewBARM() *BARM { return &BARM{tracker: newGroupTracker()} }

func (b *BARM) Sched(ctx *Context) []*kernel.Kernel {
	done := b.tracker.reap(ctx.GPU)
	if !basmd(ctx) {
		return done
	}
	launchReadyAll(b.tracker, ctx)
	tpmema(ctx)
	return done
}

// basmd implements Scheduler_BARM::BASMD: admit every waiting model, then
// sort apps by workload = io_mem * |running_models| + filter_mem
// ascending, and hand out SMs proportional to workload share (at least
// one per app), with any round-off remainder going to the first app.
func basmd(ctx *Context) bool {
	for _, a := range ctx.Apps {
		a.Admit()
	}

	type entry struct {
		idx      int
		workload float64
	}
	var list []entry
	for i, a := range ctx.Apps {
		w := float64(a.ModelInfo.IOMemCount)*float64(len(a.RunningModels)) + float64(a.ModelInfo.FilterMemCount)
		list = append(list, entry{i, w})
	}
	if len(list) == 0 {
		return false
	}
	sort.Slice(list, func(i, j int) bool { return list[i].workload < list[j].workload })

	var total float64
	for _, e := range list {
		total += e.workload
	}
	if total == 0 {
		total = 1
	}

	for _, a := range ctx.Apps {
		a.SMBudget = map[int]bool{}
	}

	smCount := 0
	for _, e := range list {
		n := int(math.Round(float64(ctx.SMTotal) * e.workload / total))
		if n < 1 {
			n = 1
		}
		for i := 0; i < n && smCount < ctx.SMTotal; i++ {
			ctx.Apps[e.idx].SMBudget[smCount] = true
			smCount++
		}
	}
	for smCount < ctx.SMTotal {
		ctx.Apps[list[0].idx].SMBudget[smCount] = true
		smCount++
	}
	return true
}

// tpmema implements Scheduler_BARM::TPMEMA: switch to per-app cgroup
// isolation, compute each app's page demand from running+queued kernels,
// sort ascending, and distribute VRAM pages — capped demand first, then
// the leftover split evenly, then one page at a time to the smallest
// remaining apps.
func tpmema(ctx *Context) {
	ctx.GMMU.SetCGroupType(true)

	memRecord := map[int]int64{}
	for _, k := range ctx.GPU.RunningKernels {
		memRecord[k.AppID] += ceilDiv64(k.Layer.NumOfMemory(), ctx.PageSize)
	}
	for _, k := range ctx.GPU.CommandQueue {
		memRecord[k.AppID] += ceilDiv64(k.Layer.NumOfMemory(), ctx.PageSize)
	}
	if len(memRecord) == 0 {
		return
	}

	type entry struct {
		appID int
		pages int64
	}
	var budget []entry
	for id, pages := range memRecord {
		budget = append(budget, entry{id, pages})
	}
	sort.Slice(budget, func(i, j int) bool { return budget[i].pages < budget[j].pages })

	appNum := len(budget)
	remaining := ctx.VRAMBytes / ctx.PageSize
	for i := range budget {
		if remaining < budget[i].pages {
			budget[i].pages = remaining / int64(appNum)
		}
		remaining -= budget[i].pages
		appNum--
	}

	extra := remaining / int64(len(budget))
	for i := range budget {
		budget[i].pages += extra
		remaining -= extra
	}

	for i := range budget {
		if remaining == 0 {
			break
		}
		budget[i].pages++
		remaining--
	}

	for _, e := range budget {
		ctx.GMMU.SetCGroupSize(e.appID, int(e.pages))
	}
}
