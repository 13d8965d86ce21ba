package policy

import (
	"fmt"
	"sort"
)

// Allocator is the standalone memory-allocator family signature (spec.md
// §4.7.5), invoked by schedulers that do not orchestrate memory
// themselves (Baseline, Greedy). BARM and SALBI orchestrate memory
// internally (TPMEMA, ORBIS) and never consult this family.
type Allocator func(ctx *Context)

// resolveAllocator maps MEM_ALLOCATION's standalone-allocator values
// (spec.md §6) to the concrete function. "salbi" is the one enum value
// this family does not cover: it panics here like any unknown mode, and
// the SALBI scheduler, which does its own allocation, never calls this.
func resolveAllocator(mode string) Allocator {
	switch mode {
	case "", "none":
		return allocateNone
	case "average":
		return Average
	case "mema":
		return MEMA
	case "r_mema":
		return RMEMA
	case "basla":
		return BASLA
	default:
		panic(fmt.Sprintf("unhandled mem allocation mode %q; valid modes: [none, average, mema, r_mema, basla]", mode))
	}
}

// allocateNone is spec.md §4.7.1's Memory (None): one shared cgroup keyed
// by SharedCGroupKey, sized to the whole VRAM.
func allocateNone(ctx *Context) {
	ctx.GMMU.SetCGroupType(false)
	total := ctx.VRAMBytes / ctx.PageSize
	for _, a := range ctx.Apps {
		ctx.GMMU.SetCGroupSize(a.ID, int(total))
	}
}

// Average splits VRAM pages evenly across applications, distributing the
// remainder one page at a time to earliest app IDs (spec.md §4.7.1).
func Average(ctx *Context) {
	ctx.GMMU.SetCGroupType(true)
	if len(ctx.Apps) == 0 {
		return
	}
	total := ctx.VRAMBytes / ctx.PageSize
	share := total / int64(len(ctx.Apps))
	remainder := total % int64(len(ctx.Apps))

	ids := make([]int, 0, len(ctx.Apps))
	for _, a := range ctx.Apps {
		ids = append(ids, a.ID)
	}
	sort.Ints(ids)

	for i, id := range ids {
		pages := share
		if int64(i) < remainder {
			pages++
		}
		ctx.GMMU.SetCGroupSize(id, int(pages))
	}
}

// MEMA allocates proportionally to each app's current demand — the
// memory-only counterpart of BARM's TPMEMA, usable by any scheduler that
// wants proportional-to-demand memory without BARM's SM policy.
func MEMA(ctx *Context) { tpmema(ctx) }

// RMEMA re-runs MEMA against remaining (not cumulative) demand: it first
// zeroes every cgroup, then lets the proportional split rebuild them from
// scratch, so an app whose demand shrank since the last pass gives pages
// back before the split runs.
func RMEMA(ctx *Context) {
	ctx.GMMU.SetCGroupType(true)
	for _, a := range ctx.Apps {
		ctx.GMMU.SetCGroupSize(a.ID, 0)
	}
	tpmema(ctx)
}

// BASLA splits VRAM proportionally to BASMD's workload score rather than
// raw memory demand, giving heavier-workload applications a
// correspondingly larger cgroup.
func BASLA(ctx *Context) {
	ctx.GMMU.SetCGroupType(true)
	type entry struct {
		id       int
		workload float64
	}
	var list []entry
	for _, a := range ctx.Apps {
		w := float64(a.ModelInfo.IOMemCount)*float64(len(a.RunningModels)) + float64(a.ModelInfo.FilterMemCount)
		list = append(list, entry{a.ID, w})
	}
	if len(list) == 0 {
		return
	}
	var total float64
	for _, e := range list {
		total += e.workload
	}
	if total == 0 {
		total = 1
	}
	pages := ctx.VRAMBytes / ctx.PageSize
	for _, e := range list {
		ctx.GMMU.SetCGroupSize(e.id, int(float64(pages)*e.workload/total))
	}
}
