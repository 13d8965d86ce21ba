// Package policy implements the scheduler family: a uniform three-phase
// (admission -> kernel launch -> memory allocation) interface with
// concrete Baseline, Greedy, BARM, Lazy-Batching, and SALBI policies.
//
// Grounded on original_source/src/Scheduler.cpp (the Sched() dispatch
// shape and the factory-by-mode construction) and src/Scheduler_BARM.cpp,
// src/Scheduler_LazyB.cpp, src/Scheduler_SALBI.cpp for the policy-specific
// arithmetic; spec.md §4.7 supplies the exact tie-breaking rules those
// files only imply.
package policy

import (
	"fmt"

	"github.com/kunsheng/gpgpu-sim/sim/app"
	"github.com/kunsheng/gpgpu-sim/sim/gmmu"
	"github.com/kunsheng/gpgpu-sim/sim/gpu"
	"github.com/kunsheng/gpgpu-sim/sim/kernel"
)

// Context bundles everything a scheduler phase needs for one CPU tick.
type Context struct {
	Apps      []*app.Application
	GMMU      *gmmu.GMMU
	GPU       *gpu.GPU
	SMTotal   int
	PageSize  int64
	VRAMBytes int64
	Cycle     int64
}

// Scheduler is the three-phase interface spec.md §4.7 names, run in order
// every CPU tick. It returns the kernels that finished since the previous
// call (already reconciled against their original KernelGroup members, if
// any), so the caller can persist completion records without reaching
// into scheduler-private bookkeeping.
type Scheduler interface {
	Sched(ctx *Context) []*kernel.Kernel
}

// Config gathers the construction knobs the concrete policies need.
type Config struct {
	LazyMaxBatchSize int
	MemAllocation    string // only consulted by Baseline/Greedy; see resolveAllocator
}

// NewScheduler builds a scheduler by name, mirroring the teacher's
// panic-on-unknown factory idiom. Valid names: "baseline", "greedy",
// "barm", "lazy-batching", "salbi".
func NewScheduler(name string, cfg Config) Scheduler {
	switch name {
	case "baseline":
		return NewBaseline(resolveAllocator(cfg.MemAllocation))
	case "greedy":
		return NewGreedy(resolveAllocator(cfg.MemAllocation))
	case "barm":
		return NewBARM()
	case "lazy-batching":
		return NewLazyBatching(cfg.LazyMaxBatchSize)
	case "salbi":
		return NewSALBI()
	default:
		panic(fmt.Sprintf("unhandled scheduler mode %q; valid modes: [baseline, greedy, barm, lazy-batching, salbi]", name))
	}
}

// groupTracker remembers which member kernels a launched KernelGroup was
// synthesized from, so that when the GPU reports the merged kernel
// finished, every original model kernel gets its Finish flag propagated
// (spec.md §9's Design Note: a KernelGroup is a fan-in wrapper, not a new
// kind of kernel the rest of the system needs to know about).
type groupTracker struct {
	groups map[kernel.ID][]*kernel.Kernel
	nextID kernel.ID
}

func newGroupTracker() *groupTracker {
	return &groupTracker{groups: map[kernel.ID][]*kernel.Kernel{}, nextID: -1}
}

// launch wraps ready in a KernelGroup if there is more than one member,
// assigns smSet, marks every member Running, and hands the result to the
// GPU. A launch the GPU rejects (empty requests) rolls the Running flags
// back so the model re-offers the kernels next tick.
func (t *groupTracker) launch(g *gpu.GPU, smSet map[int]bool, ready []*kernel.Kernel) {
	if len(ready) == 0 {
		return
	}
	var k *kernel.Kernel
	if len(ready) > 1 {
		id := t.nextID
		t.nextID--
		k = kernel.Group(id, ready)
		t.groups[id] = ready
	} else {
		k = ready[0]
	}
	k.SMSet = smSet
	for _, m := range ready {
		m.Running = true
	}
	if !g.LaunchKernel(k) {
		for _, m := range ready {
			m.Running = false
		}
		delete(t.groups, k.ID)
	}
}

// reap drains the GPU's finished-kernel list, propagates completion back
// onto every original group member, and returns the drained (merged)
// kernels so the caller can persist their block records.
func (t *groupTracker) reap(g *gpu.GPU) []*kernel.Kernel {
	done := g.DrainFinished()
	for _, k := range done {
		members, ok := t.groups[k.ID]
		if !ok {
			continue
		}
		for _, m := range members {
			m.Finish = true
			m.Running = false
			m.Requests = nil
		}
		delete(t.groups, k.ID)
	}
	return done
}

// readyGroupForApp collects every ready kernel across an application's
// running models and narrows to the subset sharing the smallest layer ID
// (spec.md §4.7.1's Launcher: "Group those sharing the smallest layer_id").
func readyGroupForApp(a *app.Application) []*kernel.Kernel {
	var all []*kernel.Kernel
	for _, m := range a.RunningModels {
		all = append(all, m.ReadyKernels()...)
	}
	return smallestLayerGroup(all)
}

func smallestLayerGroup(ready []*kernel.Kernel) []*kernel.Kernel {
	if len(ready) == 0 {
		return nil
	}
	min := ready[0].Layer.LayerID
	for _, k := range ready {
		if k.Layer.LayerID < min {
			min = k.Layer.LayerID
		}
	}
	var group []*kernel.Kernel
	for _, k := range ready {
		if k.Layer.LayerID == min {
			group = append(group, k)
		}
	}
	return group
}

func minKernelID(ks []*kernel.Kernel) kernel.ID {
	min := ks[0].ID
	for _, k := range ks {
		if k.ID < min {
			min = k.ID
		}
	}
	return min
}

func cloneSMSet(s map[int]bool) map[int]bool {
	out := make(map[int]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func fullSMSet(n int) map[int]bool {
	s := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		s[i] = true
	}
	return s
}

func allIdle(g *gpu.GPU) bool {
	return len(g.IdleSMs()) == len(g.SMs)
}

func ceilDiv64(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func launchReadyAll(tracker *groupTracker, ctx *Context) {
	for _, a := range ctx.Apps {
		group := readyGroupForApp(a)
		if len(group) == 0 {
			continue
		}
		tracker.launch(ctx.GPU, cloneSMSet(a.SMBudget), group)
	}
}

// Baseline is spec.md §4.7.1's baseline policy: every application's
// sm_budget is the full SM set, waiting models are admitted
// unconditionally, and memory uses the configured standalone allocator
// (a single shared cgroup when none is given).
type Baseline struct {
	tracker  *groupTracker
	allocate Allocator
}

// NewBaseline builds a Baseline scheduler using allocate for its memory
// phase (spec.md §4.7.5's standalone-allocator family; defaults to
// allocateNone when allocate is nil).
func NewBaseline(allocate Allocator) *Baseline {
	if allocate == nil {
		allocate = allocateNone
	}
	return &Baseline{tracker: newGroupTracker(), allocate: allocate}
}

func (b *Baseline) Sched(ctx *Context) []*kernel.Kernel {
	done := b.tracker.reap(ctx.GPU)
	admitAll(ctx)
	launchReadyAll(b.tracker, ctx)
	b.allocate(ctx)
	return done
}

func admitAll(ctx *Context) {
	for _, a := range ctx.Apps {
		a.SMBudget = fullSMSet(ctx.SMTotal)
		a.Admit()
	}
}

// Greedy is the Baseline admission gated on every SM being idle —
// sequential one-at-a-time inference (spec.md §4.7.1).
type Greedy struct {
	tracker  *groupTracker
	allocate Allocator
}

// NewGreedy builds a Greedy scheduler using allocate for its memory phase,
// as NewBaseline.
func NewGreedy(allocate Allocator) *Greedy {
	if allocate == nil {
		allocate = allocateNone
	}
	return &Greedy{tracker: newGroupTracker(), allocate: allocate}
}

func (g *Greedy) Sched(ctx *Context) []*kernel.Kernel {
	done := g.tracker.reap(ctx.GPU)
	if allIdle(ctx.GPU) {
		admitAll(ctx)
	}
	launchReadyAll(g.tracker, ctx)
	g.allocate(ctx)
	return done
}
