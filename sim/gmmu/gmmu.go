// Package gmmu implements the hard core of the simulator: per-application
// VRAM page groups with LRU eviction, page-fault coalescing across
// outstanding misses, optional sequential prefetch, and a migration-
// penalty state machine.
//
// Grounded directly on original_source/src/GMMU.cpp (cycle ->
// Page_Fault_Handler -> Access_Processing, in that order every tick) and
// spec.md §4.4, which spells out the same five-step fault protocol.
package gmmu

import (
	"fmt"
	"sort"

	"github.com/kunsheng/gpgpu-sim/sim/lru"
	"github.com/kunsheng/gpgpu-sim/sim/mc"
	"github.com/kunsheng/gpgpu-sim/sim/page"
	"github.com/sirupsen/logrus"
)

// SharedCGroupKey is the wildcard application key used when memory
// isolation is disabled (MEM_ALLOCATION=None): every application shares
// one cgroup.
const SharedCGroupKey = -1

// Config groups the GMMU's design-time knobs (spec.md §6).
type Config struct {
	PCIeAccessBound              int
	PageFaultCommunicationCycle  int64
	PageFaultMigrationUnitCycle  int64
	PagePrefetch                 bool
	PenaltyEnabled               bool // ENABLE_PAGE_FAULT_PENALTY; if false, migration always costs 1 cycle
}

// GMMU owns the per-app page groups and the fault-handling state machine.
type GMMU struct {
	cfg Config

	isolated bool // cgroup mode: true = per-app isolation, false = one shared cgroup keyed by SharedCGroupKey
	cgroups  map[int]*lru.Cache[page.ID, *page.Page]

	mshrs []*mc.Access // miss-status holding registers, arrival order preserved

	pageFaultFinishQueue  []*mc.Access
	pageFaultProcessQueue map[int]map[page.ID]bool // appID -> pages in flight

	waitCycle int64

	// reclassify carries accesses whose migration just committed from the
	// fault handler step back through accessProcessing's own hit/miss
	// classification (spec.md §4.4 step 2; mirrors GMMU.cpp splicing
	// page_fault_finish_queue into warps_to_gmmu_queue, the input
	// classification queue, not the warp-delivery output): a
	// migration-resolved access now hits, so it takes one more MC tick
	// to actually increment that page's access counters before delivery.
	reclassify []*mc.Access
}

// New constructs a GMMU. isolated selects the initial cgroup mode (the
// Memory allocator policy may flip this later via SetCGroupType).
func New(cfg Config, isolated bool) *GMMU {
	return &GMMU{
		cfg:                   cfg,
		isolated:              isolated,
		cgroups:               make(map[int]*lru.Cache[page.ID, *page.Page]),
		pageFaultProcessQueue: make(map[int]map[page.ID]bool),
	}
}

func (g *GMMU) cgroupKey(appID int) int {
	if !g.isolated {
		return SharedCGroupKey
	}
	return appID
}

// CGroup returns (creating with zero capacity if necessary) the page
// group for an application, keyed per the current isolation mode.
func (g *GMMU) CGroup(appID int) *lru.Cache[page.ID, *page.Page] {
	key := g.cgroupKey(appID)
	cg, ok := g.cgroups[key]
	if !ok {
		cg = lru.New[page.ID, *page.Page](0)
		g.cgroups[key] = cg
	}
	return cg
}

// SetCGroupType switches isolation mode. true = per-app isolation
// (BARM/SALBI), false = single shared cgroup (Baseline/None).
func (g *GMMU) SetCGroupType(isolated bool) { g.isolated = isolated }

// SetCGroupSize resizes an application's cgroup, evicting LRU entries
// back to DRAM if shrinking.
func (g *GMMU) SetCGroupSize(appID int, capacityPages int) {
	cg := g.CGroup(appID)
	evicted := cg.Resize(capacityPages)
	for _, p := range evicted {
		p.Location = page.DRAM
		p.Counters.Swap++
	}
	logrus.Infof("gmmu: setCGroupSize app=%d capacity=%d", g.cgroupKey(appID), cg.Capacity())
}

// WaitCycle exposes the migration countdown for invariant tests.
func (g *GMMU) WaitCycle() int64 { return g.waitCycle }

// PendingFaultCount reports how many applications have an in-flight
// migration, for spec.md §8 invariant 5.
func (g *GMMU) PendingFaultCount() int { return len(g.pageFaultProcessQueue) }

// Tick runs the full per-tick protocol: fault handling, then access
// processing. collected is the set of new accesses gathered this tick
// from warp outboxes (round-robin warps-then-SMs, per spec.md §4.4 step
// 3 — the caller, not the GMMU, owns the warp queues per the Design
// Note's "lent by reference" recasting). It returns the accesses ready
// to deliver back to their originating warps this same tick.
func (g *GMMU) Tick(mcCtrl *mc.Controller, collected []*mc.Access) []*mc.Access {
	g.pageFaultHandler(mcCtrl)
	return g.accessProcessing(mcCtrl, collected)
}

// pageFaultHandler implements spec.md §4.4 steps 1-5.
func (g *GMMU) pageFaultHandler(mcCtrl *mc.Controller) {
	if g.waitCycle > 0 {
		g.waitCycle--
		return
	}

	// Step 2: commit pending migration.
	if len(g.pageFaultProcessQueue) > 0 {
		for appID, pages := range g.pageFaultProcessQueue {
			cg := g.CGroup(appID)
			if len(pages) > cg.Capacity() {
				panic(fmt.Sprintf("gmmu: app %d pending migration of %d pages exceeds cgroup capacity %d",
					appID, len(pages), cg.Capacity()))
			}
			for pid := range pages {
				p := mcCtrl.Refer(pid)
				if p == nil {
					panic(fmt.Sprintf("gmmu: migration references unknown page %d", pid))
				}
				p.Location = page.VRAM
				p.Counters.Swap++
				if evicted, ok := cg.Insert(pid, p); ok {
					evicted.Location = page.DRAM
					evicted.Counters.Swap++
				}
			}
		}
		g.pageFaultProcessQueue = make(map[int]map[page.ID]bool)
		g.reclassify = append(g.reclassify, g.pageFaultFinishQueue...)
		g.pageFaultFinishQueue = nil
	}

	// Step 3: schedule the next migration batch under PCIE_ACCESS_BOUND.
	pageCount := 0
	if len(g.mshrs) > 0 {
		process := make(map[int]map[page.ID]bool)
		var accepted []*mc.Access
		remaining := g.mshrs[:0:0]

		for _, access := range g.mshrs {
			cg := g.CGroup(access.AppID)
			missing := map[page.ID]bool{}
			for _, pid := range access.PageIDs {
				if _, ok := cg.Peek(pid); !ok {
					missing[pid] = true
				}
			}
			if pageCount+len(missing) > g.cfg.PCIeAccessBound {
				remaining = append(remaining, access)
				continue
			}
			pending := process[access.AppID]
			if len(pending)+len(missing) > cg.Capacity() {
				// would self-thrash: skip this access, keep it in MSHRs
				remaining = append(remaining, access)
				continue
			}
			if pending == nil {
				pending = map[page.ID]bool{}
				process[access.AppID] = pending
			}
			for pid := range missing {
				pending[pid] = true
			}
			pageCount = 0
			for _, set := range process {
				pageCount += len(set)
			}
			accepted = append(accepted, access)
		}

		g.mshrs = remaining
		g.pageFaultProcessQueue = process
		g.pageFaultFinishQueue = append(g.pageFaultFinishQueue, accepted...)

		// Step 4: prefetch, sorted by descending fill gap.
		if g.cfg.PagePrefetch && pageCount < g.cfg.PCIeAccessBound {
			type gap struct {
				appID int
				gap   int
			}
			var gaps []gap
			for appID := range g.cgroups {
				cg := g.cgroups[appID]
				gaps = append(gaps, gap{appID, cg.Capacity() - cg.Usage()})
			}
			sort.Slice(gaps, func(i, j int) bool { return gaps[i].gap > gaps[j].gap })

			for _, gp := range gaps {
				limit := g.cfg.PCIeAccessBound - pageCount
				if gp.gap < limit {
					limit = gp.gap
				}
				if limit <= 0 {
					continue
				}
				cg := g.cgroups[gp.appID]
				pending := g.pageFaultProcessQueue[gp.appID]
				prefetched := 0
				for pid := range pending {
					p := mcCtrl.Refer(pid)
					if p == nil {
						continue
					}
					next := p.Next
					for next != page.NoPage && prefetched < limit {
						if _, ok := cg.Peek(next); !ok && !pending[next] {
							if pending == nil {
								pending = map[page.ID]bool{}
								g.pageFaultProcessQueue[gp.appID] = pending
							}
							pending[next] = true
							prefetched++
						}
						nextPage := mcCtrl.Refer(next)
						if nextPage == nil {
							break
						}
						next = nextPage.Next
					}
				}
				pageCount += prefetched
				if pageCount >= g.cfg.PCIeAccessBound {
					break
				}
			}
		}
	}

	if pageCount > 0 {
		if g.cfg.PenaltyEnabled {
			g.waitCycle = g.cfg.PageFaultCommunicationCycle + int64(pageCount)*g.cfg.PageFaultMigrationUnitCycle
		} else {
			g.waitCycle = 1
		}
		logrus.Infof("Demanded page number: %d", pageCount)
	}
}

// accessProcessing implements spec.md §4.4's "separate phase, same tick":
// deliver MC responses collected since the previous tick, then classify
// both newly collected accesses and migration-resolved ones (g.reclassify)
// as hit/miss against the now-current cgroup contents. A reclassified
// access always hits (its pages were just migrated into VRAM), so it
// re-enters mcCtrl.GMMUToMC exactly like any other hit and still needs
// one more MC tick before it is ready for delivery.
func (g *GMMU) accessProcessing(mcCtrl *mc.Controller, collected []*mc.Access) []*mc.Access {
	toWarps := mcCtrl.MCToGMMU
	mcCtrl.MCToGMMU = nil

	pending := make([]*mc.Access, 0, len(g.reclassify)+len(collected))
	pending = append(pending, g.reclassify...)
	pending = append(pending, collected...)
	g.reclassify = nil

	for _, access := range pending {
		cg := g.CGroup(access.AppID)
		hit := true
		for _, pid := range access.PageIDs {
			if _, ok := cg.Lookup(pid); !ok {
				hit = false
			}
		}
		if hit {
			mcCtrl.GMMUToMC = append(mcCtrl.GMMUToMC, access)
		} else {
			g.mshrs = append(g.mshrs, access)
		}
	}

	return toWarps
}

// TerminateModel purges every queue of accesses belonging to modelID —
// including the MC's own R/W FIFOs (spec.md §5's purge list) — and frees
// the application's cgroup, per spec.md §4.4 terminate_model. It is
// idempotent: calling it against already-clean queues is a no-op.
func (g *GMMU) TerminateModel(mcCtrl *mc.Controller, appID, modelID int) {
	g.mshrs = filterAccesses(g.mshrs, modelID)
	g.pageFaultFinishQueue = filterAccesses(g.pageFaultFinishQueue, modelID)
	g.reclassify = filterAccesses(g.reclassify, modelID)
	mcCtrl.PurgeModel(modelID)

	delete(g.pageFaultProcessQueue, appID)
	if len(g.pageFaultProcessQueue) == 0 {
		g.waitCycle = 0
	}

	g.FreeCGroup(appID)
}

func filterAccesses(in []*mc.Access, modelID int) []*mc.Access {
	out := in[:0:0]
	for _, a := range in {
		if a.ModelID != modelID {
			out = append(out, a)
		}
	}
	return out
}

// FreeCGroup releases every DRAM-resident entry from an application's
// cgroup; active VRAM pages are retained until the owning kernels finish
// (spec.md §4.4 free_cgroup; spec.md §9 Open Question — VRAM pages are
// deliberately kept resident here, reclaimed only by a later allocator
// pass, matching the ResNet18-termination behavior the original source
// exhibits).
func (g *GMMU) FreeCGroup(appID int) int {
	key := g.cgroupKey(appID)
	cg, ok := g.cgroups[key]
	if !ok {
		return 0
	}
	count := cg.Release(func(p *page.Page) bool { return p.Location == page.DRAM })
	logrus.Debugf("gmmu: freeCGroup app=%d released=%d", key, count)
	return count
}
