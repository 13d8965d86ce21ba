// Package mc implements the memory controller: the owner of every page's
// storage backing and read/write access counters, and the FIFO forwarding
// stage between the GMMU and physical memory.
//
// Grounded on original_source/src/MemoryController.cpp (allocate/release/
// refer) and the per-tick drain described in spec.md §4.3.
package mc

import (
	"fmt"

	"github.com/kunsheng/gpgpu-sim/sim/page"
)

// AccessKind mirrors spec.md's MemoryAccess.kind.
type AccessKind int

const (
	Read AccessKind = iota
	Write
)

// Access is the MemoryAccess data object shared across GMMU/MC/SM. It is
// intentionally a plain struct with value semantics for its page-ID slice
// so queues can be FIFOs of pointers without fear of a component mutating
// another's view mid-tick.
type Access struct {
	ModelID   int
	AppID     int
	SMID      int
	BlockID   int
	WarpID    int
	RequestID int
	Kind      AccessKind
	PageIDs   []page.ID
}

// Controller owns the page store and the two FIFOs connecting it to the
// GMMU: accesses arrive on GMMUToMC and responses are pushed onto
// MCToGMMU, both drained once per MC tick.
type Controller struct {
	Store *page.Store

	GMMUToMC []*Access
	MCToGMMU []*Access

	maxAccessNumber int
}

// NewController wires a Controller to a page store. maxAccessNumber is
// GPU_MAX_ACCESS_NUMBER, used only to size-check incoming accesses.
func NewController(store *page.Store, maxAccessNumber int) *Controller {
	return &Controller{Store: store, maxAccessNumber: maxAccessNumber}
}

// Allocate reserves bytes worth of pages, as page.Store.Allocate.
func (c *Controller) Allocate(bytes int64) page.ID { return c.Store.Allocate(bytes) }

// Release returns a page chain to the free list.
func (c *Controller) Release(head page.ID) { c.Store.Release(head) }

// Refer looks up a page directly.
func (c *Controller) Refer(id page.ID) *page.Page { return c.Store.Refer(id) }

// PurgeModel drops every queued access belonging to modelID from both
// FIFOs, mirroring original_source/src/GMMU.cpp's terminateModel doing
// mc_to_gmmu_queue.remove_if/gmmu_to_mc_queue.remove_if for the dead
// model. Idempotent: purging already-clean queues is a no-op.
func (c *Controller) PurgeModel(modelID int) {
	c.GMMUToMC = filterAccesses(c.GMMUToMC, modelID)
	c.MCToGMMU = filterAccesses(c.MCToGMMU, modelID)
}

func filterAccesses(in []*Access, modelID int) []*Access {
	out := in[:0:0]
	for _, a := range in {
		if a.ModelID != modelID {
			out = append(out, a)
		}
	}
	return out
}

// Tick drains GMMUToMC: for every access, every referenced page must be
// VRAM-resident (spec.md invariant: "Every MemoryAccess in gmmu_to_mc_queue
// references only VRAM-resident pages at MC tick time" — violation is
// fatal, a programmer error in the GMMU's hit/miss classification, never
// an expected runtime condition).
func (c *Controller) Tick() {
	pending := c.GMMUToMC
	c.GMMUToMC = nil

	for _, access := range pending {
		if len(access.PageIDs) > c.maxAccessNumber {
			panic(fmt.Sprintf("mc.Controller.Tick: access carries %d page IDs, exceeds GPU_MAX_ACCESS_NUMBER=%d",
				len(access.PageIDs), c.maxAccessNumber))
		}
		for _, id := range access.PageIDs {
			p := c.Store.Refer(id)
			if p == nil {
				panic(fmt.Sprintf("mc.Controller.Tick: access references unknown page %d", id))
			}
			if p.Location != page.VRAM {
				panic(fmt.Sprintf("mc.Controller.Tick: access references non-VRAM page %d (location=%s)", id, p.Location))
			}
			switch access.Kind {
			case Read:
				p.Counters.Read++
			case Write:
				p.Counters.Write++
			}
			p.Counters.Access++
		}
		c.MCToGMMU = append(c.MCToGMMU, access)
	}
}
