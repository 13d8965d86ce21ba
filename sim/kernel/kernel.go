// Package kernel implements the ready-state DAG node (Kernel) and its
// unit of work (Request), plus the KernelGroup fan-in wrapper used by
// every scheduler policy to batch same-layer-ID kernels into one launch.
//
// Grounded on original_source/src/Kernel.cpp, src/include/Kernel.hpp and
// src/include/LayerGroup.hpp (KernelGroup), recast per spec.md §9 as
// arena-index back-references: a Kernel names its SM set and layer by
// value/ID, never by pointer.
package kernel

import "github.com/kunsheng/gpgpu-sim/sim/page"

// ID identifies a kernel within a model.
type ID int

// PageTouch pairs a page with the remaining number of times a request
// will touch it before that page slot is consumed (spec.md §3 Request:
// "remaining-touches counter implements coalesced access").
type PageTouch struct {
	PageID    page.ID
	Remaining int
}

// Request is one unit of computation inside a kernel: a queue of page
// reads, then a queue of page writes, then it is done.
type Request struct {
	ID               int
	ReadPages        []PageTouch
	WritePages       []PageTouch
	NumInstructions  int32
}

// LayerInfo is the compiled-artifact metadata a Kernel carries about its
// source layer: the memory-footprint and identity fields every scheduler
// policy reads (BARM/SALBI's ioMem/filterMem, the launcher's layer-ID
// grouping key). It replaces a live Layer* back-reference with plain
// values, since layer topology construction is an external collaborator
// (spec.md §1) whose only contract with the core is this struct.
type LayerInfo struct {
	LayerID    int
	LayerType  string // "Conv2D", "Pooling", "Dense", "Flatten", "ByPass", "Group"
	FilterMem  int64
	IFMapMem   int64
	OFMapMem   int64
}

// NumOfMemory is the total VRAM bytes this layer's kernel demands —
// filter + input-feature-map + output-feature-map, the quantity
// BARM.TPMEMA and SALBI.ORBIS both sum across running/queued kernels.
func (l LayerInfo) NumOfMemory() int64 { return l.FilterMem + l.IFMapMem + l.OFMapMem }

// BlockRecord is one finished block's accounting, persisted verbatim in
// the output log (spec.md §6): "Finish block <bid>: [sm, start, end,
// launched, returned, pages]".
type BlockRecord struct {
	SMID             int
	BlockID          int
	StartCycle       int64
	EndCycle         int64
	LaunchedAccesses int
	ReturnedAccesses int
	Pages            int
}

// Kernel is a DAG node: it becomes ready once every dependency has
// finished, runs across its SM set, and finishes once its request queue
// is drained and every SM reports it no longer owns a running block for
// this kernel.
type Kernel struct {
	ID      ID
	AppID   int
	ModelID int
	Layer   LayerInfo

	Requests []*Request // FIFO; front is dequeued by AccessRequest
	Deps     []ID

	SMSet map[int]bool

	Running bool
	Finish  bool

	StartCycle int64
	EndCycle   int64

	BlockRecords []BlockRecord

	// Multiplier is this kernel's batch weight inside a KernelGroup (the
	// "(Kernel, batch_multiplier)" pair of spec.md §3). A bare Kernel not
	// wrapped in a group always has Multiplier 1.
	Multiplier int
}

// NewKernel constructs a kernel with Multiplier defaulted to 1.
func NewKernel(id ID, appID, modelID int, layer LayerInfo, requests []*Request, deps []ID) *Kernel {
	return &Kernel{
		ID:         id,
		AppID:      appID,
		ModelID:    modelID,
		Layer:      layer,
		Requests:   requests,
		Deps:       deps,
		Multiplier: 1,
	}
}

// Ready reports whether every dependency has finished. finished maps a
// dependency ID to its Finish flag (looked up by the owning model, since
// a Kernel does not hold pointers to its dependencies — only IDs).
func (k *Kernel) Ready(finished func(ID) bool) bool {
	for _, dep := range k.Deps {
		if !finished(dep) {
			return false
		}
	}
	return true
}

// AccessRequest pops and returns the next queued request, or nil if the
// queue is empty. Invariant: Finish implies Requests is empty and
// Running is false (spec.md §3).
func (k *Kernel) AccessRequest() *Request {
	if len(k.Requests) == 0 {
		return nil
	}
	r := k.Requests[0]
	k.Requests = k.Requests[1:]
	return r
}

// Empty reports whether this kernel has no queued requests left to hand
// out. GPU.LaunchKernel rejects a kernel whose Requests is empty at
// launch time (spec.md §4.6, silently rejected, logged at info).
func (k *Kernel) Empty() bool { return len(k.Requests) == 0 }

// Group is the fan-in wrapper producing the union of several kernels'
// page accesses under one launch, per spec.md §3: "A KernelGroup is a
// fan-in wrapper with a vector (Kernel, batch_multiplier) producing the
// union of their page-accesses." Implemented as a Kernel whose Requests
// is the concatenation of its members' requests (each repeated
// Multiplier times), so the rest of the SM/Warp pipeline — which only
// ever sees a *Kernel — needs no special-casing for groups.
func Group(id ID, members []*Kernel) *Kernel {
	if len(members) == 0 {
		panic("kernel.Group: no members")
	}
	head := members[0]
	merged := &Kernel{
		ID:      id,
		AppID:   head.AppID,
		ModelID: head.ModelID,
		Layer:   head.Layer,
		SMSet:   map[int]bool{},
	}
	for _, m := range members {
		mult := m.Multiplier
		if mult < 1 {
			mult = 1
		}
		for i := 0; i < mult; i++ {
			merged.Requests = append(merged.Requests, m.Requests...)
		}
		for sm := range m.SMSet {
			merged.SMSet[sm] = true
		}
	}
	return merged
}
