// Package model implements the neural-network layer compiler spec.md §1
// scopes out as an external collaborator: a tagged-variant Layer type and
// the three operations (MemoryFootprint, ChangeBatch, CompileToKernels)
// that turn a fixed topology into the DAG of kernels the simulator core
// actually consumes.
//
// Grounded on original_source/src/Models.cpp (VGG16/ResNet18 topology
// shape) and src/include/Layers.hpp's per-type field sets; recast per
// spec.md §9's Design Note as a tagged-variant struct with a type switch
// rather than a Layer class hierarchy — this is not a general shape-math
// engine, just enough to produce plausible per-layer memory footprints
// for the fixed benchmark library below.
package model

import (
	"fmt"

	"github.com/kunsheng/gpgpu-sim/sim/kernel"
	"github.com/kunsheng/gpgpu-sim/sim/page"
)

// LayerKind tags which variant of Layer is populated.
type LayerKind int

const (
	Conv2D LayerKind = iota
	Pooling
	Dense
	Flatten
	ByPass
	Group
)

// GroupKind distinguishes how a Group layer's children combine.
type GroupKind int

const (
	Cascade GroupKind = iota // children execute in dependency order
	Parallel                 // children share a common predecessor, no inter-deps
)

// PageAllocator is the minimal interface CompileToKernels needs from a
// host MMU: turn a byte footprint into a resident page chain. sim/hostmmu
// implements this; accepting the interface keeps this package decoupled
// from that concrete type.
type PageAllocator interface {
	Allocate(bytes int64) uint64
	Translate(handle uint64) (page.ID, bool)
	Next(id page.ID) page.ID
}

// Layer is a tagged variant of every layer type the fixed benchmark
// library needs. Exactly one of the per-kind field groups is meaningful,
// selected by Kind.
type Layer struct {
	Kind LayerKind
	Name string

	// Conv2D / Pooling
	InChannels, OutChannels int
	InH, InW                int
	KernelH, KernelW        int
	Stride                  int

	// Dense
	InFeatures, OutFeatures int

	// Group
	GroupKind GroupKind
	Children  []Layer

	BatchSize int
}

// MemoryFootprint returns the filter/ifmap/ofmap byte counts BARM/SALBI
// read as filterMemCount/ioMemCount, computed per the layer kind. A Group
// layer sums its children's footprints.
func (l Layer) MemoryFootprint() (filterMem, ifmapMem, ofmapMem int64) {
	const elemSize = int64(4) // fp32 activations/weights, matching the original's byte-per-element assumption
	batch := int64(l.BatchSize)
	if batch == 0 {
		batch = 1
	}

	switch l.Kind {
	case Conv2D:
		filterMem = int64(l.OutChannels*l.InChannels*l.KernelH*l.KernelW) * elemSize
		ifmapMem = batch * int64(l.InChannels*l.InH*l.InW) * elemSize
		outH, outW := l.InH/l.Stride, l.InW/l.Stride
		ofmapMem = batch * int64(l.OutChannels*outH*outW) * elemSize
	case Pooling:
		ifmapMem = batch * int64(l.InChannels*l.InH*l.InW) * elemSize
		outH, outW := l.InH/l.Stride, l.InW/l.Stride
		ofmapMem = batch * int64(l.InChannels*outH*outW) * elemSize
	case Dense:
		filterMem = int64(l.InFeatures*l.OutFeatures) * elemSize
		ifmapMem = batch * int64(l.InFeatures) * elemSize
		ofmapMem = batch * int64(l.OutFeatures) * elemSize
	case Flatten, ByPass:
		ifmapMem = batch * int64(l.InChannels*l.InH*l.InW) * elemSize
		ofmapMem = ifmapMem
	case Group:
		for _, c := range l.Children {
			cf, ci, co := c.MemoryFootprint()
			filterMem += cf
			ifmapMem += ci
			ofmapMem += co
		}
	default:
		panic(fmt.Sprintf("model.Layer.MemoryFootprint: unhandled layer kind %d", l.Kind))
	}
	return
}

// ChangeBatch scales every activation-dependent footprint by a new batch
// size, used by TASK_MODE presets that replay a fixed batch size.
func (l *Layer) ChangeBatch(n int) {
	if n < 1 {
		n = 1
	}
	l.BatchSize = n
	for i := range l.Children {
		l.Children[i].ChangeBatch(n)
	}
}

// CompileToKernels produces the DAG of kernels for a flat (Cascade) or
// fanned-out (Parallel) layer list: each layer becomes one kernel whose
// requests carry page IDs resolved through mmu, chained via Next so GMMU
// sequential prefetch has a real chain to walk (spec.md §4.4 step 4).
// Cascade layers depend on their immediate predecessor; Parallel layers
// share no inter-dependency. handles lists every host handle allocated
// along the way, so the caller can hand it to app.NewModel and give it
// back via mmu.Release once the model finishes (original_source's
// Model::memoryRelease(&mMMU) on normal completion).
func CompileToKernels(appID, modelID int, pageSize int64, mmu PageAllocator, layers []Layer, kind GroupKind) (kernels []*kernel.Kernel, handles []uint64) {
	kernels = make([]*kernel.Kernel, 0, len(layers))
	var prev kernel.ID
	for i, layer := range layers {
		filterMem, ifmapMem, ofmapMem := layer.MemoryFootprint()
		info := kernel.LayerInfo{
			LayerID:   i,
			LayerType: layerTypeName(layer.Kind),
			FilterMem: filterMem,
			IFMapMem:  ifmapMem,
			OFMapMem:  ofmapMem,
		}

		id := kernelID(appID, modelID, i)
		var deps []kernel.ID
		if kind == Cascade && i > 0 {
			deps = []kernel.ID{prev}
		}

		readTouches, readHandle := pageTouches(mmu, pageSize, filterMem+ifmapMem)
		writeTouches, writeHandle := pageTouches(mmu, pageSize, ofmapMem)
		handles = appendHandle(handles, readHandle)
		handles = appendHandle(handles, writeHandle)

		req := &kernel.Request{
			ID:         i,
			ReadPages:  readTouches,
			WritePages: writeTouches,
		}

		k := kernel.NewKernel(id, appID, modelID, info, []*kernel.Request{req}, deps)
		kernels = append(kernels, k)
		prev = k.ID
	}
	return kernels, handles
}

// appendHandle appends h unless pageTouches skipped allocation (handle
// zero means the byte count was <= 0, nothing to release later).
func appendHandle(handles []uint64, h uint64) []uint64 {
	if h == 0 {
		return handles
	}
	return append(handles, h)
}

// kernelID packs (appID, modelID, layer index) into one kernel.ID so
// kernels from distinct models running concurrently (the multi-tenant
// case the GPU's bindings map assumes is globally unique by ID) never
// collide, even though layer indices themselves restart at 0 per model.
func kernelID(appID, modelID, layerIndex int) kernel.ID {
	return kernel.ID(appID)*1_000_000_000 + kernel.ID(modelID)*1_000_000 + kernel.ID(layerIndex)
}

func layerTypeName(k LayerKind) string {
	switch k {
	case Conv2D:
		return "Conv2D"
	case Pooling:
		return "Pooling"
	case Dense:
		return "Dense"
	case Flatten:
		return "Flatten"
	case ByPass:
		return "ByPass"
	case Group:
		return "Group"
	default:
		panic(fmt.Sprintf("model.layerTypeName: unhandled layer kind %d", k))
	}
}

// pageTouches allocates bytes worth of pages through mmu and returns the
// chain as PageTouch entries, each consumed in one coalesced access
// (remaining=1, since the layer compiler produces one touch per page —
// the SIMT layer is what actually coalesces multiple threads onto a
// shared request), plus the handle the allocation was registered under
// (0 if bytes <= 0 and nothing was allocated).
func pageTouches(mmu PageAllocator, pageSize, bytes int64) ([]kernel.PageTouch, uint64) {
	if bytes <= 0 {
		return nil, 0
	}
	handle := mmu.Allocate(bytes)
	head, ok := mmu.Translate(handle)
	if !ok {
		panic("model.pageTouches: mmu returned an untranslatable handle immediately after allocation")
	}

	n := (bytes + pageSize - 1) / pageSize
	touches := make([]kernel.PageTouch, 0, n)
	for id := head; id != page.NoPage && int64(len(touches)) < n; id = mmu.Next(id) {
		touches = append(touches, kernel.PageTouch{PageID: id, Remaining: 1})
	}
	return touches, handle
}
