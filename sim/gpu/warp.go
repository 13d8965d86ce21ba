// Package gpu implements the SIMT execution model: Warp and Block as the
// in-SM scheduling units, SM as their container, and GPU as the
// top-level command queue and runtime block scheduler.
//
// Grounded on original_source/src/SM.cpp and src/GPU.cpp; recast per
// spec.md §9 so that the SM/Warp/GMMU FIFOs are plain slices owned by
// each Warp (its Outbox/Inbox) rather than mutually-referencing pointers
// — the top-level simulator collects and delivers across the boundary
// between gpu and gmmu, so neither package imports the other.
package gpu

import "github.com/kunsheng/gpgpu-sim/sim/kernel"
import "github.com/kunsheng/gpgpu-sim/sim/mc"

// ThreadState is the tiny per-thread state machine spec.md §3 describes.
type ThreadState int

const (
	Idle ThreadState = iota
	Busy
	Waiting
)

// Thread carries one in-flight memory access and a read-index cursor
// into its bound request.
type Thread struct {
	State     ThreadState
	Access    *mc.Access
	Request   *kernel.Request
	ReadIndex int
}

// WarpRecord is the per-warp accounting persisted in the output log:
// "warp <wid>: [start, end, compute_cycles, wait_cycles]" (spec.md §6).
type WarpRecord struct {
	WarpID               int
	StartCycle           int64
	EndCycle             int64
	ComputeCycles        int64
	WaitCycles           int64
	LaunchAccessCounter  int
	ReturnAccessCounter  int
	AccessPageCounter    int
}

// Warp is a group of MaxThreadPerWarp threads sharing one request
// dispatcher. Outbox holds accesses emitted this tick awaiting GMMU
// collection; Inbox holds accesses the GMMU delivered back this tick
// awaiting thread matching.
type Warp struct {
	ID      int
	Threads []Thread
	Idle    bool

	Outbox []*mc.Access
	Inbox  []*mc.Access

	Record WarpRecord
}

// NewWarp creates an idle warp with threadCount threads.
func NewWarp(id, threadCount int) *Warp {
	return &Warp{
		ID:      id,
		Threads: make([]Thread, threadCount),
		Idle:    true,
	}
}

// Busy reports spec.md §3's warp invariant: busy iff any thread is
// non-Idle OR its owning kernel still has queued requests.
func (w *Warp) Busy(kernelHasRequests bool) bool {
	if kernelHasRequests {
		return true
	}
	for _, t := range w.Threads {
		if t.State != Idle {
			return true
		}
	}
	return false
}

// allIdle reports whether every thread is Idle (the sync barrier gate
// for dispatching the next request, spec.md §4.5 step 3).
func (w *Warp) allIdle() bool {
	for _, t := range w.Threads {
		if t.State != Idle {
			return false
		}
	}
	return true
}

// handleReturns implements spec.md §4.5 step 1: match each delivered
// access to its waiting thread, then transition that thread onward.
func (w *Warp) handleReturns() {
	if len(w.Inbox) == 0 {
		return
	}
	remaining := w.Inbox[:0:0]
	for _, access := range w.Inbox {
		matched := false
		for i := range w.Threads {
			t := &w.Threads[i]
			if t.State == Waiting && t.Access == access {
				w.Record.ReturnAccessCounter++
				t.Access = nil
				if len(t.Request.WritePages) > 0 {
					t.State = Busy
				} else {
					t.Request = nil
					t.State = Idle
				}
				matched = true
				break
			}
		}
		if !matched {
			remaining = append(remaining, access)
		}
	}
	w.Inbox = remaining
}

// dispatch implements spec.md §4.5 step 3: at the sync barrier (every
// thread Idle), pull the next request from the kernel for each thread.
func (w *Warp) dispatch(k *kernel.Kernel) {
	if !w.allIdle() {
		return
	}
	for i := range w.Threads {
		t := &w.Threads[i]
		if k.Empty() {
			break
		}
		t.Request = k.AccessRequest()
		t.ReadIndex = 0
		t.State = Busy
	}
}

// step implements spec.md §4.5 step 4: for each Busy thread, emit the
// next access (read, then compute, then write) or retire the request.
func (w *Warp) step(k *kernel.Kernel, appID, modelID, smID, blockID int, maxAccessNumber int) {
	for i := range w.Threads {
		t := &w.Threads[i]
		if t.State != Busy {
			continue
		}

		var access *mc.Access
		switch {
		case t.ReadIndex < len(t.Request.ReadPages):
			access = &mc.Access{
				ModelID: modelID, AppID: appID, SMID: smID, BlockID: blockID,
				WarpID: w.ID, RequestID: t.Request.ID, Kind: mc.Read,
			}
			for len(access.PageIDs) < maxAccessNumber && t.ReadIndex < len(t.Request.ReadPages) {
				pt := &t.Request.ReadPages[t.ReadIndex]
				access.PageIDs = append(access.PageIDs, pt.PageID)
				pt.Remaining--
				if pt.Remaining == 0 {
					t.ReadIndex++
				}
			}

		case t.Request.NumInstructions > 0:
			t.Request.NumInstructions--
			continue

		case len(t.Request.WritePages) > 0:
			access = &mc.Access{
				ModelID: modelID, AppID: appID, SMID: smID, BlockID: blockID,
				WarpID: w.ID, RequestID: t.Request.ID, Kind: mc.Write,
			}
			for len(access.PageIDs) < maxAccessNumber && len(t.Request.WritePages) > 0 {
				pt := &t.Request.WritePages[0]
				access.PageIDs = append(access.PageIDs, pt.PageID)
				pt.Remaining--
				if pt.Remaining == 0 {
					t.Request.WritePages = t.Request.WritePages[1:]
				}
			}

		default:
			t.Request = nil
			t.State = Idle
			continue
		}

		w.Record.LaunchAccessCounter++
		w.Record.AccessPageCounter += len(access.PageIDs)
		t.Access = access
		t.State = Waiting
		w.Outbox = append(w.Outbox, access)
	}
}
