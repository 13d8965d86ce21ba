package gpu

import (
	"github.com/kunsheng/gpgpu-sim/sim/kernel"
)

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Resource tracks an SM's remaining block/warp budget, per spec.md §3:
// "remaining_warps + Σ|block.warps| = GPU_MAX_WARP_PER_SM".
type Resource struct {
	RemainingBlocks int
	RemainingWarps  int
}

// SM is one streaming multiprocessor: a fixed warp pool plus whatever
// blocks currently own a slice of it.
type SM struct {
	ID       int
	WarpPool []*Warp // len == GPU_MAX_WARP_PER_SM; Idle tracks free/claimed
	Resource Resource

	RunningBlocks []*Block
	Finished      []*Block // harvested blocks awaiting GPU pickup

	maxWarpPerBlock  int
	maxThreadPerWarp int
	maxAccessNumber  int
}

// NewSM creates an SM with the given topology, all warps initially idle.
func NewSM(id, maxBlockPerSM, maxWarpPerSM, maxWarpPerBlock, maxThreadPerWarp, maxAccessNumber int) *SM {
	sm := &SM{
		ID:               id,
		WarpPool:         make([]*Warp, maxWarpPerSM),
		maxWarpPerBlock:  maxWarpPerBlock,
		maxThreadPerWarp: maxThreadPerWarp,
		maxAccessNumber:  maxAccessNumber,
		Resource:         Resource{RemainingBlocks: maxBlockPerSM, RemainingWarps: maxWarpPerSM},
	}
	for i := range sm.WarpPool {
		sm.WarpPool[i] = NewWarp(i, maxThreadPerWarp)
	}
	return sm
}

// Idle reports whether the SM owns no running blocks.
func (s *SM) Idle() bool { return len(s.RunningBlocks) == 0 }

// BindKernel implements spec.md §4.5 bind_kernel: reject if out of block
// or warp budget, otherwise launch ceil(remaining_warps/MAX_WARP_PER_BLOCK)
// blocks, each greedily claiming idle warps up to MAX_WARP_PER_BLOCK.
func (s *SM) BindKernel(k *kernel.Kernel, cycle int64) bool {
	if s.Resource.RemainingBlocks == 0 || s.Resource.RemainingWarps == 0 {
		return false
	}

	launchBlocks := ceilDiv(s.Resource.RemainingWarps, s.maxWarpPerBlock)
	bound := false
	for i := 0; i < launchBlocks; i++ {
		if s.Resource.RemainingBlocks == 0 {
			break
		}
		block := &Block{ID: nextBlockID(), SMID: s.ID, Kernel: k}
		for _, w := range s.WarpPool {
			if len(block.Warps) == s.maxWarpPerBlock {
				break
			}
			if w.Idle {
				w.Idle = false
				w.Record = WarpRecord{WarpID: w.ID, StartCycle: cycle}
				block.Warps = append(block.Warps, w)
				s.Resource.RemainingWarps--
			}
		}
		if len(block.Warps) == 0 {
			break
		}
		block.Record = kernel.BlockRecord{SMID: s.ID, BlockID: block.ID, StartCycle: cycle}
		s.Resource.RemainingBlocks--
		s.RunningBlocks = append(s.RunningBlocks, block)
		bound = true
	}
	return bound
}

// Step advances every running block one tick: drain GMMU returns, dispatch
// at the sync barrier, emit new accesses, and harvest blocks that finished.
func (s *SM) Step(cycle int64) {
	var stillRunning []*Block
	for _, block := range s.RunningBlocks {
		for _, w := range block.Warps {
			w.handleReturns()
			w.dispatch(block.Kernel)
			w.step(block.Kernel, block.Kernel.AppID, block.Kernel.ModelID, s.ID, block.ID, s.maxAccessNumber)

			anyWaiting, anyBusy := false, false
			for _, t := range w.Threads {
				switch t.State {
				case Waiting:
					anyWaiting = true
				case Busy:
					anyBusy = true
				}
			}
			if anyWaiting {
				w.Record.WaitCycles++
			}
			if anyBusy {
				w.Record.ComputeCycles++
			}
		}

		if !block.Busy() {
			s.finishBlock(block, cycle)
		} else {
			stillRunning = append(stillRunning, block)
		}
	}
	s.RunningBlocks = stillRunning
}

func (s *SM) finishBlock(block *Block, cycle int64) {
	block.Record.EndCycle = cycle
	for _, w := range block.Warps {
		w.Record.EndCycle = cycle
		w.Idle = true
		w.Inbox = nil
		w.Outbox = nil
		s.Resource.RemainingWarps++
	}
	s.Resource.RemainingBlocks++
	s.Finished = append(s.Finished, block)
}

// HarvestFinished drains and returns blocks completed since the last harvest.
func (s *SM) HarvestFinished() []*Block {
	done := s.Finished
	s.Finished = nil
	return done
}

// TerminateKernel scrubs a kernel from running_blocks (spec.md §4.5
// terminate_kernel).
func (s *SM) TerminateKernel(k *kernel.Kernel) {
	var kept []*Block
	for _, b := range s.RunningBlocks {
		if b.Kernel == k {
			for _, w := range b.Warps {
				w.Idle = true
				w.Inbox = nil
				w.Outbox = nil
				s.Resource.RemainingWarps++
			}
			s.Resource.RemainingBlocks++
		} else {
			kept = append(kept, b)
		}
	}
	s.RunningBlocks = kept
}

