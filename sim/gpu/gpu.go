package gpu

import (
	"github.com/kunsheng/gpgpu-sim/sim/kernel"
	"github.com/kunsheng/gpgpu-sim/sim/mc"
	"github.com/sirupsen/logrus"
)

// binding tracks one launched kernel's per-SM sub-kernels and which SMs
// still have outstanding work, so the GPU can detect the "globally
// finished" moment spec.md §3 defines: "the kernel is globally finished
// when [completion] holds across its full sm_set."
type binding struct {
	parent  *kernel.Kernel
	subs    map[int]*kernel.Kernel // smID -> per-SM sub-kernel
	pending map[int]bool           // smIDs not yet complete
}

// GPU is the top-level command queue, runtime block scheduler, and
// completion tracker (spec.md §4.6).
type GPU struct {
	SMs []*SM

	CommandQueue    []*kernel.Kernel
	RunningKernels  []*kernel.Kernel
	FinishedKernels []*kernel.Kernel

	bindings map[kernel.ID]*binding

	maxWarpPerSM    int
	maxWarpPerBlock int
}

// New constructs a GPU with the given SM topology.
func New(smNum, maxBlockPerSM, maxWarpPerSM, maxWarpPerBlock, maxThreadPerWarp, maxAccessNumber int) *GPU {
	g := &GPU{
		bindings:        make(map[kernel.ID]*binding),
		maxWarpPerSM:    maxWarpPerSM,
		maxWarpPerBlock: maxWarpPerBlock,
	}
	for i := 0; i < smNum; i++ {
		g.SMs = append(g.SMs, NewSM(i, maxBlockPerSM, maxWarpPerSM, maxWarpPerBlock, maxThreadPerWarp, maxAccessNumber))
	}
	return g
}

// LaunchKernel appends a compiled kernel to the command queue. An
// empty-request kernel is silently rejected (spec.md §4.6/§7), logged at
// info, never an error return.
func (g *GPU) LaunchKernel(k *kernel.Kernel) bool {
	if k.Empty() {
		logrus.Infof("gpu.LaunchKernel: kernel %d has empty requests, rejected", k.ID)
		return false
	}
	g.CommandQueue = append(g.CommandQueue, k)
	return true
}

// IdleSMs returns the set of SM IDs currently running no blocks.
func (g *GPU) IdleSMs() map[int]bool {
	idle := make(map[int]bool)
	for _, sm := range g.SMs {
		if sm.Idle() {
			idle[sm.ID] = true
		}
	}
	return idle
}

func (g *GPU) sm(id int) *SM {
	for _, sm := range g.SMs {
		if sm.ID == id {
			return sm
		}
	}
	return nil
}

// Tick implements spec.md §4.6's four-step per-tick protocol.
func (g *GPU) Tick(cycle int64) {
	g.harvestFinishedBlocks()
	g.runtimeBlockScheduling(cycle)
	for _, sm := range g.SMs {
		sm.Step(cycle)
	}
	g.reapFinishedKernels(cycle)
}

func (g *GPU) harvestFinishedBlocks() {
	for _, sm := range g.SMs {
		for _, block := range sm.HarvestFinished() {
			bd := g.bindingForSub(block.Kernel)
			if bd == nil {
				continue
			}
			bd.parent.BlockRecords = append(bd.parent.BlockRecords, block.Record)

			stillOwns := false
			for _, b := range sm.RunningBlocks {
				if b.Kernel == block.Kernel {
					stillOwns = true
					break
				}
			}
			if !stillOwns {
				delete(bd.pending, sm.ID)
			}
		}
	}
}

func (g *GPU) bindingForSub(sub *kernel.Kernel) *binding {
	for _, bd := range g.bindings {
		for _, s := range bd.subs {
			if s == sub {
				return bd
			}
		}
	}
	return nil
}

// runtimeBlockScheduling implements spec.md §4.6 step 2: a kernel whose
// entire sm_set is idle gets bound (partitioning its requests); otherwise
// it stays queued — any single non-idle SM in the set blocks the launch.
func (g *GPU) runtimeBlockScheduling(cycle int64) {
	var remaining []*kernel.Kernel
	for _, k := range g.CommandQueue {
		ready := true
		for smID := range k.SMSet {
			if !g.sm(smID).Idle() {
				ready = false
				break
			}
		}
		if !ready {
			remaining = append(remaining, k)
			continue
		}

		divisionCount := len(k.SMSet) * g.maxWarpPerSM / g.maxWarpPerBlock
		if divisionCount < 1 {
			divisionCount = 1
		}
		chunk := ceilDiv(len(k.Requests), divisionCount)

		bd := &binding{parent: k, subs: map[int]*kernel.Kernel{}, pending: map[int]bool{}}
		bound := 0
		for smID := range k.SMSet {
			n := chunk
			bound++
			if n > len(k.Requests) || bound == len(k.SMSet) {
				n = len(k.Requests) // the last SM takes whatever remains
			}
			sub := &kernel.Kernel{
				ID: k.ID, AppID: k.AppID, ModelID: k.ModelID, Layer: k.Layer,
				Requests: k.Requests[:n],
			}
			k.Requests = k.Requests[n:]
			bd.subs[smID] = sub
			bd.pending[smID] = true
			g.sm(smID).BindKernel(sub, cycle)
		}
		g.bindings[k.ID] = bd
		k.Running = true
		k.StartCycle = cycle
		g.RunningKernels = append(g.RunningKernels, k)
	}
	g.CommandQueue = remaining
}

// DrainFinished returns every kernel that finished since the last drain
// and clears the internal list. The scheduler calls this once per CPU
// tick to reap completions and propagate Finish to grouped members.
func (g *GPU) DrainFinished() []*kernel.Kernel {
	done := g.FinishedKernels
	g.FinishedKernels = nil
	return done
}

func (g *GPU) reapFinishedKernels(cycle int64) {
	var stillRunning []*kernel.Kernel
	for _, k := range g.RunningKernels {
		bd := g.bindings[k.ID]
		if bd != nil && len(bd.pending) == 0 {
			k.Finish = true
			k.Running = false
			k.EndCycle = cycle
			g.FinishedKernels = append(g.FinishedKernels, k)
			delete(g.bindings, k.ID)
		} else {
			stillRunning = append(stillRunning, k)
		}
	}
	g.RunningKernels = stillRunning
}

// TerminateKernel scrubs k from the command queue, running kernels, and
// every SM's running blocks (spec.md §4.5 terminate_kernel / §5
// termination purge requirement).
func (g *GPU) TerminateKernel(k *kernel.Kernel) {
	g.CommandQueue = filterKernel(g.CommandQueue, k)
	g.RunningKernels = filterKernel(g.RunningKernels, k)
	if bd := g.bindings[k.ID]; bd != nil {
		for smID, sub := range bd.subs {
			g.sm(smID).TerminateKernel(sub)
		}
	}
	delete(g.bindings, k.ID)
	for _, sm := range g.SMs {
		sm.TerminateKernel(k)
	}
}

func filterKernel(in []*kernel.Kernel, target *kernel.Kernel) []*kernel.Kernel {
	out := in[:0:0]
	for _, k := range in {
		if k != target {
			out = append(out, k)
		}
	}
	return out
}

// CollectOutboxes gathers newly emitted accesses in round-robin order
// across warps-then-SMs (spec.md §4.4 step 3: "to avoid starving
// high-numbered SMs"), draining every warp's Outbox.
func (g *GPU) CollectOutboxes(maxWarpPerSM int) []*mc.Access {
	var collected []*mc.Access
	for warpIdx := 0; warpIdx < maxWarpPerSM; warpIdx++ {
		for _, sm := range g.SMs {
			if warpIdx >= len(sm.WarpPool) {
				continue
			}
			w := sm.WarpPool[warpIdx]
			if len(w.Outbox) > 0 {
				collected = append(collected, w.Outbox...)
				w.Outbox = nil
			}
		}
	}
	return collected
}

// DeliverReturns routes GMMU responses into their originating warp's
// inbox (spec.md §4.4 step 2).
func (g *GPU) DeliverReturns(accesses []*mc.Access) {
	for _, a := range accesses {
		sm := g.sm(a.SMID)
		if sm == nil || a.WarpID >= len(sm.WarpPool) {
			continue
		}
		w := sm.WarpPool[a.WarpID]
		w.Inbox = append(w.Inbox, a)
	}
}
