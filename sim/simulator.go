// sim/simulator.go
package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/kunsheng/gpgpu-sim/sim/app"
	"github.com/kunsheng/gpgpu-sim/sim/gmmu"
	"github.com/kunsheng/gpgpu-sim/sim/gpu"
	"github.com/kunsheng/gpgpu-sim/sim/hostmmu"
	"github.com/kunsheng/gpgpu-sim/sim/kernel"
	"github.com/kunsheng/gpgpu-sim/sim/mc"
	"github.com/kunsheng/gpgpu-sim/sim/page"
	"github.com/kunsheng/gpgpu-sim/sim/policy"
	"github.com/kunsheng/gpgpu-sim/sim/telemetry"
)

// ModelFactory compiles a newly arrived task into a runtime Model,
// closing over the application's benchmark layers and the shared host
// MMU (sim/model.CompileToKernels plus app.NewModel). Supplied per
// application by the workload preset loader, which is the only
// collaborator that knows which fixed topology an application runs.
type ModelFactory func(modelID int, deadline int64) *app.Model

// Simulator is the core orchestrator: it owns the clock, every domain's
// state, the scheduler, and the output log, and drives them through
// spec.md §5's canonical per-tick dispatch order.
//
// Grounded on the teacher's sim/simulator.go Run() loop shape (advance
// time, dispatch, check termination) generalized from a single
// heap-ordered event queue to the four-domain tick dispatch spec.md §4.1
// describes — this is the central "keep HOW, replace WHAT" adaptation
// the transformation calls for.
type Simulator struct {
	cfg   Config
	clock *Clock

	store   *page.Store
	hostMMU *hostmmu.MMU
	mc      *mc.Controller
	gmmu    *gmmu.GMMU
	gpu     *gpu.GPU
	sched   policy.Scheduler
	apps    []*app.Application
	factory map[int]ModelFactory

	logger *telemetry.Logger
}

// NewSimulator wires every domain together from cfg: one shared page
// store (so kernels' page IDs and the MC/GMMU's views of them agree),
// the GMMU and GPU topologies, and the selected scheduler. apps must
// already have their ModelInfo populated. Call HostMMU to obtain the
// host-side allocator a workload loader's model factories compile
// kernels against, then SetFactories before Run.
func NewSimulator(cfg Config, apps []*app.Application) *Simulator {
	store := page.NewStore(cfg.PageSize, cfg.DiskSpace, cfg.CompulsoryMiss)
	mcCtrl := mc.NewController(store, cfg.GPUMaxAccessNumber)
	g := gmmu.New(gmmu.Config{
		PCIeAccessBound:             cfg.PCIeAccessBound,
		PageFaultCommunicationCycle: cfg.PageFaultCommunicationCycle,
		PageFaultMigrationUnitCycle: cfg.PageFaultMigrationUnitCycle,
		PagePrefetch:                cfg.PagePrefetch,
		PenaltyEnabled:              cfg.PenaltyEnabled,
	}, cfg.MemAllocation != MemNone)
	gp := gpu.New(cfg.GPUSMNum, cfg.GPUMaxBlockPerSM, cfg.GPUMaxWarpPerSM, cfg.GPUMaxWarpPerBlock, cfg.GPUMaxThreadPerWarp, cfg.GPUMaxAccessNumber)

	sched := policy.NewScheduler(string(cfg.SchedulerMode), policy.Config{
		LazyMaxBatchSize: cfg.LazyMaxBatchSize,
		MemAllocation:    string(cfg.MemAllocation),
	})

	return &Simulator{
		cfg:     cfg,
		clock:   NewClock(cfg),
		store:   store,
		hostMMU: hostmmu.New(store, int(cfg.GPUMaxAccessNumber)*1024),
		mc:      mcCtrl,
		gmmu:    g,
		gpu:     gp,
		sched:   sched,
		apps:    apps,
		logger:  telemetry.Open(cfg.OutputLogPath),
	}
}

// HostMMU returns the allocator model factories compile layer footprints
// against, shared with the simulator's own page store so kernel page IDs
// and GMMU/MC residency agree.
func (s *Simulator) HostMMU() *hostmmu.MMU { return s.hostMMU }

// PageSize returns the configured page granularity, for factories that
// need it to size CompileToKernels calls.
func (s *Simulator) PageSize() int64 { return s.cfg.PageSize }

// SetFactories registers, per application ID, the closure that compiles
// an arriving task into a runtime Model.
func (s *Simulator) SetFactories(factory map[int]ModelFactory) { s.factory = factory }

// AttachBroadcaster wires a dashboard fan-out onto the output log.
func (s *Simulator) AttachBroadcaster(b *telemetry.Broadcaster) { s.logger.Attach(b) }

// Run drives the simulation until every application reports Finish
// (spec.md §4.1 "the loop terminates when every application reports
// finish. There are no timeouts or preemption at this layer.").
func (s *Simulator) Run() {
	defer s.logger.Close()

	for !s.allAppsFinished() {
		fires := s.clock.Advance()

		if fires.CPU {
			s.cpuTick()
		}
		if fires.MC {
			s.mc.Tick()
		}
		if fires.GMMU {
			s.gmmuTick()
		}
		if fires.GPU {
			s.gpuTick()
		}
	}
	logrus.Infof("[gpu_cycle %07d] simulation ended", s.clock.GPUCycle)
}

// sequentialTurn implements INFERENCE_MODE=Sequential (spec.md §6): only
// the first application that still has work gets to admit tasks or be
// scheduled this tick, so two apps' running_kernels sets are never
// concurrently non-empty (spec.md §8 scenario 2).
func (s *Simulator) sequentialTurn() []*app.Application {
	for _, a := range s.apps {
		if !a.Finish {
			return []*app.Application{a}
		}
	}
	return nil
}

func (s *Simulator) allAppsFinished() bool {
	for _, a := range s.apps {
		if !a.Finish {
			return false
		}
	}
	return true
}

// cpuTick implements spec.md §4.8 (deadline handler, if enabled) then
// spec.md §4.1's per-app task intake, then the scheduler's three phases.
func (s *Simulator) cpuTick() {
	cycle := s.clock.GPUCycle

	if s.cfg.EnableDeadline {
		s.runDeadlineHandler(cycle)
	}

	activeApps := s.apps
	if s.cfg.InferenceMode == Sequential {
		activeApps = s.sequentialTurn()
	}

	for _, a := range activeApps {
		factory := s.factory[a.ID]
		for {
			task := a.PopTask(cycle)
			if task == nil {
				break
			}
			if factory == nil {
				logrus.Warnf("sim: app %d has an arrived task but no model factory registered, dropping", a.ID)
				continue
			}
			m := factory(a.NextModelID(), task.Deadline)
			a.Enqueue(m)
			if s.cfg.BatchMode == BatchDisable {
				break
			}
		}
		a.Cycle()
	}

	ctx := &policy.Context{
		Apps:      activeApps,
		GMMU:      s.gmmu,
		GPU:       s.gpu,
		SMTotal:   s.cfg.GPUSMNum,
		PageSize:  s.cfg.PageSize,
		VRAMBytes: s.cfg.VRAMSpace,
		Cycle:     cycle,
	}
	done := s.sched.Sched(ctx)
	s.logFinishedKernels(done)

	for _, a := range s.apps {
		for _, m := range a.ReapFinished() {
			for _, h := range m.Handles {
				s.hostMMU.Release(h)
			}
			s.gmmu.FreeCGroup(a.ID)
			s.logger.ModelFinished(a.ID, m.ID, a.ModelType, a.ModelInfo.BatchSize)
		}
	}
}

// runDeadlineHandler implements spec.md §4.8: any waiting or running
// model whose slack has run out this tick is declared missed, its
// kernels terminated, and the model destroyed — before admission runs.
func (s *Simulator) runDeadlineHandler(cycle int64) {
	for _, a := range s.apps {
		for _, m := range append(append([]*app.Model{}, a.WaitingModels...), a.RunningModels...) {
			if m.Deadline == 0 {
				continue
			}
			if m.Deadline-m.TotalRemainingExecute > cycle {
				continue
			}
			s.terminateModel(a, m, cycle)
		}
	}
}

func (s *Simulator) terminateModel(a *app.Application, m *app.Model, cycle int64) {
	for _, k := range m.Kernels {
		s.gpu.TerminateKernel(k)
	}
	for _, h := range m.Handles {
		s.hostMMU.Release(h)
	}
	s.gmmu.TerminateModel(s.mc, a.ID, m.ID)
	a.Terminate(m)
	s.logger.DeadlineMiss(a.ID, m.ID, a.ModelType, a.ModelInfo.BatchSize, 0, m.Deadline, 0, cycle)
	logrus.Infof("sim: app %d model %d missed its deadline at cycle %d, terminated", a.ID, m.ID, cycle)
}

// gmmuTick implements the GMMU's slice of spec.md §5's CPU->MC->GMMU->GPU
// order: collect newly emitted warp accesses, run the fault handler and
// access-processing phases, and deliver resolved responses back.
func (s *Simulator) gmmuTick() {
	collected := s.gpu.CollectOutboxes(s.cfg.GPUMaxWarpPerSM)
	toWarps := s.gmmu.Tick(s.mc, collected)
	s.gpu.DeliverReturns(toWarps)
}

func (s *Simulator) gpuTick() {
	s.gpu.Tick(s.clock.GPUCycle)
}

func (s *Simulator) logFinishedKernels(done []*kernel.Kernel) {
	for _, k := range done {
		var records []telemetry.BlockRecord
		for _, r := range k.BlockRecords {
			records = append(records, telemetry.BlockRecord{
				BlockID: r.BlockID, SMID: r.SMID, StartCycle: r.StartCycle, EndCycle: r.EndCycle,
				LaunchedAccesses: r.LaunchedAccesses, ReturnedAccesses: r.ReturnedAccesses, Pages: r.Pages,
			})
		}
		s.logger.KernelFinished(int(k.ID), records)
	}
}
