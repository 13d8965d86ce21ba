// Package cmd implements the command-line entrypoint: one root command
// plus a "run" subcommand exposing every spec.md §6 configuration knob as
// a flag.
//
// Grounded on the teacher's cmd/root.go cobra idiom: package-level flag
// variables populated via Flags().XVar(&var, name, default, help), a
// single run subcommand, and Execute() exiting nonzero on error.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kunsheng/gpgpu-sim/sim"
	"github.com/kunsheng/gpgpu-sim/sim/telemetry"
	"github.com/kunsheng/gpgpu-sim/sim/workload"
)

var (
	schedulerMode string
	batchMode     string
	inferenceMode string
	memAllocation string
	taskMode      string

	pageSize  int64
	dramSpace int64
	vramSpace int64
	diskSpace int64

	gpuSMNum            int
	gpuMaxBlockPerSM    int
	gpuMaxWarpPerSM     int
	gpuMaxWarpPerBlock  int
	gpuMaxThreadPerWarp int
	gpuMaxAccessNumber  int

	pcieAccessBound             int
	pageFaultCommunicationCycle int64
	pageFaultMigrationUnitCycle int64
	pagePrefetch                bool
	compulsoryMiss              bool
	penaltyEnabled              bool

	hardDeadline   bool
	enableDeadline bool

	lazyMaxBatchSize int

	cpuFreq  int64
	mcFreq   int64
	gpuFreq  int64
	gmmuFreq int64

	seed int64

	outputLogPath string
	websocketAddr string
)

var rootCmd = &cobra.Command{
	Use:   "gpgpu-sim",
	Short: "Cycle-accurate multi-tenant GPGPU inference simulator",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation to completion and persist its output log",
	RunE:  runSimulation,
}

func init() {
	def := sim.DefaultConfig()

	runCmd.Flags().StringVar(&schedulerMode, "scheduler-mode", string(def.SchedulerMode), "scheduler policy: baseline, greedy, barm, lazy-batching, salbi")
	runCmd.Flags().StringVar(&batchMode, "batch-mode", string(def.BatchMode), "batch admission mode: disable, max")
	runCmd.Flags().StringVar(&inferenceMode, "inference-mode", string(def.InferenceMode), "sequential or parallel application co-scheduling")
	runCmd.Flags().StringVar(&memAllocation, "mem-allocation", string(def.MemAllocation), "standalone VRAM allocator: none, average, mema, r_mema, basla, salbi")
	runCmd.Flags().StringVar(&taskMode, "task-mode", def.TaskMode, "fixed application set: Light, Heavy, Mix, All, LeNet, ResNet18, VGG16, TEST1, TEST2")

	runCmd.Flags().Int64Var(&pageSize, "page-size", def.PageSize, "page granularity in bytes")
	runCmd.Flags().Int64Var(&dramSpace, "dram-space", def.DRAMSpace, "DRAM tier capacity in bytes")
	runCmd.Flags().Int64Var(&vramSpace, "vram-space", def.VRAMSpace, "VRAM tier capacity in bytes")
	runCmd.Flags().Int64Var(&diskSpace, "disk-space", def.DiskSpace, "soft disk-space cap in bytes (0 disables the warning)")

	runCmd.Flags().IntVar(&gpuSMNum, "gpu-sm-num", def.GPUSMNum, "number of streaming multiprocessors")
	runCmd.Flags().IntVar(&gpuMaxBlockPerSM, "gpu-max-block-per-sm", def.GPUMaxBlockPerSM, "max resident blocks per SM")
	runCmd.Flags().IntVar(&gpuMaxWarpPerSM, "gpu-max-warp-per-sm", def.GPUMaxWarpPerSM, "max resident warps per SM")
	runCmd.Flags().IntVar(&gpuMaxWarpPerBlock, "gpu-max-warp-per-block", def.GPUMaxWarpPerBlock, "max warps per block")
	runCmd.Flags().IntVar(&gpuMaxThreadPerWarp, "gpu-max-thread-per-warp", def.GPUMaxThreadPerWarp, "threads per warp")
	runCmd.Flags().IntVar(&gpuMaxAccessNumber, "gpu-max-access-number", def.GPUMaxAccessNumber, "max page IDs carried by one memory access")

	runCmd.Flags().IntVar(&pcieAccessBound, "pcie-access-bound", def.PCIeAccessBound, "pages migrated per fault batch")
	runCmd.Flags().Int64Var(&pageFaultCommunicationCycle, "page-fault-communication-cycle", def.PageFaultCommunicationCycle, "fixed migration latency term")
	runCmd.Flags().Int64Var(&pageFaultMigrationUnitCycle, "page-fault-migration-unit-cycle", def.PageFaultMigrationUnitCycle, "per-page migration latency term")
	runCmd.Flags().BoolVar(&pagePrefetch, "page-prefetch", def.PagePrefetch, "enable sequential page prefetch")
	runCmd.Flags().BoolVar(&compulsoryMiss, "compulsory-miss", def.CompulsoryMiss, "start every page in DRAM rather than VRAM")
	runCmd.Flags().BoolVar(&penaltyEnabled, "penalty-enabled", def.PenaltyEnabled, "charge the full migration-penalty formula (vs. a flat 1 cycle)")

	runCmd.Flags().BoolVar(&hardDeadline, "hard-deadline", def.HardDeadline, "accepted for config parity; not consulted by the simulator (see --enable-deadline)")
	runCmd.Flags().BoolVar(&enableDeadline, "enable-deadline", def.EnableDeadline, "run the deadline handler every CPU tick")

	runCmd.Flags().IntVar(&lazyMaxBatchSize, "lazy-max-batch-size", def.LazyMaxBatchSize, "Lazy-Batching's per-tick batch budget")

	runCmd.Flags().Int64Var(&cpuFreq, "cpu-freq", def.CPUFreq, "CPU domain clock period")
	runCmd.Flags().Int64Var(&mcFreq, "mc-freq", def.MCFreq, "memory-controller domain clock period")
	runCmd.Flags().Int64Var(&gpuFreq, "gpu-freq", def.GPUFreq, "GPU domain clock period")
	runCmd.Flags().Int64Var(&gmmuFreq, "gmmu-freq", def.GMMUFreq, "GMMU domain clock period")

	runCmd.Flags().Int64Var(&seed, "seed", 1, "deterministic simulation key seeding workload arrival streams")

	runCmd.Flags().StringVar(&outputLogPath, "output", def.OutputLogPath, "path to the persisted output log")
	runCmd.Flags().StringVar(&websocketAddr, "websocket-addr", "", "if set, serve a live-telemetry websocket on this address (e.g. :8080)")

	rootCmd.AddCommand(runCmd)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg := sim.Config{
		SchedulerMode: sim.SchedulerMode(schedulerMode),
		BatchMode:     sim.BatchMode(batchMode),
		InferenceMode: sim.InferenceMode(inferenceMode),
		MemAllocation: sim.MemAllocation(memAllocation),
		TaskMode:      taskMode,

		PageSize:  pageSize,
		DRAMSpace: dramSpace,
		VRAMSpace: vramSpace,
		DiskSpace: diskSpace,

		GPUSMNum:            gpuSMNum,
		GPUMaxBlockPerSM:    gpuMaxBlockPerSM,
		GPUMaxWarpPerSM:     gpuMaxWarpPerSM,
		GPUMaxWarpPerBlock:  gpuMaxWarpPerBlock,
		GPUMaxThreadPerWarp: gpuMaxThreadPerWarp,
		GPUMaxAccessNumber:  gpuMaxAccessNumber,

		PCIeAccessBound:             pcieAccessBound,
		PageFaultCommunicationCycle: pageFaultCommunicationCycle,
		PageFaultMigrationUnitCycle: pageFaultMigrationUnitCycle,
		PagePrefetch:                pagePrefetch,
		CompulsoryMiss:              compulsoryMiss,
		PenaltyEnabled:              penaltyEnabled,

		HardDeadline:   hardDeadline,
		EnableDeadline: enableDeadline,

		LazyMaxBatchSize: lazyMaxBatchSize,

		CPUFreq:  cpuFreq,
		MCFreq:   mcFreq,
		GPUFreq:  gpuFreq,
		GMMUFreq: gmmuFreq,

		OutputLogPath: outputLogPath,
	}

	w := workload.Load(cfg.TaskMode, sim.NewSimulationKey(seed), cfg.EnableDeadline)
	s := sim.NewSimulator(cfg, w.Apps)
	s.SetFactories(w.Factories(s))

	if websocketAddr != "" {
		b := telemetry.NewBroadcaster()
		s.AttachBroadcaster(b)
		go serveBroadcaster(websocketAddr, b)
	}

	logrus.Infof("gpgpu-sim: starting run, task-mode=%s scheduler=%s seed=%d", cfg.TaskMode, cfg.SchedulerMode, seed)
	s.Run()
	logrus.Infof("gpgpu-sim: run complete, output written to %s", cfg.OutputLogPath)
	return nil
}

// Execute runs the root command, exiting nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
