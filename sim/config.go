package sim

// SchedulerMode selects the scheduler policy triple (spec.md §6 SCHEDULER_MODE).
type SchedulerMode string

const (
	Baseline     SchedulerMode = "baseline"
	Greedy       SchedulerMode = "greedy"
	BARM         SchedulerMode = "barm"
	LazyBatching SchedulerMode = "lazy-batching"
	SALBI        SchedulerMode = "salbi"
)

// BatchMode selects how many queued tasks a model admits per cycle.
type BatchMode string

const (
	BatchDisable BatchMode = "disable"
	BatchMax     BatchMode = "max"
)

// InferenceMode selects whether applications run one at a time or are co-scheduled.
type InferenceMode string

const (
	Sequential InferenceMode = "sequential"
	Parallel   InferenceMode = "parallel"
)

// MemAllocation selects the standalone VRAM allocator (spec.md §6 MEM_ALLOCATION).
type MemAllocation string

const (
	MemNone   MemAllocation = "none"
	MemAvg    MemAllocation = "average"
	MemMEMA   MemAllocation = "mema"
	MemRMEMA  MemAllocation = "r_mema"
	MemBASLA  MemAllocation = "basla"
	MemSALBI  MemAllocation = "salbi" // SALBI folds its own allocation into ORBIS; this value means "let the scheduler handle it"
)

// Config gathers every design-time knob spec.md §6 lists into one typed
// record, passed explicitly into NewSimulator — grounded on the teacher's
// sim/config.go pattern of small, named config groups, collapsed here
// into one struct since this domain has a single coherent knob set
// rather than per-subsystem ones.
type Config struct {
	SchedulerMode SchedulerMode
	BatchMode     BatchMode
	InferenceMode InferenceMode
	MemAllocation MemAllocation
	TaskMode      string // key into sim/workload's preset registry

	PageSize  int64
	DRAMSpace int64
	VRAMSpace int64
	DiskSpace int64

	GPUSMNum            int
	GPUMaxBlockPerSM    int
	GPUMaxWarpPerSM     int
	GPUMaxWarpPerBlock  int
	GPUMaxThreadPerWarp int
	GPUMaxAccessNumber  int

	PCIeAccessBound             int
	PageFaultCommunicationCycle int64
	PageFaultMigrationUnitCycle int64
	PagePrefetch                bool
	CompulsoryMiss              bool
	PenaltyEnabled              bool

	HardDeadline   bool
	EnableDeadline bool

	LazyMaxBatchSize int

	CPUFreq  int64
	MCFreq   int64
	GPUFreq  int64
	GMMUFreq int64

	OutputLogPath string
}

// DefaultConfig returns the knob values the original implementation's
// default build uses (original_source/src/include/Config.h's constants,
// carried forward per spec.md §6's table), suitable as a cobra flag
// default set.
func DefaultConfig() Config {
	return Config{
		SchedulerMode: Baseline,
		BatchMode:     BatchMax,
		InferenceMode: Sequential,
		MemAllocation: MemNone,
		TaskMode:      "Light",

		PageSize:  4096,
		DRAMSpace: 1 << 30,
		VRAMSpace: 1 << 28,
		DiskSpace: 1 << 32,

		GPUSMNum:            8,
		GPUMaxBlockPerSM:    4,
		GPUMaxWarpPerSM:     16,
		GPUMaxWarpPerBlock:  4,
		GPUMaxThreadPerWarp: 32,
		GPUMaxAccessNumber:  4,

		PCIeAccessBound:             64,
		PageFaultCommunicationCycle: 100,
		PageFaultMigrationUnitCycle: 10,
		PagePrefetch:                true,
		CompulsoryMiss:              false,
		PenaltyEnabled:              true,

		HardDeadline:   false,
		EnableDeadline: false,

		LazyMaxBatchSize: 4,

		CPUFreq:  1,
		MCFreq:   1,
		GPUFreq:  1,
		GMMUFreq: 1,

		OutputLogPath: "simulation.log",
	}
}
