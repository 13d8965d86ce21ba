package sim

// Clock implements spec.md §4.1's multi-domain clock: four virtual
// domains (CPU, MC, GMMU, GPU) with independent periods, advanced by the
// classic "fire whoever is earliest or tied" discrete-event rule. Unlike
// the teacher's heap.Interface EventQueue (sim/simulator.go's
// container/heap-ordered events), here there are only ever four
// schedulable entities, so a plain four-field struct replaces the heap.
type Clock struct {
	tCPU, tMC, tGMMU, tGPU                      int64
	periodCPU, periodMC, periodGMMU, periodGPU int64

	GPUCycle int64
}

// NewClock builds a Clock from the configured domain periods (spec.md §6
// CPU_F, MC_F, GPU_F, GMMU_F). A period ≤ 0 is clamped to 1 so a
// misconfigured domain still fires every tick rather than never.
func NewClock(cfg Config) *Clock {
	return &Clock{
		periodCPU:  clampPeriod(cfg.CPUFreq),
		periodMC:   clampPeriod(cfg.MCFreq),
		periodGMMU: clampPeriod(cfg.GMMUFreq),
		periodGPU:  clampPeriod(cfg.GPUFreq),
	}
}

func clampPeriod(p int64) int64 {
	if p <= 0 {
		return 1
	}
	return p
}

// Fires is which domains are due this tick, in spec.md §5's canonical
// dispatch order CPU -> MC -> GMMU -> GPU.
type Fires struct {
	CPU, MC, GMMU, GPU bool
}

// Advance computes t* = min(t_cpu, t_mc, t_gmmu, t_gpu), fires every
// domain whose time has come, and advances each fired domain by its
// period. GPUCycle increments on every GPU fire, the counter every
// log record and deadline calculation is expressed in.
func (c *Clock) Advance() Fires {
	tStar := c.tCPU
	if c.tMC < tStar {
		tStar = c.tMC
	}
	if c.tGMMU < tStar {
		tStar = c.tGMMU
	}
	if c.tGPU < tStar {
		tStar = c.tGPU
	}

	f := Fires{
		CPU:  c.tCPU <= tStar,
		MC:   c.tMC <= tStar,
		GMMU: c.tGMMU <= tStar,
		GPU:  c.tGPU <= tStar,
	}
	if f.CPU {
		c.tCPU += c.periodCPU
	}
	if f.MC {
		c.tMC += c.periodMC
	}
	if f.GMMU {
		c.tGMMU += c.periodGMMU
	}
	if f.GPU {
		c.tGPU += c.periodGPU
		c.GPUCycle++
	}
	return f
}
