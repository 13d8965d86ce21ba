package policy

import (
	"sort"

	"github.com/kunsheng/gpgpu-sim/sim/app"
	"github.com/kunsheng/gpgpu-sim/sim/kernel"
)

// LazyBatching implements spec.md §4.7.3: a deadline/slack/batch-budget
// walk that holds models back from a shared SM budget once either
// constraint would be violated, merging same-layer-ID ready kernels of
// the models that still get a budget into one launch.
//
// Grounded on original_source/src/Scheduler_LazyB.cpp
// (Inference_Admission / Kernel_Scheduler).
type LazyBatching struct {
	tracker      *groupTracker
	maxBatchSize int
}

func NewLazyBatching(maxBatchSize int) *LazyBatching {
	return &LazyBatching{tracker: newGroupTracker(), maxBatchSize: maxBatchSize}
}

func (l *LazyBatching) Sched(ctx *Context) []*kernel.Kernel {
	done := l.tracker.reap(ctx.GPU)
	l.admit(ctx)
	l.launch(ctx)
	return done
}

// admit moves every non-finished application's waiting models into its
// running set and round-robins the full SM set across those applications,
// then — for an application whose whole budget is currently idle — walks
// its running models tail-to-head (smallest ready-kernel ID first, which
// within one application is the earliest-created model), subtracting each model's remaining execute cycles from the
// slack available before the last model's deadline and its batch size
// from a shared batch budget. Models still within both budgets when
// their turn comes get the application's SM set; the rest get none.
func (l *LazyBatching) admit(ctx *Context) {
	var active []*app.Application
	for _, a := range ctx.Apps {
		if !a.Finish {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return
	}

	for _, a := range active {
		a.Admit()
		a.SMBudget = map[int]bool{}
	}
	smCount, smBudget := 0, ctx.SMTotal
	for smBudget > 0 {
		progressed := false
		for _, a := range active {
			if smBudget == 0 {
				break
			}
			a.SMBudget[smCount] = true
			smCount++
			smBudget--
			progressed = true
		}
		if !progressed {
			break
		}
	}

	idle := ctx.GPU.IdleSMs()
	for _, a := range active {
		if !budgetIsIdle(a.SMBudget, idle) || len(a.RunningModels) == 0 {
			continue
		}

		sort.Slice(a.RunningModels, func(i, j int) bool {
			ri, rj := a.RunningModels[i].ReadyKernels(), a.RunningModels[j].ReadyKernels()
			if len(ri) == 0 || len(rj) == 0 {
				return false
			}
			return minKernelID(ri) > minKernelID(rj)
		})

		slack := a.RunningModels[len(a.RunningModels)-1].Deadline - ctx.Cycle
		batchBudget := l.maxBatchSize

		for i := len(a.RunningModels) - 1; i >= 0; i-- {
			m := a.RunningModels[i]
			slack -= m.TotalRemainingExecute
			batchBudget -= m.BatchSize

			if slack >= 0 && batchBudget >= 0 {
				m.SMBudget = cloneSMSet(a.SMBudget)
			} else {
				m.SMBudget = nil
			}
		}
	}
}

func budgetIsIdle(budget, idle map[int]bool) bool {
	for sm := range budget {
		if !idle[sm] {
			return false
		}
	}
	return true
}

// launch takes, per application, each budgeted model's smallest-layer-ID
// ready kernel and merges those sharing the layer ID of the first one
// found into one KernelGroup spanning the union of their models' SM
// budgets; kernels at any other layer ID are not launched this tick.
func (l *LazyBatching) launch(ctx *Context) {
	for _, a := range ctx.Apps {
		var sync []*kernel.Kernel
		smList := map[int]bool{}
		latestLayerID := -1
		first := true

		for _, m := range a.RunningModels {
			if len(m.SMBudget) == 0 {
				continue
			}
			ready := m.ReadyKernels()
			if len(ready) == 0 {
				continue
			}
			k := minLayerKernel(ready)
			if first {
				latestLayerID = k.Layer.LayerID
				first = false
			}
			if k.Layer.LayerID == latestLayerID {
				sync = append(sync, k)
				for sm := range m.SMBudget {
					smList[sm] = true
				}
			}
		}
		if len(sync) == 0 {
			continue
		}
		l.tracker.launch(ctx.GPU, smList, sync)
	}
}

func minLayerKernel(ks []*kernel.Kernel) *kernel.Kernel {
	min := ks[0]
	for _, k := range ks {
		if k.Layer.LayerID < min.Layer.LayerID {
			min = k
		}
	}
	return min
}
