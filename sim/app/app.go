// Package app implements the Application/Model runtime: the task queue
// that turns arriving work into in-flight Models, and the per-model
// kernel-DAG readiness tracking every scheduler policy walks.
//
// Grounded on original_source/src/Application.cpp/include/Application.hpp
// and src/include/Models.hpp (ModelInfo's field set); recast per spec.md
// §9 so a Model never holds a live *Layer back-reference — it owns a
// compiled kernel.ID -> *kernel.Kernel map handed to it by the external
// model compiler (sim/model), keeping sim/app free of that dependency.
package app

import "github.com/kunsheng/gpgpu-sim/sim/kernel"

// ModelInfo is the compiled-model metadata an Application reports about
// its benchmark, mirroring Model's protected fields in Models.hpp.
type ModelInfo struct {
	ModelName      string
	NumOfLayer     int
	BatchSize      int
	IOMemCount     int64
	FilterMemCount int64
}

// Task is one unit of arriving work: a request to run the application's
// model once, optionally against a deadline (spec.md §4.8 "task.deadline").
type Task struct {
	ArrivalCycle int64
	Deadline     int64 // 0 disables the deadline handler for this task
}

// Model is one in-flight run of an application's compiled kernel DAG.
// Kernels are addressed by ID, never by pointer, per spec.md §9's
// arena-index recasting.
type Model struct {
	ID      int
	AppID   int
	Kernels map[kernel.ID]*kernel.Kernel

	Deadline              int64
	TotalRemainingExecute int64 // sum of the kernels' request counts, set by NewModel and not updated as layers finish; feeds the Lazy-Batching slack calc and the deadline handler
	BatchSize             int  // Lazy-Batching's batch_budget subtraction unit; defaults to 1

	// Handles lists every host MMU allocation this model's kernels
	// compiled against (sim/model.CompileToKernels' second return value),
	// so the simulator can give them back on completion
	// (original_source's Model::memoryRelease(&mMMU)) without needing a
	// live reference back into the layer compiler.
	Handles []uint64

	// SMBudget is the per-model SM allocation Lazy-Batching assigns
	// independently of the application's own SMBudget (spec.md §4.7.3):
	// a model with an empty budget is held back this tick even though
	// its application is otherwise ready.
	SMBudget map[int]bool

	Finish bool
}

// NewModel wraps a compiled kernel set (sim/model.CompileToKernels' output)
// into a runtime Model, keyed by kernel ID for O(1) dependency lookups.
func NewModel(id, appID int, kernels []*kernel.Kernel, deadline int64) *Model {
	m := &Model{ID: id, AppID: appID, Kernels: make(map[kernel.ID]*kernel.Kernel, len(kernels)), Deadline: deadline, BatchSize: 1}
	for _, k := range kernels {
		m.Kernels[k.ID] = k
		m.TotalRemainingExecute += int64(len(k.Requests))
	}
	return m
}

// Finished reports whether kernel k (by ID) has completed, the lookup
// Kernel.Ready needs and never holds itself.
func (m *Model) Finished(id kernel.ID) bool {
	k, ok := m.Kernels[id]
	return ok && k.Finish
}

// ReadyKernels returns every kernel whose dependencies are all finished,
// is not already running, and is not itself finished — the set every
// launcher phase (Baseline/BARM/Lazy-Batching/SALBI) groups by layer ID.
func (m *Model) ReadyKernels() []*kernel.Kernel {
	var ready []*kernel.Kernel
	for _, k := range m.Kernels {
		if k.Finish || k.Running {
			continue
		}
		if k.Ready(m.Finished) {
			ready = append(ready, k)
		}
	}
	return ready
}

// AllFinished reports whether every kernel in the model's DAG has
// completed; the model runtime retires itself once this holds.
func (m *Model) AllFinished() bool {
	for _, k := range m.Kernels {
		if !k.Finish {
			return false
		}
	}
	return true
}

// Application owns a task queue, the models waiting for SM/memory
// admission, and the models currently running (spec.md §3 Application).
type Application struct {
	ID        int
	ModelType string
	ModelInfo ModelInfo

	TaskQueue     []Task
	WaitingModels []*Model
	RunningModels []*Model

	SMBudget map[int]bool

	Finish bool

	nextModelID int
}

// New constructs an application with an empty budget and no models yet.
func New(id int, modelType string, info ModelInfo, tasks []Task) *Application {
	return &Application{
		ID:        id,
		ModelType: modelType,
		ModelInfo: info,
		TaskQueue: tasks,
		SMBudget:  map[int]bool{},
	}
}

// NextModelID hands out a model ID unique within this application, for
// the workload preset loader to pass into app.NewModel.
func (a *Application) NextModelID() int {
	id := a.nextModelID
	a.nextModelID++
	return id
}

// Cycle implements spec.md §4.1's per-CPU-tick Application handling:
// declare finish once the task queue, waiting set and running set are
// all drained.
// Task-to-model promotion and waiting->running admission are the
// scheduler's job (spec.md §4.7.1 "splice waiting_models into
// running_models"), not the application's — this only tracks the
// overall-done condition.
func (a *Application) Cycle() {
	if len(a.TaskQueue) == 0 && len(a.RunningModels) == 0 && len(a.WaitingModels) == 0 {
		a.Finish = true
	}
}

// PopTask dequeues the next arrived task, or nil if none has arrived by
// cycle. Tasks are FIFO-ordered by arrival.
func (a *Application) PopTask(cycle int64) *Task {
	if len(a.TaskQueue) == 0 || a.TaskQueue[0].ArrivalCycle > cycle {
		return nil
	}
	t := a.TaskQueue[0]
	a.TaskQueue = a.TaskQueue[1:]
	return &t
}

// Enqueue appends a model to the waiting set, the landing spot for a
// freshly popped task once the model compiler has produced its kernels.
func (a *Application) Enqueue(m *Model) {
	a.WaitingModels = append(a.WaitingModels, m)
}

// Admit moves every waiting model into the running set (Baseline
// admission, spec.md §4.7.1). It does not touch SM budgets; the
// scheduler assigns those.
func (a *Application) Admit() {
	for _, m := range a.WaitingModels {
		a.RunningModels = append(a.RunningModels, m)
	}
	a.WaitingModels = nil
}

// ReapFinished drops every running model whose kernel DAG has fully
// completed, returning them for the caller to release pages/SMs for.
func (a *Application) ReapFinished() []*Model {
	var finished, kept []*Model
	for _, m := range a.RunningModels {
		if m.AllFinished() {
			m.Finish = true
			finished = append(finished, m)
		} else {
			kept = append(kept, m)
		}
	}
	a.RunningModels = kept
	return finished
}

// Terminate removes model m from both the waiting and running sets
// (spec.md §4.8 deadline miss / §5 termination purge). Callers are
// responsible for releasing the model's pages and kernels elsewhere.
func (a *Application) Terminate(m *Model) {
	a.WaitingModels = filterModel(a.WaitingModels, m)
	a.RunningModels = filterModel(a.RunningModels, m)
}

func filterModel(in []*Model, target *Model) []*Model {
	out := in[:0:0]
	for _, m := range in {
		if m != target {
			out = append(out, m)
		}
	}
	return out
}
