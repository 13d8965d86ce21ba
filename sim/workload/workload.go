// Package workload resolves a TASK_MODE name into a concrete application
// set: task arrival streams plus, once a Simulator exists to compile
// against, the per-application model factories it needs to turn an
// arriving task into a runtime Model.
//
// Grounded on the teacher's cmd/convert.go and cmd/default_config.go
// preset-loading idiom (an embedded/ on-disk YAML document, decoded with
// strict unknown-field rejection, logrus.Fatalf on an unresolvable name)
// adapted from per-request-rate vLLM workload presets to this domain's
// fixed named application sets.
package workload

import (
	"bytes"
	_ "embed"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/kunsheng/gpgpu-sim/sim"
	"github.com/kunsheng/gpgpu-sim/sim/app"
	"github.com/kunsheng/gpgpu-sim/sim/model"
)

//go:embed presets.yaml
var presetsYAML []byte

// AppSpec is one application entry inside a preset: how many instances to
// create, which compiled topology they run, and their arrival/deadline
// shape.
type AppSpec struct {
	Model          string  `yaml:"model"`
	Count          int     `yaml:"count"`
	TaskCount      int     `yaml:"task_count"`
	ArrivalRate    float64 `yaml:"arrival_rate"` // tasks/cycle; 0 means "all at cycle 0"
	DeadlineOffset int64   `yaml:"deadline_offset"`
	BatchSize      int     `yaml:"batch_size"`
}

// Preset is a named fixed application set (spec.md §6 TASK_MODE).
type Preset struct {
	Apps []AppSpec `yaml:"apps"`
}

type presetsFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

func loadPresetsFile() presetsFile {
	dec := yaml.NewDecoder(bytes.NewReader(presetsYAML))
	dec.KnownFields(true)

	var all presetsFile
	if err := dec.Decode(&all); err != nil {
		logrus.Fatalf("workload: error decoding embedded presets.yaml: %v", err)
	}
	return all
}

// resolvedApp is the bookkeeping Factories needs after Apps has already
// handed application objects (and their IDs) off to the caller.
type resolvedApp struct {
	appID     int
	modelName string
	batchSize int
}

// Workload is a resolved TASK_MODE: the application objects (ready to
// pass into sim.NewSimulator) plus enough bookkeeping to build their
// model factories once a Simulator exists.
type Workload struct {
	Apps     []*app.Application
	resolved []resolvedApp
}

// Load resolves presetName into a Workload. key seeds the deterministic
// per-application arrival-time RNG (sim.PartitionedRNG); enableDeadline
// controls whether DeadlineOffset is honored (spec.md §4.8: a task with
// Deadline 0 disables the handler for it).
func Load(presetName string, key sim.SimulationKey, enableDeadline bool) *Workload {
	all := loadPresetsFile()
	preset, ok := all.Presets[presetName]
	if !ok {
		logrus.Fatalf("workload: unknown TASK_MODE preset %q", presetName)
	}

	rng := sim.NewPartitionedRNG(key)
	w := &Workload{}

	appID := 0
	for _, spec := range preset.Apps {
		for i := 0; i < spec.Count; i++ {
			layers := libraryFor(spec.Model)
			info := modelInfo(spec.Model, layers)

			tasks := arrivalTasks(rng, appID, spec, enableDeadline)
			a := app.New(appID, spec.Model, info, tasks)
			w.Apps = append(w.Apps, a)
			w.resolved = append(w.resolved, resolvedApp{appID: appID, modelName: spec.Model, batchSize: spec.BatchSize})
			appID++
		}
	}
	return w
}

// Factories builds the per-application model-compiler closures, grounded
// against s's shared host MMU and page size so compiled kernels' page
// IDs resolve against the same store the simulator runs.
func (w *Workload) Factories(s *sim.Simulator) map[int]sim.ModelFactory {
	out := make(map[int]sim.ModelFactory, len(w.resolved))
	for _, r := range w.resolved {
		r := r
		out[r.appID] = func(modelID int, deadline int64) *app.Model {
			layers := libraryFor(r.modelName)
			kernels, handles := model.CompileToKernels(r.appID, modelID, s.PageSize(), s.HostMMU(), layers, model.Cascade)
			m := app.NewModel(modelID, r.appID, kernels, deadline)
			m.Handles = handles
			if r.batchSize > 0 {
				m.BatchSize = r.batchSize
			}
			return m
		}
	}
	return out
}

func libraryFor(name string) []model.Layer {
	switch name {
	case "LeNet":
		return model.NewLeNet()
	case "ResNet18":
		return model.NewResNet18()
	case "VGG16":
		return model.NewVGG16()
	default:
		logrus.Fatalf("workload: unknown model topology %q", name)
		return nil
	}
}

// modelInfo summarizes a compiled topology's static footprint into the
// app.ModelInfo every scheduler policy's BARM/SALBI arithmetic reads.
func modelInfo(name string, layers []model.Layer) app.ModelInfo {
	var filter, ifmap, ofmap int64
	for _, l := range layers {
		f, i, o := l.MemoryFootprint()
		filter += f
		ifmap += i
		ofmap += o
	}
	return app.ModelInfo{
		ModelName:      name,
		NumOfLayer:     len(layers),
		BatchSize:      1,
		IOMemCount:     ifmap + ofmap,
		FilterMemCount: filter,
	}
}

// arrivalTasks generates an application's task queue. A zero arrival rate
// means every task lands at cycle 0 (the deterministic single-burst
// scenarios spec.md §8 names); a positive rate draws exponential
// inter-arrival gaps from the app's own RNG subsystem so two apps with
// distinct IDs never share a stream.
func arrivalTasks(rng *sim.PartitionedRNG, appID int, spec AppSpec, enableDeadline bool) []app.Task {
	count := spec.TaskCount
	if count < 1 {
		count = 1
	}

	deadline := func(arrival int64) int64 {
		if enableDeadline && spec.DeadlineOffset > 0 {
			return arrival + spec.DeadlineOffset
		}
		return 0
	}

	if spec.ArrivalRate <= 0 {
		tasks := make([]app.Task, count)
		for i := range tasks {
			tasks[i] = app.Task{ArrivalCycle: 0, Deadline: deadline(0)}
		}
		return tasks
	}

	r := rng.ForSubsystem(sim.WorkloadAppSubsystem(appID))
	tasks := make([]app.Task, count)
	gaps := make([]float64, count)
	var cycle float64
	for i := 0; i < count; i++ {
		gap := -math.Log(1-r.Float64()) / spec.ArrivalRate
		gaps[i] = gap
		cycle += gap
		arrival := int64(cycle)
		tasks[i] = app.Task{ArrivalCycle: arrival, Deadline: deadline(arrival)}
	}

	mean, std := stat.MeanStdDev(gaps, nil)
	logrus.Debugf("workload: app %d drew %d arrivals, mean gap %.2f cycles (stddev %.2f)", appID, count, mean, std)
	return tasks
}
