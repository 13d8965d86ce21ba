// Package sim drives a cycle-accurate simulation of a multi-tenant GPGPU
// inference server with unified CPU/GPU virtual memory: a four-domain
// clock (CPU, MC, GMMU, GPU), a typed Config record of every design-time
// knob, and the Simulator that ties the domain packages together into one
// Run() loop.
//
// # Reading Guide
//
// Start with these three files:
//   - clock.go: the multi-domain tick-advance algorithm (§4.1)
//   - config.go: every configuration knob, as a typed record
//   - simulator.go: the Run() loop and per-tick dispatch order
//
// # Architecture
//
// The domain state itself lives in sub-packages, each owning one tier of
// the memory/execution hierarchy:
//   - sim/page: the page arena (free list, allocation, chains)
//   - sim/mc: the memory controller (page residency, access counters)
//   - sim/gmmu: per-application page groups, fault handling, migration
//   - sim/gpu: SM/block/warp execution and kernel completion tracking
//   - sim/kernel: the DAG node every scheduler phase reasons about
//   - sim/app: the Application/Model task-to-kernel-DAG runtime
//   - sim/policy: the three-phase scheduler family (Baseline/Greedy/BARM/
//     Lazy-Batching/SALBI)
//   - sim/hostmmu: host-side handle-to-page-chain translation
//   - sim/model: the fixed neural-network layer compiler and benchmark
//     library (LeNet, ResNet18, VGG16)
//   - sim/workload: TASK_MODE preset resolution into application sets
//   - sim/telemetry: the persisted output log and live-telemetry broadcast
//   - sim/lru: the generic LRU cache the GMMU and host MMU both build on
package sim
