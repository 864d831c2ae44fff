package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is the process-wide usage reported with stats snapshots.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

const cpuMetric = "/sched/cpu:seconds"

// resourceTracker derives CPU usage from the delta between two snapshots.
type resourceTracker struct {
	mu             sync.Mutex
	sample         []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		sample: []metrics.Sample{{Name: cpuMetric}},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.sample)
	now := time.Now()

	var cpuPercent float64
	if v := r.sample[0].Value; v.Kind() == metrics.KindFloat64 {
		cpuSeconds := v.Float64()
		if !r.lastSample.IsZero() {
			wall := now.Sub(r.lastSample).Seconds()
			if wall > 0 && r.numCPU > 0 {
				cpuPercent = (cpuSeconds - r.lastCPUSeconds) / wall / r.numCPU * 100
			}
		}
		r.lastCPUSeconds = cpuSeconds
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}
