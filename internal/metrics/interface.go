package metrics

import "context"

// Sample is one collector tick. Values are never changed after creation.
type Sample struct {
	MemoryUsageMB   float64 `json:"memoryUsageMb"`
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
	FPS             float64 `json:"fps"`
	GPUUsagePercent float64 `json:"gpuUsagePercent"`
	Timestamp       int64   `json:"timestamp"` // epoch milliseconds
}

// Vitals is the dashboard view of the latest sample.
type Vitals struct {
	MemoryUsageMB   float64 `json:"memoryUsageMb"`
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
	FPS             float64 `json:"fps"`
}

func (s Sample) Vitals() Vitals {
	return Vitals{
		MemoryUsageMB:   s.MemoryUsageMB,
		CPUUsagePercent: s.CPUUsagePercent,
		FPS:             s.FPS,
	}
}

// MemoryProbe reports current heap usage in bytes.
type MemoryProbe interface {
	HeapBytes() (uint64, error)
}

// GPUProbe reports GPU utilisation in percent.
type GPUProbe interface {
	Utilization() (float64, error)
}

// Scheduler runs fn after a zero delay, off the caller's stack.
type Scheduler interface {
	Defer(fn func())
}

// Sink receives every sample after it is buffered.
type Sink interface {
	Consume(ctx context.Context, s Sample) error
}

// SinkFunc adapts a func to Sink.
type SinkFunc func(ctx context.Context, s Sample) error

func (f SinkFunc) Consume(ctx context.Context, s Sample) error { return f(ctx, s) }
