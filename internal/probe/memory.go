// Package probe holds the platform instrumentation sources the metrics
// collector reads: Go heap statistics and, when a driver is present, NVML.
package probe

import "runtime"

// Runtime reports the Go heap in use.
type Runtime struct{}

// HeapBytes implements metrics.MemoryProbe.
func (Runtime) HeapBytes() (uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, nil
}

// Static is a fixed memory reading, for hosts that report heap usage from
// outside the process.
type Static uint64

func (s Static) HeapBytes() (uint64, error) {
	return uint64(s), nil
}
