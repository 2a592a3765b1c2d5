package probe

import (
	"sync"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlLibrary abstracts the NVML calls the GPU probe makes, for testing
type nvmlLibrary interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (utilizer, nvml.Return)
}

type systemNVML struct{}

func (systemNVML) Init() nvml.Return     { return nvml.Init() }
func (systemNVML) Shutdown() nvml.Return { return nvml.Shutdown() }

func (systemNVML) DeviceGetCount() (int, nvml.Return) {
	return nvml.DeviceGetCount()
}

func (systemNVML) DeviceGetHandleByIndex(index int) (utilizer, nvml.Return) {
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		return nil, ret
	}
	return device, ret
}

// utilizer is the one device method the probe reads
type utilizer interface {
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
}

// GPU reports utilisation of the first NVIDIA device. When NVML cannot be
// loaded the probe stays uninitialized and every read fails, which the
// collector turns into a zero reading.
type GPU struct {
	mu          sync.Mutex
	lib         nvmlLibrary
	device      utilizer
	initialized bool
	log         logger.Logger
}

// NewGPU opens NVML and picks device 0. The returned probe is usable even
// when err is non-nil.
func NewGPU(log logger.Logger) (*GPU, error) {
	return newGPU(systemNVML{}, log)
}

func newGPU(lib nvmlLibrary, log logger.Logger) (*GPU, error) {
	g := &GPU{lib: lib, log: log}
	if err := g.initialize(); err != nil {
		log.Warn().Err(err).Msg("GPU probe unavailable, reporting 0% utilization")
		return g, err
	}
	return g, nil
}

func (g *GPU) initialize() error {
	errFactory := errors.New()

	if ret := g.lib.Init(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	count, ret := g.lib.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		g.lib.Shutdown()
		return errFactory.Wrap(ErrDeviceCountFailed, newNVMLError(ret))
	}
	if count == 0 {
		g.lib.Shutdown()
		return errFactory.New(ErrDeviceNotFound)
	}

	device, ret := g.lib.DeviceGetHandleByIndex(0)
	if !IsNVMLSuccess(ret) {
		g.lib.Shutdown()
		return errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	if named, ok := device.(interface{ GetName() (string, nvml.Return) }); ok {
		if name, ret := named.GetName(); IsNVMLSuccess(ret) {
			g.log.Info().Msgf("Detected GPU: %v", name)
		}
	}

	g.device = device
	g.initialized = true

	return nil
}

// Utilization implements metrics.GPUProbe.
func (g *GPU) Utilization() (float64, error) {
	errFactory := errors.New()
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		return 0, errFactory.New(ErrNotInitialized)
	}

	rates, ret := g.device.GetUtilizationRates()
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrUtilizationFailed, newNVMLError(ret))
	}

	return float64(rates.Gpu), nil
}

// Close shuts NVML down. Safe on an uninitialized probe.
func (g *GPU) Close() error {
	errFactory := errors.New()
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		return nil
	}

	g.initialized = false
	if ret := g.lib.Shutdown(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	return nil
}
