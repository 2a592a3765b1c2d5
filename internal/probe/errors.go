package probe

import (
	"codeberg.org/mutker/petvitals/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	ErrNotInitialized    = errors.ErrorCode("probe_gpu_not_initialized")
	ErrInitFailed        = errors.ErrorCode("probe_gpu_init_failed")
	ErrShutdownFailed    = errors.ErrorCode("probe_gpu_shutdown_failed")
	ErrDeviceCountFailed = errors.ErrorCode("probe_gpu_device_count_failed")
	ErrDeviceNotFound    = errors.ErrorCode("probe_gpu_device_not_found")
	ErrUtilizationFailed = errors.ErrorCode("probe_gpu_utilization_failed")
	ErrMemStatsFailed    = errors.ErrorCode("probe_memstats_failed")
)

// nvmlError carries an NVML return code
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

// IsNVMLSuccess checks if a Return value indicates success
func IsNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
