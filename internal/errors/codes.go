package errors

// Common error codes
const (
	// System errors
	ErrInternal ErrorCode = "internal_error"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidCapacity ErrorCode = "invalid_capacity"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Lifecycle errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"
	ErrCleanupFailed  ErrorCode = "cleanup_failed"

	// Collection errors
	ErrInstrumentPanic  ErrorCode = "instrument_panic"
	ErrProbeUnavailable ErrorCode = "probe_unavailable"
	ErrSinkFailed       ErrorCode = "sample_sink_failed"
	ErrOperationTimeout ErrorCode = "operation_timeout"
	ErrHandlerPanic     ErrorCode = "handler_panic"
	ErrStorageFailed    ErrorCode = "storage_failed"
	ErrExporterRegister ErrorCode = "exporter_register_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidConfig:    "Invalid configuration",
	ErrReadConfig:       "Failed to read config file",
	ErrBindFlags:        "Failed to bind flags",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInvalidCapacity:  "Invalid buffer capacity",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrCleanupFailed:    "Cleanup function failed",
	ErrInstrumentPanic:  "Instrumentation source panicked",
	ErrProbeUnavailable: "Instrumentation source unavailable",
	ErrSinkFailed:       "Sample sink rejected sample",
	ErrOperationTimeout: "Operation timed out",
	ErrHandlerPanic:     "Event handler panicked",
	ErrStorageFailed:    "Storage operation failed",
	ErrExporterRegister: "Failed to register exporter collectors",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
