package telemetry

import "codeberg.org/mutker/petvitals/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig

	// Lifecycle Errors
	ErrInitFailed    = errors.ErrInitFailed
	ErrCleanupFailed = errors.ErrCleanupFailed
)

// Reporting contexts and messages
const (
	securityMessage        = "Security event received"
	slowSpanMessage        = "Performance threshold exceeded"
	slowInteractionMessage = "Slow interaction detected"
)
