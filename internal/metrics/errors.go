package metrics

import "codeberg.org/mutker/petvitals/internal/errors"

const (
	// Collection Errors
	ErrTickPanicked     = errors.ErrInstrumentPanic
	ErrSinkFailed       = errors.ErrSinkFailed
	ErrProbeUnavailable = errors.ErrProbeUnavailable
)

// collectionContext is the context tick failures are reported under.
const collectionContext = "metrics collection"
