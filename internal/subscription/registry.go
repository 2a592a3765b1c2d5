// Package subscription owns the stop handles of timers, observers and event
// listeners so the telemetry stack can be torn down in one call.
package subscription

import (
	"sync"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/logger"
)

// CleanupFunc releases one resource.
type CleanupFunc func() error

// Func adapts a plain unsubscribe func.
func Func(fn func()) CleanupFunc {
	return func() error {
		fn()
		return nil
	}
}

type Registry struct {
	mu       sync.Mutex
	cleanups []CleanupFunc
	log      logger.Logger
}

func New(log logger.Logger) *Registry {
	return &Registry{log: log}
}

func (r *Registry) Register(fn CleanupFunc) {
	if fn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, fn)
}

// Len returns the number of pending cleanups.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cleanups)
}

// CleanupAll runs every registered cleanup once, in registration order, and
// empties the registry. Failures, including panics, are logged and joined
// into the returned error; they never stop the remaining cleanups.
func (r *Registry) CleanupAll() error {
	r.mu.Lock()
	pending := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()

	var errs []error
	for i, fn := range pending {
		if err := r.run(fn); err != nil {
			r.log.ErrorWithContext(err, "subscription", "cleanup").
				Int("index", i).
				Msg("Cleanup failed")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Registry) run(fn CleanupFunc) (err error) {
	errFactory := errors.New()

	defer func() {
		if rec := recover(); rec != nil {
			err = errors.FromPanic(errors.ErrCleanupFailed, rec)
		}
	}()

	if err := fn(); err != nil {
		return errFactory.Wrap(errors.ErrCleanupFailed, err)
	}

	return nil
}
