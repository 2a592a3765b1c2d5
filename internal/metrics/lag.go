package metrics

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/petvitals/internal/clock"
)

// frameBudgetMs is one frame at 60 Hz.
const frameBudgetMs = 16

// EstimateCPU maps scheduling lag onto a 0-100 load figure. It is a proxy
// for how busy the process is, not a measurement of CPU time.
func EstimateCPU(lagMs float64) float64 {
	if lagMs <= 0 {
		return 0
	}
	return math.Min(100, math.Round(lagMs/frameBudgetMs*100))
}

// LagEstimator measures how late a zero-delay callback runs.
type LagEstimator struct {
	mu      sync.Mutex
	clock   clock.Clock
	sched   Scheduler
	pending bool
	cpu     float64
	lagMs   float64
}

func NewLagEstimator(c clock.Clock, s Scheduler) *LagEstimator {
	return &LagEstimator{clock: c, sched: s}
}

// Measure schedules one probe callback unless one is still outstanding.
// Without a scheduler the estimate stays at 0.
func (l *LagEstimator) Measure() {
	if l.sched == nil {
		return
	}

	l.mu.Lock()
	if l.pending {
		l.mu.Unlock()
		return
	}
	l.pending = true
	start := l.clock.Now()
	l.mu.Unlock()

	l.sched.Defer(func() {
		lag := clock.Millis(l.clock.Now().Sub(start))

		l.mu.Lock()
		l.lagMs = lag
		l.cpu = EstimateCPU(lag)
		l.pending = false
		l.mu.Unlock()
	})
}

// CPU returns the estimate from the last completed probe.
func (l *LagEstimator) CPU() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cpu
}

// LagMs returns the last measured lag.
func (l *LagEstimator) LagMs() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lagMs
}

// TimerScheduler defers through the Go runtime timer, so the measured lag
// is goroutine scheduling delay.
type TimerScheduler struct{}

func (TimerScheduler) Defer(fn func()) {
	time.AfterFunc(0, fn)
}
