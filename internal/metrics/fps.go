package metrics

import (
	"sync"
	"time"

	"codeberg.org/mutker/petvitals/internal/clock"
)

// FrameCounter turns per-frame callbacks into a trailing one-second frame
// rate. The rate is recomputed on the first frame at or past the end of the
// window, then the count and the window restart.
type FrameCounter struct {
	mu          sync.Mutex
	clock       clock.Clock
	windowStart time.Time
	frames      int
	fps         float64
}

func NewFrameCounter(c clock.Clock) *FrameCounter {
	return &FrameCounter{clock: c, windowStart: c.Now()}
}

// Frame is called once per rendered frame.
func (f *FrameCounter) Frame() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.frames++
	now := f.clock.Now()
	elapsed := now.Sub(f.windowStart)
	if elapsed < time.Second {
		return
	}

	f.fps = float64(f.frames) * 1000 / clock.Millis(elapsed)
	f.frames = 0
	f.windowStart = now
}

// Reset clears the count and the last rate and starts a new window.
func (f *FrameCounter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.frames = 0
	f.fps = 0
	f.windowStart = f.clock.Now()
}

// FPS returns the rate of the last completed window, 0 before the first.
func (f *FrameCounter) FPS() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fps
}

// Frames returns the frames counted in the current window.
func (f *FrameCounter) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}
