package metrics

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/petvitals/internal/buffer"
	"codeberg.org/mutker/petvitals/internal/clock"
	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/logger"
	"codeberg.org/mutker/petvitals/internal/report"
)

const (
	DefaultInterval = time.Second
	bytesPerMB      = 1024 * 1024
)

// Collector produces one Sample per tick into a bounded buffer.
type Collector struct {
	clock    clock.Clock
	buf      *buffer.Ring[Sample]
	memory   MemoryProbe
	gpu      GPUProbe
	sched    Scheduler
	frames   *FrameCounter
	lag      *LagEstimator
	sinks    []Sink
	reporter report.Reporter
	log      logger.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

type Option func(*Collector)

func WithClock(c clock.Clock) Option {
	return func(col *Collector) { col.clock = c }
}

func WithMemoryProbe(p MemoryProbe) Option {
	return func(col *Collector) { col.memory = p }
}

func WithGPUProbe(p GPUProbe) Option {
	return func(col *Collector) { col.gpu = p }
}

// WithScheduler sets the deferred-callback scheduler used for the CPU
// estimate. Passing nil disables the estimate.
func WithScheduler(s Scheduler) Option {
	return func(col *Collector) { col.sched = s }
}

// WithSink adds a consumer that sees every buffered sample.
func WithSink(s Sink) Option {
	return func(col *Collector) { col.sinks = append(col.sinks, s) }
}

func WithReporter(r report.Reporter) Option {
	return func(col *Collector) { col.reporter = r }
}

func WithLogger(l logger.Logger) Option {
	return func(col *Collector) { col.log = l }
}

// NewCollector returns a stopped collector writing into buf.
func NewCollector(buf *buffer.Ring[Sample], opts ...Option) *Collector {
	c := &Collector{
		clock:    clock.Real(),
		buf:      buf,
		reporter: report.Multi{},
		sched:    TimerScheduler{},
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.frames = NewFrameCounter(c.clock)
	c.lag = NewLagEstimator(c.clock, c.sched)

	return c
}

// Start begins sampling every interval. Calling Start on a running
// collector does nothing. The loop also ends when ctx is done.
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.frames.Reset()

	go c.loop(ctx, interval, c.stop, c.done)

	c.log.Debug().Dur("interval", interval).Msg("Metrics collector started")
}

// Stop cancels the ticker and waits for the loop to exit. It is safe to
// call on a stopped collector.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done

	c.log.Debug().Msg("Metrics collector stopped")
}

// Running reports whether the sampling loop is active.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Collector) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.done == done {
				c.running = false
			}
			c.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := c.Collect(ctx); err != nil {
				c.reporter.ReportError(err, collectionContext)
			}
		}
	}
}

// Frame forwards one render-loop frame callback to the FPS counter.
func (c *Collector) Frame() {
	c.frames.Frame()
}

// Frames exposes the FPS counter.
func (c *Collector) Frames() *FrameCounter {
	return c.frames
}

// Collect runs a single tick. A panicking probe fails the tick without
// buffering anything; a failing sink fails it after the sample is buffered.
func (c *Collector) Collect(ctx context.Context) (s Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.FromPanic(ErrTickPanicked, r)
		}
	}()

	s = c.sample()
	c.buf.Push(s)

	var errs []error
	for _, sink := range c.sinks {
		if serr := sink.Consume(ctx, s); serr != nil {
			errs = append(errs, errors.New().Wrap(ErrSinkFailed, serr))
		}
	}

	return s, errors.Join(errs...)
}

func (c *Collector) sample() Sample {
	s := Sample{
		MemoryUsageMB:   c.memoryMB(),
		CPUUsagePercent: c.lag.CPU(),
		FPS:             c.frames.FPS(),
		GPUUsagePercent: c.gpuPercent(),
		Timestamp:       clock.EpochMillis(c.clock.Now()),
	}

	c.lag.Measure()

	return s
}

func (c *Collector) memoryMB() float64 {
	if c.memory == nil {
		return 0
	}

	b, err := c.memory.HeapBytes()
	if err != nil {
		c.log.Debug().Err(err).Str("error_code", string(ErrProbeUnavailable)).Str("probe", "memory").Msg("Memory probe unavailable")
		return 0
	}

	return float64(b) / bytesPerMB
}

func (c *Collector) gpuPercent() float64 {
	if c.gpu == nil {
		return 0
	}

	u, err := c.gpu.Utilization()
	if err != nil {
		c.log.Debug().Err(err).Str("error_code", string(ErrProbeUnavailable)).Str("probe", "gpu").Msg("GPU probe unavailable")
		return 0
	}

	return u
}

// Latest returns the newest buffered sample.
func (c *Collector) Latest() (Sample, bool) {
	return c.buf.Last()
}

// Buffer returns a copy of the buffered samples, oldest first.
func (c *Collector) Buffer() []Sample {
	return c.buf.Snapshot()
}
