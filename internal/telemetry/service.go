// Package telemetry wires the sampler, span registry, usage tracker and
// cleanup registry into one Service. It is the only place where core results
// are turned into reporter events and bus emissions.
package telemetry

import (
	"context"
	"sync"

	"codeberg.org/mutker/petvitals/internal/buffer"
	"codeberg.org/mutker/petvitals/internal/clock"
	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/events"
	"codeberg.org/mutker/petvitals/internal/logger"
	"codeberg.org/mutker/petvitals/internal/metrics"
	"codeberg.org/mutker/petvitals/internal/perf"
	"codeberg.org/mutker/petvitals/internal/report"
	"codeberg.org/mutker/petvitals/internal/subscription"
	"codeberg.org/mutker/petvitals/internal/usage"
)

type Service struct {
	cfg      Config
	clock    clock.Clock
	log      logger.Logger
	reporter report.Reporter
	bus      events.Emitter
	security events.SecuritySource

	buf       *buffer.Ring[metrics.Sample]
	collector *metrics.Collector
	spans     *perf.Monitor
	usage     *usage.Tracker
	registry  *subscription.Registry

	collectorOpts []metrics.Option

	mu          sync.Mutex
	initialized bool
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithReporter(r report.Reporter) Option {
	return func(s *Service) { s.reporter = r }
}

// WithBus sets the bus used both for emissions and as the security-event
// source.
func WithBus(b *events.Bus) Option {
	return func(s *Service) {
		s.bus = b
		s.security = b
	}
}

func WithEmitter(e events.Emitter) Option {
	return func(s *Service) { s.bus = e }
}

func WithSecuritySource(src events.SecuritySource) Option {
	return func(s *Service) { s.security = src }
}

// WithCollectorOptions passes probes, sinks and a scheduler through to the
// metrics collector.
func WithCollectorOptions(opts ...metrics.Option) Option {
	return func(s *Service) { s.collectorOpts = append(s.collectorOpts, opts...) }
}

// NewService builds a stopped Service. Nothing runs until Initialize.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	s := &Service{
		cfg:      cfg,
		clock:    clock.Real(),
		log:      logger.Nop(),
		reporter: report.Multi{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil && s.security == nil {
		bus := events.NewBus(s.log)
		s.bus, s.security = bus, bus
	}
	if s.bus == nil {
		s.bus = events.NewBus(s.log)
	}

	buf, err := buffer.New[metrics.Sample](cfg.BufferCapacity)
	if err != nil {
		return nil, errFactory.Wrap(ErrInitFailed, err)
	}
	s.buf = buf

	collectorOpts := append([]metrics.Option{
		metrics.WithClock(s.clock),
		metrics.WithReporter(s.reporter),
		metrics.WithLogger(s.log),
	}, s.collectorOpts...)
	s.collector = metrics.NewCollector(buf, collectorOpts...)

	s.spans = perf.New(
		perf.WithClock(s.clock),
		perf.WithThresholds(cfg.Thresholds),
		perf.WithRetention(cfg.SpanRetention),
	)
	s.usage = usage.New(s.spans,
		usage.WithClock(s.clock),
		usage.WithSlowThreshold(cfg.SlowInteractionMs),
		usage.WithRecentLimit(cfg.RecentMetrics),
	)
	s.registry = subscription.New(s.log)

	return s, nil
}

// Initialize starts sampling and subscribes to security events. Every stop
// handle goes into the cleanup registry. Calling it again before Cleanup
// does nothing.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	s.collector.Start(ctx, s.cfg.Interval)
	s.registry.Register(subscription.Func(s.collector.Stop))

	if s.security != nil {
		s.registry.Register(subscription.Func(s.security.OnSecurityEvent(s.handleSecurityEvent)))
	}

	s.initialized = true

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Int("buffer_capacity", s.cfg.BufferCapacity).
		Msg("Telemetry initialized")

	return nil
}

// Register hands an extra stop handle to the cleanup registry.
func (s *Service) Register(fn subscription.CleanupFunc) {
	s.registry.Register(fn)
}

// Cleanup runs every registered stop handle once. Later calls are no-ops
// until the Service is initialized again. Handles run without s.mu held, so
// they may call back into the Service.
func (s *Service) Cleanup() error {
	s.mu.Lock()
	wasInitialized := s.initialized
	s.initialized = false
	s.mu.Unlock()

	err := s.registry.CleanupAll()
	if wasInitialized {
		s.log.Info().Msg("Telemetry cleaned up")
	}

	if err != nil {
		return errors.New().Wrap(ErrCleanupFailed, err)
	}
	return nil
}

func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// GetMetrics returns the latest vitals, zeroed before the first sample.
func (s *Service) GetMetrics() metrics.Vitals {
	latest, _ := s.buf.Last()
	return latest.Vitals()
}

// GetMetricsBuffer returns the buffered samples, oldest first.
func (s *Service) GetMetricsBuffer() []metrics.Sample {
	return s.buf.Snapshot()
}

func (s *Service) Collector() *metrics.Collector { return s.collector }

// Frame forwards a render-loop frame callback.
func (s *Service) Frame() { s.collector.Frame() }

func (s *Service) StartMetric(name string, category perf.Category) string {
	return s.spans.StartMetric(name, category)
}

// EndMetric closes a span and reports a performance event when it ran past
// its category threshold.
func (s *Service) EndMetric(name string) (perf.Result, bool) {
	res, ok := s.spans.EndMetric(name)
	if ok {
		s.reportAlert(res.Alert)
	}
	return res, ok
}

func (s *Service) AddSubMetric(parent, name string, durationMs float64) bool {
	return s.spans.AddSubMetric(parent, name, durationMs)
}

func (s *Service) GetPerformanceMetrics() []perf.Span {
	return s.spans.GetMetrics()
}

func (s *Service) ClearPerformanceMetrics() {
	s.spans.ClearMetrics()
}

func (s *Service) InitializeFeature(name string) {
	s.usage.InitializeFeature(name)
}

func (s *Service) TrackFeatureUsage(name string, durationMs float64) usage.Record {
	rec := s.usage.TrackFeatureUsage(name, durationMs)
	s.bus.Emit(events.FeatureUsage, rec)
	return rec
}

// StartFeatureTracking returns a stop func that records the usage, emits it
// and reports a slow feature span.
func (s *Service) StartFeatureTracking(name string) func() (usage.Record, bool) {
	stop := s.usage.StartFeatureTracking(name)

	return func() (usage.Record, bool) {
		tracked, ok := stop()
		if !ok {
			return usage.Record{}, false
		}
		s.bus.Emit(events.FeatureUsage, tracked.Record)
		s.reportAlert(tracked.Alert)
		return tracked.Record, true
	}
}

func (s *Service) TrackInteraction(feature, kind string, durationMs float64) usage.Interaction {
	agg, slow := s.usage.TrackInteraction(feature, kind, durationMs)

	s.bus.Emit(events.InteractionMetric, agg)

	if slow != nil {
		s.reporter.ReportEvent(report.NewEvent(s.clock.Now(), report.CategoryInteraction, slowInteractionMessage, map[string]any{
			"feature":         slow.Feature,
			"interactionType": slow.Type,
			"durationMs":      slow.DurationMs,
			"thresholdMs":     slow.ThresholdMs,
		}))
	}

	return agg
}

func (s *Service) TrackCustomMetric(feature, name string, value float64, metadata map[string]any) usage.CustomMetric {
	m := s.usage.TrackCustomMetric(feature, name, value, metadata)
	s.bus.Emit(events.CustomMetric, m)
	return m
}

func (s *Service) TrackError(feature string) usage.Record {
	return s.usage.TrackError(feature)
}

func (s *Service) GetFeatureMetrics(name string) (usage.Record, bool) {
	return s.usage.GetFeatureMetrics(name)
}

func (s *Service) GetInteractionMetrics(feature string) []usage.Interaction {
	return s.usage.GetInteractionMetrics(feature)
}

func (s *Service) GetAllMetrics() usage.Snapshot {
	return s.usage.GetAllMetrics()
}

func (s *Service) ClearUsageMetrics() {
	s.usage.ClearMetrics()
}

func (s *Service) reportAlert(alert *perf.Alert) {
	if alert == nil {
		return
	}

	s.reporter.ReportEvent(report.NewEvent(s.clock.Now(), report.CategoryPerformance, slowSpanMessage, map[string]any{
		"name":        alert.Name,
		"category":    string(alert.Category),
		"durationMs":  alert.DurationMs,
		"thresholdMs": alert.ThresholdMs,
		"subSpans":    alert.SubSpans,
	}))
}

func (s *Service) handleSecurityEvent(payload any) {
	data, ok := payload.(map[string]any)
	if !ok {
		data = map[string]any{"event": payload}
	}

	s.reporter.ReportEvent(report.NewEvent(s.clock.Now(), report.CategorySecurity, securityMessage, data))
}
