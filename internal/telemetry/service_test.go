package telemetry_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/petvitals/internal/clock"
	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/events"
	"codeberg.org/mutker/petvitals/internal/logger"
	"codeberg.org/mutker/petvitals/internal/metrics"
	"codeberg.org/mutker/petvitals/internal/perf"
	"codeberg.org/mutker/petvitals/internal/report"
	"codeberg.org/mutker/petvitals/internal/telemetry"
	"codeberg.org/mutker/petvitals/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *telemetry.Service
	clock    *clock.Manual
	bus      *events.Bus
	reporter *report.Recorder
}

func newFixture(t *testing.T, mutate func(*telemetry.Config), opts ...metrics.Option) fixture {
	t.Helper()

	cfg := telemetry.DefaultConfig()
	cfg.Interval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	f := fixture{
		clock:    clock.NewManual(time.Unix(1700000000, 0)),
		bus:      events.NewBus(logger.Nop()),
		reporter: &report.Recorder{},
	}

	opts = append([]metrics.Option{metrics.WithScheduler(nil)}, opts...)
	svc, err := telemetry.NewService(cfg,
		telemetry.WithClock(f.clock),
		telemetry.WithBus(f.bus),
		telemetry.WithReporter(f.reporter),
		telemetry.WithLogger(logger.Nop()),
		telemetry.WithCollectorOptions(opts...),
	)
	require.NoError(t, err)
	f.svc = svc

	t.Cleanup(func() { _ = svc.Cleanup() })

	return f
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.BufferCapacity = 0

	_, err := telemetry.NewService(cfg)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, telemetry.ErrInvalidConfig))

	cfg = telemetry.DefaultConfig()
	cfg.Interval = 0
	_, err = telemetry.NewService(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*telemetry.Config)
	}{
		{name: "zero slow interaction", mutate: func(c *telemetry.Config) { c.SlowInteractionMs = 0 }},
		{name: "negative slow interaction", mutate: func(c *telemetry.Config) { c.SlowInteractionMs = -1 }},
		{name: "zero span retention", mutate: func(c *telemetry.Config) { c.SpanRetention = 0 }},
		{name: "zero recent metrics", mutate: func(c *telemetry.Config) { c.RecentMetrics = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := telemetry.DefaultConfig()
			tt.mutate(&cfg)
			assert.True(t, errors.HasCode(cfg.Validate(), telemetry.ErrInvalidConfig))
		})
	}

	assert.NoError(t, telemetry.DefaultConfig().Validate())
}

func TestInitializeAndCleanupAreIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.Initialize(ctx))
	require.NoError(t, f.svc.Initialize(ctx))

	assert.True(t, f.svc.Initialized())
	assert.True(t, f.svc.Collector().Running())
	assert.Equal(t, 1, f.bus.Subscribers(events.SecurityEvent))

	require.NoError(t, f.svc.Cleanup())
	assert.False(t, f.svc.Initialized())
	assert.False(t, f.svc.Collector().Running())
	assert.Equal(t, 0, f.bus.Subscribers(events.SecurityEvent))

	require.NoError(t, f.svc.Cleanup())
}

func TestCleanupRunsRegisteredHandles(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.svc.Initialize(context.Background()))

	calls := 0
	f.svc.Register(func() error {
		calls++
		return errors.New().New(errors.ErrShutdownFailed)
	})

	err := f.svc.Cleanup()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, telemetry.ErrCleanupFailed))
	assert.False(t, f.svc.Collector().Running(), "a failing handle does not stop the others")

	require.NoError(t, f.svc.Cleanup())
	assert.Equal(t, 1, calls)
}

func TestCleanupHandlesMayCallBack(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.svc.Initialize(context.Background()))

	var sawInitialized bool
	f.svc.Register(func() error {
		sawInitialized = f.svc.Initialized()
		return f.svc.Cleanup()
	})

	done := make(chan error, 1)
	go func() { done <- f.svc.Cleanup() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Cleanup blocked on a handle calling back into the service")
	}

	assert.False(t, sawInitialized)
	assert.False(t, f.svc.Collector().Running())
}

func TestSecurityEventsAreReported(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.svc.Initialize(context.Background()))

	f.bus.Emit(events.SecurityEvent, map[string]any{"kind": "token_reuse"})
	f.bus.Emit(events.SecurityEvent, "raw")

	got := f.reporter.EventsIn(report.CategorySecurity)
	require.Len(t, got, 2)
	assert.Equal(t, "token_reuse", got[0].Data["kind"])
	assert.Equal(t, "raw", got[1].Data["event"])

	require.NoError(t, f.svc.Cleanup())
	f.bus.Emit(events.SecurityEvent, "after cleanup")
	assert.Len(t, f.reporter.EventsIn(report.CategorySecurity), 2)
}

func TestGetMetrics(t *testing.T) {
	f := newFixture(t, func(c *telemetry.Config) { c.BufferCapacity = 2 },
		metrics.WithMemoryProbe(memoryProbe(64*1024*1024)),
	)

	assert.Equal(t, metrics.Vitals{}, f.svc.GetMetrics(), "zero before the first sample")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Collector().Collect(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	assert.InDelta(t, 64.0, f.svc.GetMetrics().MemoryUsageMB, 1e-9)

	buf := f.svc.GetMetricsBuffer()
	require.Len(t, buf, 2)
	assert.Equal(t, int64(1700000001000), buf[0].Timestamp)
	assert.Equal(t, int64(1700000002000), buf[1].Timestamp)
}

func TestEndMetricReportsAlert(t *testing.T) {
	f := newFixture(t, nil)

	f.svc.StartMetric("nav1", perf.Navigation)
	f.clock.Advance(701 * time.Millisecond)
	res, ok := f.svc.EndMetric("nav1")
	require.True(t, ok)
	require.NotNil(t, res.Alert)

	f.svc.StartMetric("nav2", perf.Navigation)
	f.clock.Advance(699 * time.Millisecond)
	_, ok = f.svc.EndMetric("nav2")
	require.True(t, ok)

	_, ok = f.svc.EndMetric("missing")
	assert.False(t, ok)

	alerts := f.reporter.EventsIn(report.CategoryPerformance)
	require.Len(t, alerts, 1)
	assert.Equal(t, "nav1", alerts[0].Data["name"])
	assert.Equal(t, "NAVIGATION", alerts[0].Data["category"])
	assert.InDelta(t, 701.0, alerts[0].Data["durationMs"], 1e-9)
	assert.InDelta(t, 700.0, alerts[0].Data["thresholdMs"], 1e-9)
}

func TestFeatureUsageIsEmitted(t *testing.T) {
	f := newFixture(t, nil)

	var emitted []usage.Record
	f.bus.Subscribe(events.FeatureUsage, func(p any) {
		emitted = append(emitted, p.(usage.Record))
	})

	f.svc.TrackFeatureUsage("meditation", 10)
	f.svc.TrackFeatureUsage("meditation", 20)
	f.svc.TrackFeatureUsage("meditation", 30)

	require.Len(t, emitted, 3)
	assert.Equal(t, 3, emitted[2].UsageCount)
	assert.InDelta(t, 60.0, emitted[2].TotalDurationMs, 1e-9)
}

func TestStartFeatureTracking(t *testing.T) {
	f := newFixture(t, nil)

	stop := f.svc.StartFeatureTracking("journal")
	f.clock.Advance(1500 * time.Millisecond)

	got, ok := stop()
	require.True(t, ok)
	assert.Equal(t, 1, got.UsageCount)
	assert.InDelta(t, 1500.0, got.TotalDurationMs, 1e-9)

	_, ok = stop()
	assert.False(t, ok, "only the first stop records")

	alerts := f.reporter.EventsIn(report.CategoryPerformance)
	require.Len(t, alerts, 1, "feature spans use the default threshold")
}

func TestTrackInteraction(t *testing.T) {
	f := newFixture(t, nil)

	var emitted int
	f.bus.Subscribe(events.InteractionMetric, func(any) { emitted++ })

	agg := f.svc.TrackInteraction("pet", "tap", 150)
	assert.Equal(t, 1, agg.SlowCount)
	assert.InDelta(t, 150.0, agg.AverageDurationMs, 1e-9)

	agg = f.svc.TrackInteraction("pet", "tap", 50)
	assert.Equal(t, 2, agg.Count)
	assert.InDelta(t, 100.0, agg.AverageDurationMs, 1e-9)
	assert.Equal(t, 1, agg.SlowCount)

	assert.Equal(t, 2, emitted)

	warnings := f.reporter.EventsIn(report.CategoryInteraction)
	require.Len(t, warnings, 1)
	assert.Equal(t, "pet", warnings[0].Data["feature"])
	assert.Equal(t, "tap", warnings[0].Data["interactionType"])
	assert.InDelta(t, 100.0, warnings[0].Data["thresholdMs"], 1e-9)
}

func TestTrackCustomMetric(t *testing.T) {
	f := newFixture(t, func(c *telemetry.Config) { c.RecentMetrics = 2 })

	var emitted []usage.CustomMetric
	f.bus.Subscribe(events.CustomMetric, func(p any) {
		emitted = append(emitted, p.(usage.CustomMetric))
	})

	for i := 1; i <= 3; i++ {
		f.svc.TrackCustomMetric("pet", "mood", float64(i), nil)
	}
	f.svc.TrackError("pet")

	require.Len(t, emitted, 3)

	rec, ok := f.svc.GetFeatureMetrics("pet")
	require.True(t, ok)
	require.Len(t, rec.RecentMetrics, 2)
	assert.InDelta(t, 2.0, rec.RecentMetrics[0].Value, 1e-9)
	assert.Equal(t, 1, rec.ErrorCount)

	f.svc.ClearUsageMetrics()
	assert.Empty(t, f.svc.GetAllMetrics().Features)
}

type memoryProbe uint64

func (m memoryProbe) HeapBytes() (uint64, error) { return uint64(m), nil }
