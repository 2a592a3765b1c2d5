package telemetry

import (
	"time"

	"codeberg.org/mutker/petvitals/internal/buffer"
	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/metrics"
	"codeberg.org/mutker/petvitals/internal/perf"
	"codeberg.org/mutker/petvitals/internal/usage"
)

type Config struct {
	Interval          time.Duration
	BufferCapacity    int
	SlowInteractionMs float64
	RecentMetrics     int
	SpanRetention     int
	Thresholds        perf.Thresholds
}

func DefaultConfig() Config {
	return Config{
		Interval:          metrics.DefaultInterval,
		BufferCapacity:    buffer.DefaultCapacity,
		SlowInteractionMs: usage.DefaultSlowThresholdMs,
		RecentMetrics:     usage.DefaultRecentLimit,
		SpanRetention:     perf.DefaultRetention,
		Thresholds:        perf.DefaultThresholds(),
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	invalid := func(field string, value any) error {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value any
		}{
			Field: field,
			Value: value,
		})
	}

	switch {
	case c.Interval <= 0:
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	case c.BufferCapacity <= 0:
		return errFactory.WithData(errors.ErrInvalidCapacity, c.BufferCapacity)
	case c.SlowInteractionMs <= 0:
		return invalid("slow_interaction", c.SlowInteractionMs)
	case c.RecentMetrics <= 0:
		return invalid("recent_metrics", c.RecentMetrics)
	case c.SpanRetention <= 0:
		return invalid("span_retention", c.SpanRetention)
	}

	for category, ms := range c.Thresholds {
		if ms < 0 {
			return invalid("thresholds."+string(category), ms)
		}
	}

	return nil
}
