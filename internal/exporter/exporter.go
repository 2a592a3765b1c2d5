// Package exporter publishes samples and reported events as Prometheus
// metrics.
package exporter

import (
	"context"
	"net/http"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/metrics"
	"codeberg.org/mutker/petvitals/internal/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "petvitals"
	vitalsSubsystem  = "vitals"
	reportSubsystem  = "report"
)

// Exporter is both a metrics.Sink and a report.Reporter.
type Exporter struct {
	registry *prometheus.Registry

	// MemoryMB is the heap usage of the latest sample.
	MemoryMB prometheus.Gauge

	// CPUPercent is the estimated CPU usage of the latest sample.
	CPUPercent prometheus.Gauge

	// FPS is the frame rate of the latest sample.
	FPS prometheus.Gauge

	// GPUPercent is the GPU utilisation of the latest sample.
	GPUPercent prometheus.Gauge

	// SamplesTotal counts consumed samples.
	SamplesTotal prometheus.Counter

	// EventsTotal counts reported events.
	// Labels: category (performance, interaction, security, lifecycle)
	EventsTotal *prometheus.CounterVec

	// SlowSpansTotal counts performance alerts by span category.
	// Labels: span_category
	SlowSpansTotal *prometheus.CounterVec

	// ErrorsTotal counts reported errors.
	// Labels: context, error_code
	ErrorsTotal *prometheus.CounterVec
}

// New registers every collector on its own registry.
func New() (*Exporter, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

func NewWithRegistry(reg *prometheus.Registry) (e *Exporter, err error) {
	// promauto panics on duplicate registration
	defer func() {
		if r := recover(); r != nil {
			e = nil
			err = errors.FromPanic(errors.ErrExporterRegister, r)
		}
	}()

	factory := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: vitalsSubsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Exporter{
		registry:   reg,
		MemoryMB:   gauge("memory_mb", "Heap usage in megabytes at the latest sample"),
		CPUPercent: gauge("cpu_percent", "Estimated CPU usage percent at the latest sample"),
		FPS:        gauge("fps", "Frames per second at the latest sample"),
		GPUPercent: gauge("gpu_percent", "GPU utilisation percent at the latest sample"),
		SamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: vitalsSubsystem,
			Name:      "samples_total",
			Help:      "Total samples collected",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: reportSubsystem,
			Name:      "events_total",
			Help:      "Total reported events by category",
		}, []string{"category"}),
		SlowSpansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: reportSubsystem,
			Name:      "slow_spans_total",
			Help:      "Total spans that exceeded their category threshold",
		}, []string{"span_category"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: reportSubsystem,
			Name:      "errors_total",
			Help:      "Total reported errors by context and code",
		}, []string{"context", "error_code"}),
	}, nil
}

func (e *Exporter) Consume(_ context.Context, s metrics.Sample) error {
	e.MemoryMB.Set(s.MemoryUsageMB)
	e.CPUPercent.Set(s.CPUUsagePercent)
	e.FPS.Set(s.FPS)
	e.GPUPercent.Set(s.GPUUsagePercent)
	e.SamplesTotal.Inc()
	return nil
}

func (e *Exporter) ReportEvent(ev report.Event) {
	e.EventsTotal.WithLabelValues(ev.Category).Inc()

	if ev.Category != report.CategoryPerformance {
		return
	}
	if category, ok := ev.Data["category"].(string); ok {
		e.SlowSpansTotal.WithLabelValues(category).Inc()
	}
}

func (e *Exporter) ReportError(err error, where string) {
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "unknown"
	}
	e.ErrorsTotal.WithLabelValues(where, code).Inc()
}

// Handler serves the exporter's registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

func (e *Exporter) Registry() *prometheus.Registry { return e.registry }
