// Package perf is the named timing-span registry. Spans are started and
// ended by name; ending a span compares its duration with the threshold of
// its category and returns an Alert when the threshold is exceeded.
package perf

import (
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/petvitals/internal/clock"
)

// DefaultRetention caps how many completed spans are kept for GetMetrics.
const DefaultRetention = 500

// Span is a snapshot of one registry entry.
type Span struct {
	Name       string
	Category   Category
	Start      time.Time
	DurationMs float64
	Completed  bool
	SubSpans   map[string]float64
}

// Alert describes a span that ran longer than its category allows.
type Alert struct {
	Name        string
	Category    Category
	DurationMs  float64
	ThresholdMs float64
	SubSpans    map[string]float64
}

// Result is what EndMetric hands back for a span it finalized.
type Result struct {
	Span  Span
	Alert *Alert
}

type span struct {
	category   Category
	start      time.Time
	durationMs float64
	completed  bool
	subSpans   map[string]float64
}

// Monitor holds running and completed spans keyed by name.
type Monitor struct {
	mu         sync.Mutex
	clock      clock.Clock
	thresholds Thresholds
	retention  int
	spans      map[string]*span
	completed  []string
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// WithRetention sets how many completed spans are kept. Values below one
// keep DefaultRetention.
func WithRetention(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.retention = n
		}
	}
}

func New(opts ...Option) *Monitor {
	m := &Monitor{
		clock:      clock.Real(),
		thresholds: DefaultThresholds(),
		retention:  DefaultRetention,
		spans:      make(map[string]*span),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartMetric opens a span under name, replacing any span already stored
// under that name, and returns name as the handle.
func (m *Monitor) StartMetric(name string, category Category) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.spans[name]; ok && prev.completed {
		m.forgetCompleted(name)
	}

	m.spans[name] = &span{
		category: category,
		start:    m.clock.Now(),
	}

	return name
}

// EndMetric finalizes the running span under name. It returns false, and
// does nothing else, when no span with that name is running.
func (m *Monitor) EndMetric(name string) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.spans[name]
	if !ok || s.completed {
		return Result{}, false
	}

	s.durationMs = clock.Millis(m.clock.Now().Sub(s.start))
	s.completed = true
	m.completed = append(m.completed, name)
	m.evict()

	res := Result{Span: s.snapshot(name)}

	threshold := m.thresholds.For(s.category)
	if s.durationMs > threshold {
		res.Alert = &Alert{
			Name:        name,
			Category:    s.category,
			DurationMs:  s.durationMs,
			ThresholdMs: threshold,
			SubSpans:    copySubSpans(s.subSpans),
		}
	}

	return res, true
}

// AddSubMetric records a labelled sub-duration under a known span.
func (m *Monitor) AddSubMetric(parent, name string, durationMs float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.spans[parent]
	if !ok {
		return false
	}
	if s.subSpans == nil {
		s.subSpans = make(map[string]float64)
	}
	s.subSpans[name] = durationMs

	return true
}

// GetMetrics returns every span, oldest start first.
func (m *Monitor) GetMetrics() []Span {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Span, 0, len(m.spans))
	for name, s := range m.spans {
		out = append(out, s.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Name < out[j].Name
		}
		return out[i].Start.Before(out[j].Start)
	})

	return out
}

// Running returns the number of spans started but not yet ended.
func (m *Monitor) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spans) - len(m.completed)
}

func (m *Monitor) ClearMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.spans = make(map[string]*span)
	m.completed = nil
}

// Thresholds returns the configured thresholds.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// evict drops the oldest completed spans beyond the retention cap. Running
// spans are never evicted.
func (m *Monitor) evict() {
	for len(m.completed) > m.retention {
		oldest := m.completed[0]
		m.completed = m.completed[1:]
		delete(m.spans, oldest)
	}
}

func (m *Monitor) forgetCompleted(name string) {
	for i, n := range m.completed {
		if n == name {
			m.completed = append(m.completed[:i:i], m.completed[i+1:]...)
			return
		}
	}
}

func (s *span) snapshot(name string) Span {
	return Span{
		Name:       name,
		Category:   s.category,
		Start:      s.start,
		DurationMs: s.durationMs,
		Completed:  s.completed,
		SubSpans:   copySubSpans(s.subSpans),
	}
}

func copySubSpans(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
