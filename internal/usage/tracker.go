// Package usage aggregates per-feature usage counters, interaction timing and
// custom metrics. Operations return the updated aggregate so the caller can
// publish it; nothing here talks to the event bus directly.
package usage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/petvitals/internal/buffer"
	"codeberg.org/mutker/petvitals/internal/clock"
	"codeberg.org/mutker/petvitals/internal/perf"
)

const (
	DefaultSlowThresholdMs = 100
	DefaultRecentLimit     = 100

	// spanCategory is not in the threshold table, so feature spans are
	// checked against the default threshold.
	spanCategory perf.Category = "FEATURE_USAGE"
)

// Record is the usage aggregate of one feature.
type Record struct {
	FeatureName     string
	UsageCount      int
	TotalDurationMs float64
	ErrorCount      int
	LastUsedAt      time.Time
	RecentMetrics   []CustomMetric
}

// CustomMetric is one value recorded through TrackCustomMetric.
type CustomMetric struct {
	Feature   string
	Name      string
	Value     float64
	Timestamp time.Time
	Metadata  map[string]any
}

// Interaction is the aggregate for one (feature, interaction type) pair.
type Interaction struct {
	Feature           string
	Type              string
	Count             int
	TotalDurationMs   float64
	AverageDurationMs float64
	SlowCount         int
}

// SlowInteraction is returned when an interaction exceeds the slow threshold.
type SlowInteraction struct {
	Feature     string
	Type        string
	DurationMs  float64
	ThresholdMs float64
}

// Tracked is what a StopFunc returns once the feature span is closed.
type Tracked struct {
	Record Record
	Alert  *perf.Alert
}

// StopFunc ends a StartFeatureTracking span. Only the first call records.
type StopFunc func() (Tracked, bool)

// Snapshot is the combined view returned by GetAllMetrics.
type Snapshot struct {
	Features     map[string]Record
	Interactions []Interaction
}

type interactionKey struct {
	feature, kind string
}

type feature struct {
	record Record
	recent *buffer.Ring[CustomMetric]
}

type Tracker struct {
	mu              sync.Mutex
	clock           clock.Clock
	spans           *perf.Monitor
	slowThresholdMs float64
	recentLimit     int
	features        map[string]*feature
	interactions    map[interactionKey]*Interaction
}

type Option func(*Tracker)

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

func WithSlowThreshold(ms float64) Option {
	return func(t *Tracker) {
		if ms > 0 {
			t.slowThresholdMs = ms
		}
	}
}

func WithRecentLimit(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.recentLimit = n
		}
	}
}

// New returns a Tracker that times feature spans on spans.
func New(spans *perf.Monitor, opts ...Option) *Tracker {
	t := &Tracker{
		clock:           clock.Real(),
		spans:           spans,
		slowThresholdMs: DefaultSlowThresholdMs,
		recentLimit:     DefaultRecentLimit,
		features:        make(map[string]*feature),
		interactions:    make(map[interactionKey]*Interaction),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InitializeFeature creates an empty record for name if there is none.
func (t *Tracker) InitializeFeature(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.feature(name)
}

func (t *Tracker) feature(name string) *feature {
	f, ok := t.features[name]
	if !ok {
		f = &feature{
			record: Record{FeatureName: name},
			recent: buffer.MustNew[CustomMetric](t.recentLimit),
		}
		t.features[name] = f
	}
	return f
}

// TrackFeatureUsage counts one use of name lasting durationMs.
func (t *Tracker) TrackFeatureUsage(name string, durationMs float64) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.feature(name)
	f.record.UsageCount++
	f.record.TotalDurationMs += durationMs
	f.record.LastUsedAt = t.clock.Now()

	return f.snapshot()
}

// TrackError counts a failure inside feature name.
func (t *Tracker) TrackError(name string) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.feature(name)
	f.record.ErrorCount++

	return f.snapshot()
}

// StartFeatureTracking opens a span for name and returns the func that
// closes it and records the usage.
func (t *Tracker) StartFeatureTracking(name string) StopFunc {
	t.InitializeFeature(name)

	key := fmt.Sprintf("%s_%d", name, clock.EpochMillis(t.clock.Now()))
	t.spans.StartMetric(key, spanCategory)

	return func() (Tracked, bool) {
		res, ok := t.spans.EndMetric(key)
		if !ok {
			return Tracked{}, false
		}

		return Tracked{
			Record: t.TrackFeatureUsage(name, res.Span.DurationMs),
			Alert:  res.Alert,
		}, true
	}
}

// TrackInteraction folds one interaction into its aggregate. The second
// return value is non-nil when the interaction was slow.
func (t *Tracker) TrackInteraction(featureName, kind string, durationMs float64) (Interaction, *SlowInteraction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := interactionKey{feature: featureName, kind: kind}
	agg, ok := t.interactions[key]
	if !ok {
		agg = &Interaction{Feature: featureName, Type: kind}
		t.interactions[key] = agg
	}

	agg.Count++
	agg.TotalDurationMs += durationMs
	agg.AverageDurationMs = agg.TotalDurationMs / float64(agg.Count)

	var slow *SlowInteraction
	if durationMs > t.slowThresholdMs {
		agg.SlowCount++
		slow = &SlowInteraction{
			Feature:     featureName,
			Type:        kind,
			DurationMs:  durationMs,
			ThresholdMs: t.slowThresholdMs,
		}
	}

	return *agg, slow
}

// TrackCustomMetric appends a value to the feature's recent metrics,
// dropping the oldest once the limit is reached.
func (t *Tracker) TrackCustomMetric(featureName, name string, value float64, metadata map[string]any) CustomMetric {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := CustomMetric{
		Feature:   featureName,
		Name:      name,
		Value:     value,
		Timestamp: t.clock.Now(),
		Metadata:  metadata,
	}
	t.feature(featureName).recent.Push(m)

	return m
}

func (t *Tracker) GetFeatureMetrics(name string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.features[name]
	if !ok {
		return Record{}, false
	}
	return f.snapshot(), true
}

// GetInteractionMetrics returns the interaction aggregates of one feature,
// ordered by interaction type.
func (t *Tracker) GetInteractionMetrics(featureName string) []Interaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Interaction
	for key, agg := range t.interactions {
		if key.feature == featureName {
			out = append(out, *agg)
		}
	}
	sortInteractions(out)

	return out
}

func (t *Tracker) GetAllMetrics() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Features:     make(map[string]Record, len(t.features)),
		Interactions: make([]Interaction, 0, len(t.interactions)),
	}
	for name, f := range t.features {
		snap.Features[name] = f.snapshot()
	}
	for _, agg := range t.interactions {
		snap.Interactions = append(snap.Interactions, *agg)
	}
	sortInteractions(snap.Interactions)

	return snap
}

// ClearMetrics resets feature and interaction aggregates together.
func (t *Tracker) ClearMetrics() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.features = make(map[string]*feature)
	t.interactions = make(map[interactionKey]*Interaction)
}

func (f *feature) snapshot() Record {
	rec := f.record
	rec.RecentMetrics = f.recent.Snapshot()
	return rec
}

func sortInteractions(in []Interaction) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Feature != in[j].Feature {
			return in[i].Feature < in[j].Feature
		}
		return in[i].Type < in[j].Type
	})
}
