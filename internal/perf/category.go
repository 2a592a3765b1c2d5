package perf

import "strings"

// Category selects the latency threshold a span is checked against.
type Category string

const (
	Navigation  Category = "NAVIGATION"
	Render      Category = "RENDER"
	Interaction Category = "INTERACTION"
	APICall     Category = "API_CALL"
	Default     Category = "default"
)

const defaultThresholdMs = 1000

// Thresholds maps categories to their alert threshold in milliseconds.
type Thresholds map[Category]float64

func DefaultThresholds() Thresholds {
	return Thresholds{
		Navigation:  700,
		Render:      300,
		Interaction: 150,
		APICall:     2000,
		Default:     defaultThresholdMs,
	}
}

// For returns the threshold for c, falling back to the default category.
func (t Thresholds) For(c Category) float64 {
	if v, ok := t[c]; ok {
		return v
	}
	if v, ok := t[Default]; ok {
		return v
	}
	return defaultThresholdMs
}

// ParseCategory accepts the config spelling of a category name
// ("navigation", "api_call", ...). Unknown names map to Default.
func ParseCategory(name string) Category {
	switch c := Category(strings.ToUpper(name)); c {
	case Navigation, Render, Interaction, APICall:
		return c
	}
	return Default
}
