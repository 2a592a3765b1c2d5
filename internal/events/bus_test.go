package events_test

import (
	"testing"

	"codeberg.org/mutker/petvitals/internal/events"
	"codeberg.org/mutker/petvitals/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestEmitReachesSubscribersOfThatName(t *testing.T) {
	bus := events.NewBus(logger.Nop())

	var usage, custom []any
	bus.Subscribe(events.FeatureUsage, func(p any) { usage = append(usage, p) })
	bus.Subscribe(events.CustomMetric, func(p any) { custom = append(custom, p) })

	bus.Emit(events.FeatureUsage, "meditation")

	assert.Equal(t, []any{"meditation"}, usage)
	assert.Empty(t, custom)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := events.NewBus(logger.Nop())

	calls := 0
	unsub := bus.Subscribe(events.FeatureUsage, func(any) { calls++ })
	keep := 0
	bus.Subscribe(events.FeatureUsage, func(any) { keep++ })

	unsub()
	unsub()
	bus.Emit(events.FeatureUsage, nil)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, keep)
	assert.Equal(t, 1, bus.Subscribers(events.FeatureUsage))
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := events.NewBus(logger.Nop())

	reached := false
	bus.Subscribe(events.InteractionMetric, func(any) { panic("render crashed") })
	bus.Subscribe(events.InteractionMetric, func(any) { reached = true })

	assert.NotPanics(t, func() { bus.Emit(events.InteractionMetric, nil) })
	assert.True(t, reached)
}

func TestBusIsSecuritySource(t *testing.T) {
	bus := events.NewBus(logger.Nop())
	var src events.SecuritySource = bus

	var got any
	unsub := src.OnSecurityEvent(func(p any) { got = p })
	bus.Emit(events.SecurityEvent, "tamper")
	assert.Equal(t, "tamper", got)

	unsub()
	assert.Equal(t, 0, bus.Subscribers(events.SecurityEvent))
}
