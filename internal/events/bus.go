// Package events is the in-process event bus UI layers subscribe to.
package events

import (
	"sync"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/logger"
)

// Event names emitted by the telemetry core
const (
	FeatureUsage      = "FEATURE_USAGE"
	InteractionMetric = "INTERACTION_METRIC"
	CustomMetric      = "CUSTOM_METRIC"
	SecurityEvent     = "SECURITY_EVENT"
)

// Handler receives an emitted payload.
type Handler func(payload any)

// Emitter is the event-bus side the core writes to.
type Emitter interface {
	Emit(name string, payload any)
}

// SecuritySource delivers security events until the returned func is called.
type SecuritySource interface {
	OnSecurityEvent(handler Handler) (unsubscribe func())
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus delivers each emitted payload synchronously to the current
// subscribers of that name.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
	log    logger.Logger
}

func NewBus(log logger.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]subscriber),
		log:  log,
	}
}

// Subscribe registers handler for name. The returned func removes it and is
// safe to call more than once.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

// Emit calls every subscriber of name. A panicking handler is logged and
// does not stop delivery to the rest.
func (b *Bus) Emit(name string, payload any) {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subs[name]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(name, s.handler, payload)
	}
}

func (b *Bus) deliver(name string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.FromPanic(errors.ErrHandlerPanic, r)
			b.log.ErrorWithContext(err, "events", name).Msg("Event handler panicked")
		}
	}()

	h(payload)
}

// OnSecurityEvent makes the bus a SecuritySource for SECURITY_EVENT emits.
func (b *Bus) OnSecurityEvent(handler Handler) func() {
	return b.Subscribe(SecurityEvent, handler)
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
