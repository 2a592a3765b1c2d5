// Package report defines the reporting collaborator the telemetry core
// hands its alerts, warnings and failures to.
package report

import (
	"sync"
	"time"

	"codeberg.org/mutker/petvitals/internal/logger"
	"github.com/google/uuid"
)

// Event categories
const (
	CategoryPerformance = "performance"
	CategoryInteraction = "interaction"
	CategorySecurity    = "security"
	CategoryLifecycle   = "lifecycle"
)

// Event is a reportable condition. Reporting is fire-and-forget.
type Event struct {
	ID        string
	Category  string
	Message   string
	Data      map[string]any
	Timestamp time.Time
}

// NewEvent stamps an event with a fresh id.
func NewEvent(at time.Time, category, message string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Category:  category,
		Message:   message,
		Data:      data,
		Timestamp: at,
	}
}

// Reporter accepts events and errors from the core.
type Reporter interface {
	ReportEvent(ev Event)
	ReportError(err error, context string)
}

// Log writes every event and error to a Logger.
type Log struct {
	log logger.Logger
}

func NewLog(log logger.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) ReportEvent(ev Event) {
	e := l.log.Warn()
	if ev.Category == CategoryLifecycle {
		e = l.log.Info()
	}

	e.Str("event_id", ev.ID).
		Str("category", ev.Category).
		Time("at", ev.Timestamp).
		Fields(ev.Data).
		Msg(ev.Message)
}

func (l *Log) ReportError(err error, context string) {
	l.log.ErrorWithContext(err, "telemetry", context).Msg("Telemetry error")
}

// Multi fans every call out to each reporter in order.
type Multi []Reporter

func (m Multi) ReportEvent(ev Event) {
	for _, r := range m {
		r.ReportEvent(ev)
	}
}

func (m Multi) ReportError(err error, context string) {
	for _, r := range m {
		r.ReportError(err, context)
	}
}

// Recorder keeps everything it receives. Useful as a reporter in tests and
// for the daemon's recent-alerts view.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	errs   []RecordedError
}

// RecordedError is an error together with the context it was reported under.
type RecordedError struct {
	Err     error
	Context string
}

func (r *Recorder) ReportEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) ReportError(err error, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, RecordedError{Err: err, Context: context})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Errors returns a copy of the recorded errors.
func (r *Recorder) Errors() []RecordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedError(nil), r.errs...)
}

// EventsIn returns the recorded events of one category.
func (r *Recorder) EventsIn(category string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Category == category {
			out = append(out, ev)
		}
	}
	return out
}
