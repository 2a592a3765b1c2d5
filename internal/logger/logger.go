package logger

import (
	"io"
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/petvitals/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(io.Discard)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// ParseLevel maps a config log level name onto a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch name {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}

	return WarnLevel, errors.New().WithData(errors.ErrInvalidLogLevel, name)
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given configuration
func Init(debug, verbose, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	SetLogLevel(WarnLevel)

	if debug {
		SetLogLevel(DebugLevel)
	} else if verbose {
		SetLogLevel(InfoLevel)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Fatal().
		Str("error_code", string(err.Code())).
		AnErr("error", err)}
}

// zlogger adapts a zerolog.Logger to the Logger interface.
type zlogger struct {
	l zerolog.Logger
}

// Default returns a Logger backed by the global logger configured by Init.
func Default() Logger {
	return defaultLogger{}
}

// New returns a Logger writing JSON lines to w.
func New(w io.Writer) Logger {
	return &zlogger{l: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zlogger{l: zerolog.Nop()}
}

// With returns a child Logger tagged with the given component name.
func With(component string) Logger {
	return &zlogger{l: log.With().Str("component", component).Logger()}
}

func (z *zlogger) Debug() *LogEvent { return &LogEvent{z.l.Debug()} }
func (z *zlogger) Info() *LogEvent  { return &LogEvent{z.l.Info()} }
func (z *zlogger) Warn() *LogEvent  { return &LogEvent{z.l.Warn()} }
func (z *zlogger) Error() *LogEvent { return &LogEvent{z.l.Error()} }

func (z *zlogger) ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(z.l.Error(), err)
}

func (z *zlogger) ErrorWithContext(err error, component, operation string) *LogEvent {
	return withContext(z.l.Error(), err, component, operation)
}

type defaultLogger struct{}

func (defaultLogger) Debug() *LogEvent { return Debug() }
func (defaultLogger) Info() *LogEvent  { return Info() }
func (defaultLogger) Warn() *LogEvent  { return Warn() }
func (defaultLogger) Error() *LogEvent { return Error() }

func (defaultLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(log.Error(), err)
}

func (defaultLogger) ErrorWithContext(err error, component, operation string) *LogEvent {
	return withContext(log.Error(), err, component, operation)
}

func withCode(ev *zerolog.Event, err errors.Error) *LogEvent {
	return &LogEvent{ev.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

func withContext(ev *zerolog.Event, err error, component, operation string) *LogEvent {
	ev = ev.Err(err).Str("component", component).Str("operation", operation)
	if code := errors.CodeOf(err); code != "" {
		ev = ev.Str("error_code", string(code))
	}

	return &LogEvent{ev}
}
