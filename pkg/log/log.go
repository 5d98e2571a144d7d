package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Packages derive scoped child
// loggers from it through the With* helpers instead of logging on it
// directly.
var Logger zerolog.Logger

// Level selects the minimum severity that gets emitted.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // Defaults to stderr
}

// Init configures the root logger. An unknown level falls back to info.
func Init(cfg Config) {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = out
	if !cfg.JSONOutput {
		// Console output for operators at a terminal; JSON for shippers.
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(w).With().Timestamp().Logger()
}

// WithComponent derives a logger for one subsystem from the root.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithService derives a child of parent scoped to one service, so every
// event of a per-service operation carries the service name.
func WithService(parent zerolog.Logger, service string) zerolog.Logger {
	return parent.With().Str("service", service).Logger()
}

// WithInstance derives a child of parent scoped to one runtime instance.
func WithInstance(parent zerolog.Logger, instance string) zerolog.Logger {
	return parent.With().Str("instance", instance).Logger()
}
