// Package logging configures the process-wide zerolog logger shared by
// every pipeline component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel names a minimum severity.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum severity to emit.
	Level LogLevel

	// Pretty switches from JSON to console output for interactive runs.
	Pretty bool

	// Output receives all log lines. Defaults to os.Stderr so study
	// JSON on stdout stays machine-readable.
	Output io.Writer
}

// DefaultConfig returns the JSON-to-stderr default.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs and returns the global zerolog logger. Every line
// carries a timestamp and the service field.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(out).With().
		Timestamp().
		Str("service", "tcia-fetch").
		Logger()
	return log.Logger
}

// parseLevel maps a LogLevel onto zerolog, defaulting unknown values
// to info rather than failing.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a component logger from the global one.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-page request parameters (offset, limit)
//   - Cache operations (loads, appends, flush sizes)
//   - Per-series classification decisions
//
// Info: Normal operation events
//   - Collection fetch start/complete with counts and duration
//   - Cache finalization
//   - Preflight probe outcomes
//   - Patients included after classification
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts
//   - Corrupt cache lines skipped during load
//   - Memory backpressure pauses
//   - Collections skipped by the preflight probe
//
// Error: Error conditions requiring attention
//   - Requests that exhausted all retries
//   - Cache write failures
//   - Configuration errors
//
// Context Fields:
//   - collection: catalog collection name
//   - patient_id: patient identifier
//   - study_uid: StudyInstanceUID
//   - page / offset / limit: pagination state
//   - status_code: HTTP status code
//   - error_class: error classification (client, server, network)
//   - attempt: retry or fetch attempt number
