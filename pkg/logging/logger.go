// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every request and every applied reaction.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs page fetches and the run summary.
	LevelInfo LogLevel = "info"

	// LevelWarn logs rate limit waits and anything that slows the run down.
	LevelWarn LogLevel = "warn"

	// LevelError logs failures only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
// The CLI is usually run interactively, so console output is the default.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: true,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLogLevel validates a user supplied level name.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Every outgoing request (method, route)
//   - Bucket headers (remaining, reset_after, bucket)
//   - Each applied reaction
//
// Info: Normal operation events
//   - Page fetched (size, before)
//   - Run started / finished with summary
//
// Warn: Conditions that slow the run down
//   - 429 responses and the computed wait
//   - Waiting on a backoff recorded by another process
//
// Error: Conditions that abort the run
//   - Non-429 HTTP errors, malformed bodies, connection failures
//
// Context Fields:
//   - route: request route template, e.g. /channels/{channel}/messages
//   - status_code: HTTP status code
//   - wait: rate limit wait duration
//   - global: whether a 429 was a global limit
//   - channel_id, message_id: snowflakes
//   - remaining: reactions still to apply
//
// The credential is never attached to a log event.
