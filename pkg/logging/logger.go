// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
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
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	log.Logger = logger

	return logger
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
//   - Checkpoint reads/writes (key, resume marker, TTL)
//   - Per-page request flow (filters, sort, since marker)
//   - Shard key construction
//
// Info: Normal operation events
//   - Batch dispatch and completion
//   - Plan summary (batches, workers, sets)
//   - Consolidated artifact writes
//
// Warn: Warning conditions that don't prevent operation
//   - Rate-limited workers (expected steady state, handled by reprocessing)
//   - Retry attempts on transient source errors
//   - Shard cleanup failures after a committed merge
//
// Error: Error conditions requiring attention
//   - Primary shard or artifact write failures
//   - Invalid partition input
//   - Aggregation with zero primary shards
//
// Context Fields:
//   - document_id: document being ingested
//   - worker_id: global worker counter within a run
//   - page: 1-based page number within a set
//   - set: set number (group of pages bounded by the source's max offset)
//   - batch: global batch id
//   - content_type: comments | attachments
//   - error_class: client, server, rate_limit, network
//   - resume_marker: last modified marker used for resumable fetches
