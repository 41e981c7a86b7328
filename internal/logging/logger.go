package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel  // Minimum log level to output
	Format LogFormat // Output format (json or text)
	Output io.Writer // Output destination (defaults to stderr)
	Quiet  bool      // If true, suppress non-error output
}

// Logger wraps slog.Logger with secure logging practices
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new secure logger instance
func NewLogger(config Config) *Logger {
	// Set default output to stderr if not specified
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	case FormatText:
		handler = slog.NewTextHandler(config.Output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// convertLogLevel converts our LogLevel to slog.Level
func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelError:
		return slog.LevelError
	case LevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	if l.config.Quiet {
		return // Suppress non-error output in quiet mode
	}
	l.logger.Info(msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// InfoContext logs an informational message with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.InfoContext(ctx, msg, args...)
}

// LogConnection logs SSH connection information securely
func (l *Logger) LogConnection(t target.Target, hostname string, duration time.Duration, attempt int) {
	l.Info("ssh connection established",
		"host", t.Host,
		"user", t.User,
		"port", t.Port,
		"hostname", hostname,
		"duration_ms", duration.Milliseconds(),
		"attempt", attempt,
		// Note: Never log passwords, identity file paths, or auth details
	)
}

// LogConnectionError logs SSH connection errors securely
func (l *Logger) LogConnectionError(t target.Target, err error, attempt int) {
	l.Error("ssh connection failed",
		"host", t.Host,
		"user", t.User,
		"port", t.Port,
		"error", err.Error(),
		"attempt", attempt,
	)
}

// LogConnectionWarning logs security warnings for connections
func (l *Logger) LogConnectionWarning(hostname string, message string) {
	l.logger.Warn("connection security warning",
		"host", hostname,
		"warning", message,
	)
}

// LogRetry logs a connect retry attempt
func (l *Logger) LogRetry(t target.Target, attempt int, backoff time.Duration, reason string) {
	l.Info("retrying connection",
		"host", t.Host,
		"user", t.User,
		"port", t.Port,
		"attempt", attempt,
		"backoff_ms", backoff.Milliseconds(),
		"reason", reason,
	)
}

// LogProbeStart logs the start of one ping stream
func (l *Logger) LogProbeStart(t target.Target, hostname, destination string) {
	l.Info("probe started",
		"host", t.Host,
		"hostname", hostname,
		"destination", destination,
	)
}

// LogLossDetected logs the onset or continuation of a loss run
func (l *Logger) LogLossDetected(t target.Target, destination string, consecutive int) {
	l.Warn("packet loss detected",
		"host", t.Host,
		"destination", destination,
		"consecutive", consecutive,
	)
}

// LogLossRecovered logs the end of a loss run
func (l *Logger) LogLossRecovered(t target.Target, destination string, lost int) {
	l.Info("packet loss recovered",
		"host", t.Host,
		"destination", destination,
		"packets_lost", lost,
	)
}

// LogStatsCaptured logs that the remote statistics block was preserved
func (l *Logger) LogStatsCaptured(t target.Target, destination string, transmitted, received int, lossPercent float64) {
	l.Info("statistics block captured",
		"host", t.Host,
		"destination", destination,
		"transmitted", transmitted,
		"received", received,
		"loss_percent", lossPercent,
	)
}

// LogTransportError logs a mid-session transport failure
func (l *Logger) LogTransportError(t target.Target, destination string, err error) {
	l.Warn("transport read failed, closing stream",
		"host", t.Host,
		"destination", destination,
		"error", err.Error(),
	)
}

// LogStopRequested logs that the global stop was requested
func (l *Logger) LogStopRequested(reason string) {
	l.Info("stop requested, draining sessions", "reason", reason)
}

// LogWorkerAbandoned logs a worker that missed the join window
func (l *Logger) LogWorkerAbandoned(t target.Target, destination string, timeout time.Duration) {
	l.Warn("worker did not close within join window, abandoning",
		"host", t.Host,
		"destination", destination,
		"timeout_ms", timeout.Milliseconds(),
	)
}

// LogRunStart logs the start of orchestrated probing
func (l *Logger) LogRunStart(targetCount, streamCount, concurrency int) {
	l.Info("probe run started",
		"target_count", targetCount,
		"stream_count", streamCount,
		"concurrency", concurrency,
	)
}

// LogRunComplete logs the completion of orchestrated probing
func (l *Logger) LogRunComplete(streamCount, connected, failed, withLoss int, duration time.Duration) {
	l.Info("probe run completed",
		"stream_count", streamCount,
		"connected", connected,
		"connection_failures", failed,
		"streams_with_loss", withLoss,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string) {
	l.Info("configuration loaded",
		"source", source,
	)
}

// LogConfigError logs configuration errors
func (l *Logger) LogConfigError(source string, err error) {
	l.Error("configuration error",
		"source", source,
		"error", err.Error(),
	)
}

// LogTargetParsing logs target parsing information
func (l *Logger) LogTargetParsing(source string, count int) {
	l.Info("targets parsed",
		"source", source,
		"count", count,
	)
}

// LogTargetParsingError logs target parsing errors
func (l *Logger) LogTargetParsingError(source string, err error) {
	l.Error("target parsing failed",
		"source", source,
		"error", err.Error(),
	)
}

// IsQuiet returns whether the logger is in quiet mode
func (l *Logger) IsQuiet() bool {
	return l.config.Quiet
}

// NewLoggerFromConfig creates a logger from application configuration
func NewLoggerFromConfig(logLevel, logFormat string, quiet bool) *Logger {
	var level LogLevel
	switch logLevel {
	case "error":
		level = LevelError
	case "info":
		level = LevelInfo
	default:
		level = LevelInfo // Default to info level
	}

	var format LogFormat
	switch logFormat {
	case "json":
		format = FormatJSON
	case "text":
		format = FormatText
	default:
		format = FormatText // Default to text format
	}

	config := Config{
		Level:  level,
		Format: format,
		Quiet:  quiet,
	}

	return NewLogger(config)
}
