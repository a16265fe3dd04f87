package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"ssh-commander/internal/target"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
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
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// Discard returns a logger that drops everything. Used by tests and
// callers that have no logger configured.
func Discard() *Logger {
	return NewLogger(Config{Output: io.Discard, Level: LevelError})
}

func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), config: l.config}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Debug(msg, args...)
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Info(msg, args...)
}

// Warn logs a warning
func (l *Logger) Warn(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// ErrorContext logs an error message with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

// LogConnection logs SSH connection information securely
func (l *Logger) LogConnection(t target.Target, duration time.Duration, attempt int) {
	l.Info("ssh connection established",
		"host", t.Host,
		"user", t.User,
		"port", t.Port,
		"auth", t.AuthKind(),
		"duration_ms", duration.Milliseconds(),
		"attempt", attempt,
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

// LogRetry logs retry attempt information
func (l *Logger) LogRetry(t target.Target, attempt int, backoff time.Duration, err error) {
	l.Info("retrying connection",
		"host", t.Host,
		"port", t.Port,
		"attempt", attempt,
		"backoff_ms", backoff.Milliseconds(),
		"reason", err.Error(),
	)
}

// LogHostKeyAdded logs a host key accepted on first use
func (l *Logger) LogHostKeyAdded(hostname, keyType, fingerprint string) {
	l.Warn("permanently added host key",
		"host", hostname,
		"key_type", keyType,
		"fingerprint", fingerprint,
	)
}

// LogExecution logs command execution information.
// The command itself is not logged.
func (l *Logger) LogExecution(t target.Target, exitCode int, duration time.Duration, interrupted bool) {
	l.Info("command executed",
		"host", t.Host,
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds(),
		"interrupted", interrupted,
	)
}

// LogExecutionError logs command execution errors
func (l *Logger) LogExecutionError(t target.Target, err error) {
	l.Error("command execution failed",
		"host", t.Host,
		"error", err.Error(),
	)
}

// LogCleanupError logs a failure to close a session or connection
func (l *Logger) LogCleanupError(err error) {
	l.Error("cleanup failed", "error", err.Error())
}

// LogStreamError logs a failure writing remote output locally
func (l *Logger) LogStreamError(err error) {
	l.Error("output stream failed", "error", err.Error())
}

// LogStreamReadError logs a failure reading remote output from a session
func (l *Logger) LogStreamReadError(stream string, err error) {
	l.Debug("remote stream read failed", "stream", stream, "error", err.Error())
}

// LogRunStart logs the start of a run
func (l *Logger) LogRunStart(mode string, targetCount, commandCount int) {
	l.Info("run started",
		"mode", mode,
		"target_count", targetCount,
		"command_count", commandCount,
	)
}

// LogRunComplete logs the completion of a run
func (l *Logger) LogRunComplete(targetCount, successCount, failureCount int, cancelled bool, duration time.Duration) {
	l.Info("run completed",
		"target_count", targetCount,
		"success_count", successCount,
		"failure_count", failureCount,
		"cancelled", cancelled,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string) {
	l.Debug("configuration loaded", "source", source)
}

// LogTargetsLoaded logs registry loading information
func (l *Logger) LogTargetsLoaded(source string, count int) {
	l.Debug("targets loaded",
		"source", source,
		"count", count,
	)
}

// IsQuiet returns whether the logger is in quiet mode
func (l *Logger) IsQuiet() bool {
	return l.config.Quiet
}

// NewLoggerFromConfig creates a logger from application configuration
func NewLoggerFromConfig(logLevel, logFormat string, quiet bool) *Logger {
	level := LevelWarn
	switch LogLevel(logLevel) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		level = LogLevel(logLevel)
	}

	format := FormatText
	if LogFormat(logFormat) == FormatJSON {
		format = FormatJSON
	}

	return NewLogger(Config{
		Level:  level,
		Format: format,
		Quiet:  quiet,
	})
}
