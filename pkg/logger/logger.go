package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Context key for storing logger
type contextKey string

const loggerContextKey contextKey = "konflux-aggregator-logger"

// LogFileName is the file written inside the configured log directory.
const LogFileName = "konflux-aggregator.log"

// LogLevel represents supported logging levels
type LogLevel string

const (
	// LogLevelDebug enables debug, info, warning, and error messages
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo enables info, warning, and error messages
	LogLevelInfo LogLevel = "info"
	// LogLevelWarning enables warning and error messages
	LogLevelWarning LogLevel = "warning"
	// LogLevelError enables only error messages
	LogLevelError LogLevel = "error"
)

// ValidLogLevels contains all supported log levels
var ValidLogLevels = map[string]LogLevel{
	"debug":   LogLevelDebug,
	"info":    LogLevelInfo,
	"warning": LogLevelWarning,
	"error":   LogLevelError,
}

// ValidateLogLevel validates if the provided log level is supported
func ValidateLogLevel(level string) error {
	normalizedLevel := strings.ToLower(strings.TrimSpace(level))
	if _, valid := ValidLogLevels[normalizedLevel]; !valid {
		return fmt.Errorf("invalid log level '%s'. Valid levels are: debug, info, warning, error", level)
	}
	return nil
}

// ParseLogLevel converts string log level to logrus.Level with validation
func ParseLogLevel(level string) (logrus.Level, error) {
	normalizedLevel := strings.ToLower(strings.TrimSpace(level))

	switch normalizedLevel {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level '%s'. Valid levels are: debug, info, warning, error", level)
	}
}

// SetupLogger creates a logger with specified level and optional log directory.
// Output goes to stderr and, when logDir is set, also to the log file.
// Under a service manager (journald) timestamps and colors are left out.
func SetupLogger(ctx context.Context, level, logDir string) context.Context {
	logger := logrus.New()

	logLevel, err := ParseLogLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v. Using 'info' level as default.\n", err)
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		filename := filepath.Base(f.File)
		return fmt.Sprintf("[%s:%d]", filename, f.Line), ""
	}
	if os.Getenv("JOURNAL_STREAM") != "" {
		logger.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: true, // the journal adds timestamps
			CallerPrettyfier: callerPrettyfier,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat:  "2006-01-02 15:04:05",
			FullTimestamp:    true,
			CallerPrettyfier: callerPrettyfier,
		})
	}

	writers := []io.Writer{os.Stderr}
	if logDir != "" {
		if fileWriter, err := openLogFile(logDir); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to setup log file in directory '%s': %v. Logging to console only.\n", logDir, err)
		} else {
			writers = append(writers, fileWriter)
		}
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return context.WithValue(ctx, loggerContextKey, logger)
}

// openLogFile opens the log file for appending, creating the directory and
// file when needed.
func openLogFile(logDir string) (io.Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory '%s': %w", logDir, err)
	}

	logFilePath := filepath.Join(logDir, LogFileName)
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", logFilePath, err)
	}
	return file, nil
}

// GetLoggerFromContext retrieves the logger from context
func GetLoggerFromContext(ctx context.Context) *logrus.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*logrus.Logger); ok {
		return logger
	}
	// Fallback to default logger if not found in context
	return logrus.New()
}

// GetCurrentLogLevel returns the current log level as a string
func GetCurrentLogLevel(ctx context.Context) string {
	logger := GetLoggerFromContext(ctx)
	switch logger.GetLevel() {
	case logrus.DebugLevel:
		return "debug"
	case logrus.InfoLevel:
		return "info"
	case logrus.WarnLevel:
		return "warning"
	case logrus.ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}
