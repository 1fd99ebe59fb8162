// Package logging provides structured logging with run ID support
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// RunIDKey is the context key for the reconciliation run ID
	RunIDKey ContextKey = "run_id"
	// EnvironmentKey is the context key for the environment tag
	EnvironmentKey ContextKey = "environment"
	// ComponentKey is the context key for the engine component name
	ComponentKey ContextKey = "component"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger:    logger,
		component: component,
	}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment variables.
// Defaults to "info" and "json" when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext creates a new logger entry with context values
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)

	if runID := ctx.Value(RunIDKey); runID != nil {
		entry = entry.WithField("run_id", runID)
	}
	if env := ctx.Value(EnvironmentKey); env != nil {
		entry = entry.WithField("environment", env)
	}

	return entry
}

// WithRunID creates a new logger entry with the run ID
func (l *Logger) WithRunID(runID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"run_id":    runID,
	})
}

// WithResource creates a new logger entry scoped to a governed resource
func (l *Logger) WithResource(resourceType, name string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component":     l.component,
		"resource_type": resourceType,
		"resource":      name,
	})
}

// WithFields creates a new logger entry with custom fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError creates a new logger entry with error
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}

// SetOutput sets the logger output
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Context helper functions

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// WithEnvironment adds the environment tag to the context
func WithEnvironment(ctx context.Context, env string) context.Context {
	return context.WithValue(ctx, EnvironmentKey, env)
}

// GetEnvironment retrieves the environment tag from context
func GetEnvironment(ctx context.Context) string {
	if env, ok := ctx.Value(EnvironmentKey).(string); ok {
		return env
	}
	return ""
}
