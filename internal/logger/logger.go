// Package logger wraps log/slog with the structured fields the route
// packages emit. The zero-configuration default discards everything, so
// library users pay nothing unless they opt in.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	*slog.Logger
}

// New returns a JSON logger at the given level writing to stdout.
func New(logLevel string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(logLevel),
		AddSource: logLevel == "debug",
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
	}
}

func (l *Logger) RouteOperation(action, route string, durationMs int64, success bool) {
	l.Info("Route operation completed",
		slog.String("action", action),
		slog.String("route", route),
		slog.Int64("duration_ms", durationMs),
		slog.Bool("success", success))
}

func (l *Logger) RouteChange(kind, route string) {
	l.Info("Route change observed",
		slog.String("kind", kind),
		slog.String("route", route))
}

func (l *Logger) ListenerStart() {
	l.Info("Route listener started")
}

func (l *Logger) ListenerStop() {
	l.Info("Route listener stopped")
}

func (l *Logger) BatchOperation(action string, total, success, failed int, durationMs int64) {
	l.Info("Batch operation completed",
		slog.String("action", action),
		slog.Int("total", total),
		slog.Int("success", success),
		slog.Int("failed", failed),
		slog.Int64("duration_ms", durationMs))
}
