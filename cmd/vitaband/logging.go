package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler

	// Parse level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	// Create handler based on format
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}

// busLogger adapts slog to the bus client's printf-style logger
type busLogger struct {
	logger *slog.Logger
}

func newBusLogger(logger *slog.Logger) *busLogger {
	return &busLogger{logger: logger.With("component", "busclient")}
}

func (b *busLogger) Printf(format string, v ...any) {
	b.logger.Info(fmt.Sprintf(format, v...))
}

func (b *busLogger) Errorf(format string, v ...any) {
	b.logger.Error(fmt.Sprintf(format, v...))
}

func (b *busLogger) Debugf(format string, v ...any) {
	b.logger.Debug(fmt.Sprintf(format, v...))
}
