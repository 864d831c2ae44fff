package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract used across the runtime. It maps onto
// Watermill's LoggerAdapter so pipe transports can share the same logger.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

var logLevelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies ServiceLogger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("tcpflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, logLevelMapping))
}

// NewWatermillServiceLogger wraps an existing Watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("tcpflow: watermill logger cannot be nil")
	}
	return &watermillServiceLogger{inner: logger}
}

// NopLogger discards everything.
func NopLogger() ServiceLogger {
	return NewWatermillServiceLogger(watermill.NopLogger{})
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return &watermillServiceLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type serviceLoggerAdapter struct {
	base ServiceLogger
}

// NewWatermillAdapter converts a ServiceLogger into a Watermill LoggerAdapter
// for the pipe publishers and subscribers.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("tcpflow: ServiceLogger cannot be nil")
	}
	return &serviceLoggerAdapter{base: log}
}

func (s *serviceLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	s.base.Error(msg, err, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	s.base.Info(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	s.base.Trace(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &serviceLoggerAdapter{base: s.base.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}
