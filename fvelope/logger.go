package fvelope

import (
	"context"
	"log/slog"

	"cloudeng.io/logging/ctxlog"
)

// BasicLogger is the logging surface used by fvelope.  It is small on
// purpose so that any structured logger can sit behind it.
type BasicLogger interface {
	Debug(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
}

type wrappedSlog struct {
	log *slog.Logger
}

var _ BasicLogger = wrappedSlog{}

// LoggerFromSlog adapts a *slog.Logger.  Field maps become slog
// attributes.
func LoggerFromSlog(log *slog.Logger) BasicLogger {
	if log == nil {
		return NoLogger()
	}
	return wrappedSlog{log: log}
}

// LoggerFromContext returns the logger that ctxlog carries in ctx.
// When there is none, the returned logger discards everything.
func LoggerFromContext(ctx context.Context) BasicLogger {
	return wrappedSlog{log: ctxlog.Logger(ctx)}
}

func attrs(fields []map[string]interface{}) []any {
	if len(fields) == 0 {
		return nil
	}
	vals := make([]any, 0, len(fields)*4)
	for _, m := range fields {
		for k, v := range m {
			vals = append(vals, slog.Any(k, v))
		}
	}
	return vals
}

func (l wrappedSlog) Error(msg string, fields ...map[string]interface{}) {
	l.log.Error(msg, attrs(fields)...)
}

func (l wrappedSlog) Warn(msg string, fields ...map[string]interface{}) {
	l.log.Warn(msg, attrs(fields)...)
}

func (l wrappedSlog) Debug(msg string, fields ...map[string]interface{}) {
	l.log.Debug(msg, attrs(fields)...)
}

// NoLogger returns a BasicLogger that discards all inputs
func NoLogger() BasicLogger {
	return nilLogger{}
}

type nilLogger struct{}

var _ BasicLogger = nilLogger{}

func (nilLogger) Error(msg string, fields ...map[string]interface{}) {}
func (nilLogger) Warn(msg string, fields ...map[string]interface{})  {}
func (nilLogger) Debug(msg string, fields ...map[string]interface{}) {}
