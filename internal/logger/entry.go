package logger

import (
	"context"
	"time"
)

// Entry carries metric fields (duration_ms, count, attempts...) for one log line.
//
//	logger.With(logger.Fields{"count": 3}).WithDuration(d).Info(ctx, "batch done")
type Entry struct {
	fields Fields
}

// With starts an Entry with the given metric fields.
func With(fields Fields) *Entry {
	return (&Entry{}).With(fields)
}

// With returns a new Entry with fields merged in.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fields: merged}
}

// WithDuration adds a duration_ms field.
func (e *Entry) WithDuration(d time.Duration) *Entry {
	return e.With(Fields{FieldDurationMs: d.Milliseconds()})
}

// WithCount adds a count field.
func (e *Entry) WithCount(count int) *Entry {
	return e.With(Fields{FieldCount: count})
}

// WithStatus adds a status field.
func (e *Entry) WithStatus(status string) *Entry {
	return e.With(Fields{FieldStatus: status})
}

// WithAttempts adds an attempts field.
func (e *Entry) WithAttempts(n int) *Entry {
	return e.With(Fields{FieldAttempts: n})
}

func (e *Entry) logger(ctx context.Context) *Logger {
	return FromContext(ctx).WithFields(e.fields)
}

// Debug logs at Debug level.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Debugf(format, args...)
}

// Info logs at Info level.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Infof(format, args...)
}

// Warn logs at Warn level.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Warnf(format, args...)
}

// Error logs at Error level.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Errorf(format, args...)
}
