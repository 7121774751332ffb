package logger

import (
	"context"
	"sync"
)

type contextKey struct{}

var loggerKey = contextKey{}

var (
	defaultLogger   = New(nil)
	defaultLoggerMu sync.RWMutex
)

// GetDefault returns the process-wide logger.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. nil is ignored.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns a copy of ctx carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithField returns a context whose logger carries one more field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields returns a context whose logger carries the given fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// SetRequestID sets the request ID field in context.
func SetRequestID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldRequestID, id)
}

// SetWorkspaceID sets the workspace ID field in context.
func SetWorkspaceID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldWorkspaceID, id)
}

// SetRunID sets the generation run ID field in context.
func SetRunID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldRunID, id)
}

// SetJobID sets the external job ID field in context.
func SetJobID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldJobID, id)
}

// SetArtifactID sets the artifact ID field in context.
func SetArtifactID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldArtifactID, id)
}

// SetComponent sets the component name field in context.
func SetComponent(ctx context.Context, name string) context.Context {
	return WithField(ctx, FieldComponent, name)
}

// GetFieldString returns a string field of the context's logger, or "".
func GetFieldString(ctx context.Context, key string) string {
	val, ok := FromContext(ctx).Data[key]
	if !ok {
		return ""
	}
	str, _ := val.(string)
	return str
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	return GetFieldString(ctx, FieldRequestID)
}

// GetWorkspaceID extracts the workspace ID from context.
func GetWorkspaceID(ctx context.Context) string {
	return GetFieldString(ctx, FieldWorkspaceID)
}
