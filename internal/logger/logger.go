package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	rotator   io.Closer
	rotatorMu sync.Mutex
)

// Logger wraps logrus.Entry to provide structured logging with context support.
type Logger struct {
	*logrus.Entry
}

// Config holds logger configuration.
type Config struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // defaults to stdout
	ServiceName string
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stdout,
		ServiceName: "lookbook",
	}
}

// New creates a Logger writing to cfg.Output.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return build(cfg.Level, cfg.Format, cfg.ServiceName, out)
}

// NewFromEnv creates a Logger from environment configuration. Outside the local
// environment logs are also written to a rotated file.
func NewFromEnv(envCfg *EnvConfig) *Logger {
	if envCfg == nil {
		envCfg = LoadFromEnv()
	}
	if envCfg.Output != nil {
		return build(envCfg.Level, envCfg.Format, envCfg.ServiceName, envCfg.Output)
	}

	var writers []io.Writer
	if envCfg.Environment == "local" || !envCfg.LogFileOnly {
		writers = append(writers, os.Stdout)
	}
	if envCfg.Environment != "local" && envCfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   envCfg.LogFile,
			MaxSize:    envCfg.MaxSize,
			MaxBackups: envCfg.MaxBackups,
			MaxAge:     envCfg.MaxAge,
			Compress:   envCfg.Compress,
		}
		writers = append(writers, file)

		rotatorMu.Lock()
		rotator = file
		rotatorMu.Unlock()
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	return build(envCfg.Level, envCfg.Format, envCfg.ServiceName, io.MultiWriter(writers...))
}

// NewDefault creates a Logger from environment variables.
func NewDefault() *Logger {
	return NewFromEnv(nil)
}

// Discard returns a Logger that drops everything. Useful in tests.
func Discard() *Logger {
	return build("panic", "json", "test", io.Discard)
}

func build(levelName, format, service string, out io.Writer) *Logger {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetReportCaller(true)

	if strings.EqualFold(format, "text") {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  timestampFormat,
			CallerPrettyfier: callerPrettyfier,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	}

	return &Logger{Entry: log.WithField("service", service)}
}

// Sync closes the rotated log file, if any. Call it before exiting.
func Sync() error {
	rotatorMu.Lock()
	defer rotatorMu.Unlock()
	if rotator != nil {
		return rotator.Close()
	}
	return nil
}

// WithFields returns a derived Logger with fields applied.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a derived Logger with a single field applied.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a derived Logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// callerPrettyfier trims the caller to package.func and file:line.
func callerPrettyfier(frame *runtime.Frame) (function string, file string) {
	funcName := frame.Function
	if idx := strings.LastIndex(funcName, "/"); idx != -1 {
		funcName = funcName[idx+1:]
	}
	return funcName, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

// Info logs through the default logger.
func Info(format string, args ...interface{}) {
	GetDefault().Infof(format, args...)
}

// Warn logs through the default logger.
func Warn(format string, args ...interface{}) {
	GetDefault().Warnf(format, args...)
}

// Error logs through the default logger.
func Error(format string, args ...interface{}) {
	GetDefault().Errorf(format, args...)
}

// CtxDebug logs at Debug level with the context's fields.
func CtxDebug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debugf(format, args...)
}

// CtxInfo logs at Info level with the context's fields.
func CtxInfo(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Infof(format, args...)
}

// CtxWarn logs at Warn level with the context's fields.
func CtxWarn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Warnf(format, args...)
}

// CtxError logs at Error level with the context's fields.
func CtxError(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Errorf(format, args...)
}
