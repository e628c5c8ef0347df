// Package logger provides a process-wide structured logger, backed by zap,
// that can be swapped out in tests. It exposes a package-level
// Debug/Info/Warn/Error/Panic (+f/+w variant) surface so callers never need
// to carry a logger value through the request pipeline.
package logger

import (
	"os"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(newLogger(unstructuredLogs()))
}

// envReader abstracts environment lookups so tests can inject a fake one.
type envReader interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// unstructuredLogsWithEnv decides between the human-readable console encoder
// and the JSON encoder based on the UNSTRUCTURED_LOGS environment variable.
// Default (unset or unparsable) is unstructured/console output.
func unstructuredLogsWithEnv(env envReader) bool {
	v := env.Getenv("UNSTRUCTURED_LOGS")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

func unstructuredLogs() bool {
	return unstructuredLogsWithEnv(osEnv{})
}

func newLogger(unstructured bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if unstructured {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panicking at import time.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Initialize (re)builds the singleton logger from the current environment.
// Safe to call multiple times; typically invoked once from main() and again
// from test setup.
func Initialize() {
	InitializeWithEnv(osEnv{})
}

// InitializeWithEnv rebuilds the singleton logger using the supplied
// environment reader, primarily for tests.
func InitializeWithEnv(env envReader) {
	singleton.Store(newLogger(unstructuredLogsWithEnv(env)))
}

// Get returns the current singleton logger.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

func Debug(args ...any) { Get().Debug(args...) }
func Debugf(format string, args ...any) { Get().Debugf(format, args...) }
func Debugw(msg string, kv ...any) { Get().Debugw(msg, kv...) }
func Info(args ...any) { Get().Info(args...) }
func Infof(format string, args ...any) { Get().Infof(format, args...) }
func Infow(msg string, kv ...any) { Get().Infow(msg, kv...) }
func Warn(args ...any) { Get().Warn(args...) }
func Warnf(format string, args ...any) { Get().Warnf(format, args...) }
func Warnw(msg string, kv ...any) { Get().Warnw(msg, kv...) }
func Error(args ...any) { Get().Error(args...) }
func Errorf(format string, args ...any) { Get().Errorf(format, args...) }
func Errorw(msg string, kv ...any) { Get().Errorw(msg, kv...) }
func DPanic(args ...any) { Get().DPanic(args...) }
func DPanicf(format string, args ...any) { Get().DPanicf(format, args...) }
func DPanicw(msg string, kv ...any) { Get().DPanicw(msg, kv...) }
func Panic(args ...any) { Get().Panic(args...) }
func Panicf(format string, args ...any) { Get().Panicf(format, args...) }
func Panicw(msg string, kv ...any) { Get().Panicw(msg, kv...) }
