// Package logger provides logging implementations for deepresearch
package logger

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/memtensor/deepresearch/pkg/interfaces"
)

// ZapLogger adapts a zap.Logger to interfaces.Logger
type ZapLogger struct {
	zl *zap.Logger
}

// Debug logs debug level messages
func (l *ZapLogger) Debug(msg string, fields ...map[string]interface{}) {
	l.zl.Debug(msg, toZapFields(nil, fields...)...)
}

// Info logs info level messages
func (l *ZapLogger) Info(msg string, fields ...map[string]interface{}) {
	l.zl.Info(msg, toZapFields(nil, fields...)...)
}

// Warn logs warning level messages
func (l *ZapLogger) Warn(msg string, fields ...map[string]interface{}) {
	l.zl.Warn(msg, toZapFields(nil, fields...)...)
}

// Error logs error level messages
func (l *ZapLogger) Error(msg string, err error, fields ...map[string]interface{}) {
	l.zl.Error(msg, toZapFields(err, fields...)...)
}

// Fatal logs fatal level messages and exits
func (l *ZapLogger) Fatal(msg string, err error, fields ...map[string]interface{}) {
	l.zl.Fatal(msg, toZapFields(err, fields...)...)
}

// WithFields returns a child logger carrying the fields on every entry
func (l *ZapLogger) WithFields(fields map[string]interface{}) interfaces.Logger {
	return &ZapLogger{zl: l.zl.With(toZapFields(nil, fields)...)}
}

// Zap exposes the underlying zap logger
func (l *ZapLogger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes any buffered log entries
func (l *ZapLogger) Sync() error {
	return l.zl.Sync()
}

// toZapFields flattens field maps in key order so output is deterministic
func toZapFields(err error, fields ...map[string]interface{}) []zap.Field {
	var out []zap.Field
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for _, fieldMap := range fields {
		keys := make([]string, 0, len(fieldMap))
		for key := range fieldMap {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			out = append(out, zap.Any(key, fieldMap[key]))
		}
	}
	return out
}

// ParseLevel converts a string log level to a zapcore.Level
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func build(level string, output zapcore.WriteSyncer) *ZapLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		output,
		ParseLevel(level),
	)
	return &ZapLogger{zl: zap.New(core)}
}

// NewConsoleLogger creates a JSON logger writing to stderr
func NewConsoleLogger(level string) interfaces.Logger {
	return build(level, zapcore.AddSync(os.Stderr))
}

// NewFileLogger creates a JSON logger appending to path
func NewFileLogger(level, path string) (interfaces.Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return build(level, zapcore.AddSync(f)), nil
}

// NewZapLogger wraps an existing zap logger
func NewZapLogger(zl *zap.Logger) interfaces.Logger {
	return &ZapLogger{zl: zl}
}

// NewTestLogger creates a logger for testing
func NewTestLogger() interfaces.Logger {
	zl, err := zap.NewDevelopment()
	if err != nil {
		return NewNopLogger()
	}
	return &ZapLogger{zl: zl}
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() interfaces.Logger {
	return &ZapLogger{zl: zap.NewNop()}
}

// NewLogger creates a new logger with default settings
func NewLogger() interfaces.Logger {
	return NewConsoleLogger("info")
}
