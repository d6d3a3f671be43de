package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &ZapLogger{zl: zap.New(core)}, logs
}

func TestZapLogger(t *testing.T) {
	t.Run("LevelsAndFields", func(t *testing.T) {
		l, logs := newObserved(zap.DebugLevel)

		l.Debug("debug message", map[string]interface{}{"stage": "memory_agent"})
		l.Info("info message")
		l.Warn("warn message", map[string]interface{}{"b": 2, "a": 1})

		entries := logs.All()
		require.Len(t, entries, 3)
		assert.Equal(t, zap.DebugLevel, entries[0].Level)
		assert.Equal(t, "memory_agent", entries[0].ContextMap()["stage"])
		assert.Equal(t, "info message", entries[1].Message)

		// keys are emitted in sorted order
		require.Len(t, entries[2].Context, 2)
		assert.Equal(t, "a", entries[2].Context[0].Key)
		assert.Equal(t, "b", entries[2].Context[1].Key)
	})

	t.Run("ErrorCarriesCause", func(t *testing.T) {
		l, logs := newObserved(zap.InfoLevel)

		l.Error("store failed", errors.New("disk full"), map[string]interface{}{"user_id": "u1"})

		entries := logs.FilterMessage("store failed").All()
		require.Len(t, entries, 1)
		ctx := entries[0].ContextMap()
		assert.Equal(t, "disk full", ctx["error"])
		assert.Equal(t, "u1", ctx["user_id"])
	})

	t.Run("LevelFiltering", func(t *testing.T) {
		l, logs := newObserved(zap.WarnLevel)
		l.Debug("hidden")
		l.Info("hidden")
		l.Warn("shown")
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("WithFields", func(t *testing.T) {
		l, logs := newObserved(zap.InfoLevel)
		child := l.WithFields(map[string]interface{}{"request_id": "req-1"})
		child.Info("scoped")
		l.Info("unscoped")

		entries := logs.All()
		require.Len(t, entries, 2)
		assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
		assert.NotContains(t, entries[1].ContextMap(), "request_id")
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		"info":    zap.InfoLevel,
		"warn":    zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"unknown": zap.InfoLevel,
		"":        zap.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestConstructors(t *testing.T) {
	assert.NotNil(t, NewLogger())
	assert.NotNil(t, NewConsoleLogger("debug"))
	assert.NotNil(t, NewTestLogger())

	nop := NewNopLogger()
	nop.Info("discarded")
	nop.Error("discarded", errors.New("x"))

	t.Run("FileLogger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		l, err := NewFileLogger("info", path)
		require.NoError(t, err)

		l.Info("written to file", map[string]interface{}{"k": "v"})
		require.NoError(t, l.(*ZapLogger).Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(data), `"msg":"written to file"`))
		assert.True(t, strings.Contains(string(data), `"k":"v"`))
	})

	t.Run("FileLoggerBadPath", func(t *testing.T) {
		_, err := NewFileLogger("info", filepath.Join(t.TempDir(), "missing", "dir", "app.log"))
		assert.Error(t, err)
	})
}
