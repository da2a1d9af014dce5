package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextHelpers checks that WithKV attaches fields to records logged through the context.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())
	ctx = WithName(ctx, "engine")
	ctx = WithKV(ctx, "request_id", "abc")

	InfoKV(ctx, "checked", "available", true)

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "engine", entries[0].LoggerName)
	require.Equal(t, "abc", entries[0].ContextMap()["request_id"])
	require.Equal(t, true, entries[0].ContextMap()["available"])
}

// TestFromContext_FallsBackToGlobal ensures a bare context yields the global logger.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestWithFile writes through the rotating sink.
func TestWithFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "updater.log")
	l := New(zapcore.InfoLevel, WithFile(path, DefaultRotation))

	l.Info("hello file")
	_ = l.Sync()

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "hello file")
}

// TestConfigure_RejectsUnknownLevel leaves the global logger untouched on a bad level.
func TestConfigure_RejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	before := Logger()

	require.ErrorIs(t, Configure("verbose", ""), errUnknownLevel)
	require.Same(t, before, Logger())
}
