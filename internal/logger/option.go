package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation controls the size-based rotation of the log file.
type Rotation struct {
	// MaxSizeMB is the size in megabytes after which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept on disk.
	MaxBackups int
	// MaxAgeDays is the number of days rotated files are kept.
	MaxAgeDays int
}

// DefaultRotation suits the small writable partitions of embedded devices.
var DefaultRotation = Rotation{ //nolint:gochecknoglobals // Read-only defaults.
	MaxSizeMB:  5,
	MaxBackups: 3,
	MaxAgeDays: 14,
}

// coreWithLevel wraps a zapcore.Core with a specific log level.
type coreWithLevel struct {
	zapcore.Core

	level zapcore.Level
}

// Enabled reports whether the level passes the wrapper's threshold.
func (c *coreWithLevel) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check adds the core to a checked entry if the entry level is enabled.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *coreWithLevel) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// With returns a new core with added fields, keeping the level.
//
//nolint:ireturn // Returning zapcore.Core is intended for zap integration.
func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{
		c.Core.With(fields),
		c.level,
	}
}

// WithLevel pins a logger derived from an existing one to the given level.
//
//nolint:ireturn // Returning zap.Option is intended for zap integration.
func WithLevel(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(
		func(core zapcore.Core) zapcore.Core {
			return &coreWithLevel{core, lvl}
		})
}

// WithFile tees every record into a rotating file at path.
// An empty path leaves the logger unchanged.
//
//nolint:ireturn // Returning zap.Option is intended for zap integration.
func WithFile(path string, rotation Rotation) zap.Option {
	if path == "" {
		return zap.WrapCore(func(core zapcore.Core) zapcore.Core { return core })
	}

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   true,
	}

	return zap.WrapCore(
		func(core zapcore.Core) zapcore.Core {
			fileCore := zapcore.NewCore(consoleEncoder(), zapcore.AddSync(sink), defaultLevel)

			return zapcore.NewTee(core, fileCore)
		})
}

// WithStderr moves console output to stderr, leaving stdout to command results.
//
//nolint:ireturn // Returning zap.Option is intended for zap integration.
func WithStderr() zap.Option {
	return zap.WrapCore(
		func(core zapcore.Core) zapcore.Core {
			return zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stderr), defaultLevel)
		})
}
