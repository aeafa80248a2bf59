// Package logging provides canopy's structured logger.
//
// Every invocation writes two streams through one zap logger:
//   - a console core on stderr for warnings (and debug output with --verbose)
//   - a JSON file core, rotated by lumberjack, that keeps a debug-level trail
//     under the canopy home directory
//
// Several sessions commonly run canopy against the same repository at the
// same time, so each invocation tags its entries with a random invocation id.
//
// Logger methods are nil-safe: a nil *Logger discards everything, which lets
// packages take an optional logger without guarding every call.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds configuration for New.
type Config struct {
	FilePath   string    // Path to the JSON log file; empty disables the file core
	MaxSizeMB  int       // Max size in MB before rotation
	MaxBackups int       // Max number of old log files to keep
	MaxAgeDays int       // Max days to keep old log files
	Verbose    bool      // Lower the console level from warn to debug
	Console    io.Writer // Console destination (default os.Stderr)
}

// Logger is a scoped, leveled, key-value logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds the logger described by cfg. The returned close function flushes
// buffered entries and closes the log file; callers should defer it.
func New(cfg Config) (*Logger, func(), error) {
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 14
	}
	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}

	consoleLevel := zapcore.WarnLevel
	if cfg.Verbose {
		consoleLevel = zapcore.DebugLevel
	}

	consoleCfg := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeName:     zapcore.FullNameEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(cfg.Console), consoleLevel),
	}

	var fileWriter *lumberjack.Logger
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.TimeKey = "ts"
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(fileWriter), zapcore.DebugLevel))
	}

	base := zap.New(zapcore.NewTee(cores...)).With(zap.String("invocation", uuid.NewString()))
	closeFn := func() {
		_ = base.Sync()
		if fileWriter != nil {
			_ = fileWriter.Close()
		}
	}
	return &Logger{sugar: base.Sugar()}, closeFn, nil
}

// NewWithCore wraps an arbitrary zap core. Tests use it with
// zaptest/observer to assert on emitted entries.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{sugar: zap.New(core).Sugar()}
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// Named returns a logger whose entries carry the given scope, e.g.
// "worktree" or "hooks". Scopes nest with dots.
func (l *Logger) Named(scope string) *Logger {
	if l == nil || l.sugar == nil {
		return l
	}
	return &Logger{sugar: l.sugar.Named(scope)}
}

// With returns a logger that adds the key-value pairs to every entry.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.sugar == nil {
		return l
	}
	return &Logger{sugar: l.sugar.With(args...)}
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	if l != nil && l.sugar != nil {
		l.sugar.Debugw(msg, args...)
	}
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	if l != nil && l.sugar != nil {
		l.sugar.Infow(msg, args...)
	}
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	if l != nil && l.sugar != nil {
		l.sugar.Warnw(msg, args...)
	}
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	if l != nil && l.sugar != nil {
		l.sugar.Errorw(msg, args...)
	}
}
