// Package logger wraps zap with the small surface the rest of the module uses.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction
type Config struct {
	Level  string // "debug", "info", "warn" or "error"
	Format string // "json" or "console"

	// Optional rotating log file written in addition to stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a named structured logger
type Logger struct {
	zl *zap.Logger
}

// Field is a structured logging field
type Field = zap.Field

// New creates a logger from the given configuration
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be 'json' or 'console')", cfg.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		// Files always get JSON so they stay machine readable
		fileEncCfg := zap.NewProductionEncoderConfig()
		fileEncCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		w := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncCfg), zapcore.AddSync(w), level))
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{zl: zl}, nil
}

// NewNop returns a logger that discards everything, mainly for tests
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", s)
	}
}

// Named returns a child logger with the given name appended
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.Named(name)}
}

// With returns a child logger that always carries the given fields
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{zl: l.zl.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.zl.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field) { l.zl.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field) { l.zl.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.zl.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.zl.Fatal(msg, fields...) }

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func String(key, val string) Field { return zap.String(key, val) }
func Int(key string, val int) Field { return zap.Int(key, val) }
func Int64(key string, val int64) Field { return zap.Int64(key, val) }
func Float(key string, val float64) Field { return zap.Float64(key, val) }
func Bool(key string, val bool) Field { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }
func Time(key string, val time.Time) Field { return zap.Time(key, val) }
func Any(key string, val interface{}) Field { return zap.Any(key, val) }

// Error creates an "error" field
func Error(err error) Field { return zap.Error(err) }
