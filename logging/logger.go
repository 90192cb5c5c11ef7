// Package logging provides the process logger and the protocol debug log.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	Path  string // empty writes to stderr
	Level string // debug, info, warn, error
	JSON  bool
}

var (
	baseMu sync.RWMutex
	base   = zap.NewNop()
)

// Init builds the process logger and installs it globally.
func Init(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !opts.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if opts.Path != "" {
		cfg.OutputPaths = []string{opts.Path}
		cfg.ErrorOutputPaths = []string{opts.Path}
	} else {
		cfg.OutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLogger(logger)
	return logger, nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return l, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// SetLogger installs l as the process logger. A nil l installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	baseMu.Lock()
	base = l
	baseMu.Unlock()
}

// L returns the process logger.
func L() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Named returns a child of the process logger for one component.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes the process logger.
func Sync() {
	_ = L().Sync()
}
