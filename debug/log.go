// Package debug owns the process logger. The grid UI takes over the
// terminal, so logs go to a file under ~/.config/midi-daw unless told
// otherwise.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"midi-daw/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu       sync.Mutex
	logger   = zap.NewNop()
	enabled  bool
	counters = make(map[string]int)
)

// New builds a logger from cfg. An empty File logs to stderr in console
// form; a file gets JSON lines.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if cfg.File == "" {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		zc.DisableStacktrace = true
		return zc.Build()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "json"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{cfg.File}
	zc.ErrorOutputPaths = []string{cfg.File}
	zc.Sampling = nil
	return zc.Build()
}

// DefaultFile is ~/.config/midi-daw/debug.log.
func DefaultFile() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "midi-daw-debug.log")
	}
	return filepath.Join(dir, "debug.log")
}

// Enable starts debug logging to the default file.
func Enable() error {
	return EnableWith(config.LogConfig{Level: "debug", File: DefaultFile()})
}

// EnableWith installs a logger built from cfg as the process logger.
func EnableWith(cfg config.LogConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	Set(l)
	l.Info("debug logging started", zap.String("level", cfg.Level), zap.String("file", cfg.File))
	return nil
}

// Set replaces the process logger.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger.Sync()
	logger = l
	enabled = true
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	logger.Sync()
	logger = zap.NewNop()
	enabled = false
}

// Logger returns the process logger, a no-op until Enable.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Named returns the process logger scoped to a component.
func Named(name string) *zap.Logger {
	return Logger().Named(name)
}

// Log writes a printf-style message to the debug log
func Log(category, format string, args ...any) {
	mu.Lock()
	l, on := logger, enabled
	mu.Unlock()
	if !on {
		return
	}
	l.Debug(fmt.Sprintf(format, args...), zap.String("category", category))
}

// LogEvery logs only every N calls (use for high-frequency events)
func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if n > 0 && count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}
