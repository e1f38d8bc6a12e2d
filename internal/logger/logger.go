package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/viewra-importer/internal/config"
)

var (
	mu            sync.RWMutex
	defaultLogger hclog.Logger = hclog.New(&hclog.LoggerOptions{
		Name:  "viewra-importer",
		Level: hclog.Info,
	})
)

// New builds the root logger from the logging configuration.
func New(cfg config.LoggingConfig) (hclog.Logger, error) {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		return nil, fmt.Errorf("unknown log level: %q", cfg.Level)
	}

	output, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}

	color := hclog.ColorOff
	if cfg.EnableColors {
		color = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "viewra-importer",
		Level:      level,
		Output:     output,
		JSONFormat: strings.EqualFold(cfg.Format, "json"),
		Color:      color,
	}), nil
}

func openOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("log output is file but no file path is set")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown log output: %q", cfg.Output)
	}
}

// SetDefault replaces the logger behind the package level helpers.
func SetDefault(l hclog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// Default returns the logger behind the package level helpers.
func Default() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Info logs informational messages with key/value pairs
func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

// Warn logs warning messages with key/value pairs
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Error logs error messages with key/value pairs
func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}

// Debug logs debug messages with key/value pairs
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}
