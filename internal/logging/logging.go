// Package logging builds the zap loggers used by the server and the client.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cowtalk/internal/config"
)

// Options selects where log records go.
type Options struct {
	Level string
	// File receives JSON records when set.
	File string
	// Console receives human-readable records when non-nil.
	Console io.Writer
}

// FromConfig maps the [log] section onto Options.
func FromConfig(cfg config.LogConfig, console io.Writer) Options {
	return Options{Level: cfg.Level, File: cfg.File, Console: console}
}

// New builds a logger. With neither a file nor a console it returns a no-op
// logger. The returned close function flushes and closes the file.
func New(opts Options) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var cores []zapcore.Core
	closeFn := func() error { return nil }

	if opts.Console != nil {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(opts.Console),
			level,
		))
	}

	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(file),
			level,
		))
		closeFn = file.Close
	}

	if len(cores) == 0 {
		return zap.NewNop(), closeFn, nil
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}
