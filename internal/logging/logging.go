// Package logging builds the service's slog logger. Output always goes to
// stdout; an optional log file is written through a buffered syncer that
// batches writes and flushes them on an interval.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// DefaultFlushInterval bounds how long a log line may sit in the file buffer.
const DefaultFlushInterval = time.Second

type Options struct {
	Level  string // debug|info|warn|error, or FINE|INFO|WARNING|SEVERE
	Format string // text|json
	File   string // optional path; empty disables file logging

	Stdout        io.Writer
	FlushInterval time.Duration
}

// ParseLevel maps a level name to a slog level. Both the slog names and the
// java.util.logging style names used by older configuration files are
// accepted, case-insensitively.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "fine", "finer", "finest":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "severe":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %#v", name)
	}
}

// Setup returns a logger for opts and a function that flushes and closes
// the log file. The close function is safe to call when no file is used.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	closeFn := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		interval := opts.FlushInterval
		if interval <= 0 {
			interval = DefaultFlushInterval
		}
		buffered := &zapcore.BufferedWriteSyncer{
			WS:            zapcore.AddSync(f),
			FlushInterval: interval,
		}
		out = io.MultiWriter(out, buffered)
		closeFn = func() error {
			stopErr := buffered.Stop()
			if err := f.Close(); err != nil {
				return err
			}
			return stopErr
		}
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, hopts)
	case "json":
		handler = slog.NewJSONHandler(out, hopts)
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("invalid log format: %#v", opts.Format)
	}

	return slog.New(handler), closeFn, nil
}
