// Package logging configures the process-wide slog logger: a console
// handler plus a JSON file handler with size-based rotation.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log level, console format, and file sink.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // empty disables the file sink
}

// Setup builds the handlers, installs the result as the default logger,
// and returns it.
func Setup(opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)

	var console slog.Handler
	if opts.Format == "json" {
		console = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		console = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}

	handler := console
	if opts.File != "" {
		file := slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    64, // MiB
			MaxBackups: 8,
			MaxAge:     14, // days
		}, &slog.HandlerOptions{Level: level})
		handler = fanout{console, file}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout delivers every record to all member handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
